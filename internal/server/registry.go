// Package server keeps channel membership for live connections in the Registry.
package server

import (
	"sync"

	"github.com/samber/lo"
)

// Registry maps live peers to the single channel each one listens to. All
// mutations go through one mutex so concurrent joins and leaves cannot lose
// updates, and MembersOf returns a copy taken under the same lock.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]Peer // channel -> peer id -> peer
	current  map[string]string          // peer id -> channel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]map[string]Peer),
		current:  make(map[string]string),
	}
}

// Join makes channel the peer's only membership. Joining the channel the peer
// is already in is a no-op. It reports whether membership changed.
func (r *Registry) Join(p Peer, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if prev, ok := r.current[id]; ok {
		if prev == channel {
			return false
		}
		r.removeLocked(id, prev)
	}

	members, ok := r.channels[channel]
	if !ok {
		members = make(map[string]Peer)
		r.channels[channel] = members
	}
	members[id] = p
	r.current[id] = channel
	return true
}

// Leave drops every membership the peer holds. Unknown peers are ignored.
func (r *Registry) Leave(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := p.ID()
	if channel, ok := r.current[id]; ok {
		r.removeLocked(id, channel)
	}
}

func (r *Registry) removeLocked(id, channel string) {
	delete(r.current, id)
	if members, ok := r.channels[channel]; ok {
		delete(members, id)
		if len(members) == 0 {
			delete(r.channels, channel)
		}
	}
}

// MembersOf returns a snapshot of the peers currently in channel.
func (r *Registry) MembersOf(channel string) []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Values(r.channels[channel])
}

// ChannelOf returns the channel the peer is in, if any.
func (r *Registry) ChannelOf(p Peer) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channel, ok := r.current[p.ID()]
	return channel, ok
}

// Len returns the number of peers with a membership.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.current)
}

// Counts returns member counts per channel.
func (r *Registry) Counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.MapValues(r.channels, func(members map[string]Peer, _ string) int {
		return len(members)
	})
}
