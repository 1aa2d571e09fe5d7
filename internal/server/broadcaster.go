// Package server fans persisted events out to channel members via the Broadcaster.
package server

import (
	"errors"
	"fmt"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/logger"
)

// OverflowPolicy decides what happens to a peer whose send buffer is full.
type OverflowPolicy string

const (
	// OverflowDrop skips the frame for that peer only.
	OverflowDrop OverflowPolicy = "drop"
	// OverflowDisconnect skips the frame and disconnects the peer.
	OverflowDisconnect OverflowPolicy = "disconnect"
)

// Broadcaster delivers frames to every member of a channel. Delivery is
// best-effort and at most once per peer: unsendable peers are skipped and
// nothing is queued for later.
type Broadcaster struct {
	registry *Registry
	log      *logger.Logger
	policy   OverflowPolicy
	evict    func(Peer)
}

// NewBroadcaster creates a broadcaster over registry. evict is called for
// peers with a full buffer when policy is OverflowDisconnect; it may be nil.
func NewBroadcaster(registry *Registry, policy OverflowPolicy, evict func(Peer), log *logger.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		log:      log.With("component", "broadcaster"),
		policy:   policy,
		evict:    evict,
	}
}

// Broadcast sends the event to every member of channel and returns how many
// peers accepted it.
func (b *Broadcaster) Broadcast(channel string, event chat.Event) (int, error) {
	frame, err := chat.EncodeEvent(event)
	if err != nil {
		return 0, fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	return b.BroadcastFrame(channel, frame), nil
}

// BroadcastFrame sends an already encoded frame to every member of channel.
func (b *Broadcaster) BroadcastFrame(channel string, frame []byte) int {
	members := b.registry.MembersOf(channel)
	b.log.Debug("Broadcasting frame", "channel", channel, "members", len(members))

	delivered := 0
	var overflowed []Peer
	for _, peer := range members {
		err := safeSend(peer, frame)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrSendBufferFull):
			b.log.Warn("Skipping peer with full send buffer", "peer", peer.ID(), "channel", channel)
			overflowed = append(overflowed, peer)
		case errors.Is(err, ErrPeerClosed):
		default:
			b.log.Warn("Send to peer failed", "peer", peer.ID(), "channel", channel, "error", err)
		}
	}

	if b.policy == OverflowDisconnect && b.evict != nil {
		for _, peer := range overflowed {
			b.evict(peer)
		}
	}
	return delivered
}

// safeSend isolates one peer's failure, including a panic, from the rest of
// the fan-out.
func safeSend(peer Peer, frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in send: %v", r)
		}
	}()
	return peer.Send(frame)
}
