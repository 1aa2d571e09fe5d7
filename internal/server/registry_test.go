package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memberIDs(peers []Peer) []string {
	return lo.Map(peers, func(p Peer, _ int) string { return p.ID() })
}

func TestRegistryJoinAndMembersOf(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	alice, bob, carol := newFakePeer("alice"), newFakePeer("bob"), newFakePeer("carol")

	req.True(r.Join(alice, "#general"))
	req.True(r.Join(bob, "#general"))
	req.True(r.Join(carol, "#random"))

	req.ElementsMatch([]string{"alice", "bob"}, memberIDs(r.MembersOf("#general")))
	req.ElementsMatch([]string{"carol"}, memberIDs(r.MembersOf("#random")))
	req.Empty(r.MembersOf("#nobody"))
	req.Equal(3, r.Len())
	req.Equal(map[string]int{"#general": 2, "#random": 1}, r.Counts())
}

// TestRegistryJoinIsIdempotent verifies that rejoining the same channel is a
// no-op and joining another channel replaces the membership.
func TestRegistryJoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	r := NewRegistry()
	alice := newFakePeer("alice")

	req.True(r.Join(alice, "#general"))
	req.False(r.Join(alice, "#general"))
	req.Len(r.MembersOf("#general"), 1)

	req.True(r.Join(alice, "#random"))
	req.Empty(r.MembersOf("#general"))
	req.ElementsMatch([]string{"alice"}, memberIDs(r.MembersOf("#random")))

	channel, ok := r.ChannelOf(alice)
	req.True(ok)
	req.Equal("#random", channel)
	req.NotContains(r.Counts(), "#general", "empty channels are dropped")
}

// TestRegistryLeaveUnknownPeer checks that leaving twice, or without ever
// joining, is harmless and leaves other members alone.
func TestRegistryLeaveUnknownPeer(t *testing.T) {
	r := NewRegistry()
	alice, ghost := newFakePeer("alice"), newFakePeer("ghost")
	r.Join(alice, "#general")

	assert.NotPanics(t, func() {
		r.Leave(ghost)
		r.Leave(alice)
		r.Leave(alice)
	})
	assert.Empty(t, r.MembersOf("#general"))

	r.Join(alice, "#general")
	r.Leave(ghost)
	assert.ElementsMatch(t, []string{"alice"}, memberIDs(r.MembersOf("#general")))

	_, ok := r.ChannelOf(ghost)
	assert.False(t, ok)
}

// TestRegistrySnapshot verifies MembersOf returns a copy unaffected by later joins.
func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	r.Join(newFakePeer("a"), "#general")

	snapshot := r.MembersOf("#general")
	r.Join(newFakePeer("b"), "#general")

	assert.Len(t, snapshot, 1)
	assert.Len(t, r.MembersOf("#general"), 2)
}

// TestRegistryConcurrentJoinLeave hammers the registry from many goroutines and
// checks each peer ends up in exactly one channel.
func TestRegistryConcurrentJoinLeave(t *testing.T) {
	r := NewRegistry()
	channels := []string{"#a", "#b", "#c"}

	const peers = 50
	var wg sync.WaitGroup
	for i := 0; i < peers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := newFakePeer(fmt.Sprintf("peer-%d", i))
			for j := 0; j < 20; j++ {
				r.Join(p, channels[(i+j)%len(channels)])
				_ = r.MembersOf(channels[j%len(channels)])
				if j%7 == 0 {
					r.Leave(p)
				}
			}
			r.Join(p, channels[i%len(channels)])
		}(i)
	}
	wg.Wait()

	total := 0
	seen := map[string]bool{}
	for _, ch := range channels {
		for _, id := range memberIDs(r.MembersOf(ch)) {
			require.False(t, seen[id], "%s is in two channels", id)
			seen[id] = true
			total++
		}
	}
	assert.Equal(t, peers, total)
	assert.Equal(t, peers, r.Len())
}
