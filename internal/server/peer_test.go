package server

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakePeer records frames in memory. err and panics simulate broken transports.
type fakePeer struct {
	id     string
	err    error
	panics bool
	onSend func(frame []byte)

	mu     sync.Mutex
	frames [][]byte
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(frame []byte) error {
	if p.panics {
		panic("transport exploded")
	}
	if p.err != nil {
		return p.err
	}
	if p.onSend != nil {
		p.onSend(frame)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frame)
	return nil
}

func (p *fakePeer) received() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.frames...)
}

func (p *fakePeer) decoded(t *testing.T) []map[string]any {
	t.Helper()
	frames := p.received()
	out := make([]map[string]any, 0, len(frames))
	for _, f := range frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}
