// Package server defines the Peer abstraction shared by the registry,
// broadcaster and pipeline, plus small utility helpers.
package server

import (
	"errors"
	"strings"
)

var (
	// ErrPeerClosed is returned when sending to a connection that is shutting down.
	ErrPeerClosed = errors.New("peer closed")
	// ErrSendBufferFull is returned when a connection's outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Peer is a live connection that can be handed outbound frames. Send must not
// block; a peer that cannot accept a frame right now returns ErrPeerClosed or
// ErrSendBufferFull.
type Peer interface {
	ID() string
	Send(frame []byte) error
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
