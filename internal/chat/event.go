// Package chat defines the chat event model, the error taxonomy, and the JSON
// envelopes exchanged with websocket clients.
package chat

import (
	"encoding/json"
	"time"
)

// DefaultChannel is the channel applied to events and history requests that
// omit one.
const DefaultChannel = "#general"

// DefaultHistoryLimit bounds history replay when no explicit limit is configured.
const DefaultHistoryLimit = 50

// EventType discriminates inbound requests and outbound envelopes.
type EventType string

const (
	TypeMessage        EventType = "message"
	TypeUsernameChange EventType = "username_change"
	TypeGetHistory     EventType = "get_history"
	TypeHistory        EventType = "history"
	TypeError          EventType = "error"
)

// Persistent reports whether events of this type are written to the store and
// fanned out to a channel.
func (t EventType) Persistent() bool {
	return t == TypeMessage || t == TypeUsernameChange
}

// Event is a persisted chat record. ID and CreatedAt are assigned by the store
// that accepted the event and never change afterwards.
type Event struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Channel   string    `json:"channel"`
	Type      EventType `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// HistoryEnvelope carries a chronological slice of a channel's events.
type HistoryEnvelope struct {
	Type     EventType `json:"type"`
	Channel  string    `json:"channel,omitempty"`
	Messages []Event   `json:"messages"`
}

// ErrorEnvelope tells a sender that its frame was not accepted.
type ErrorEnvelope struct {
	Type    EventType `json:"type"`
	Error   string    `json:"error"`
	Message string    `json:"message,omitempty"`
}

// EncodeEvent renders the fan-out frame for a persisted event.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// EncodeHistory renders a history envelope. A nil slice is sent as an empty array.
func EncodeHistory(channel string, events []Event) ([]byte, error) {
	if events == nil {
		events = []Event{}
	}
	return json.Marshal(HistoryEnvelope{
		Type:     TypeHistory,
		Channel:  channel,
		Messages: events,
	})
}

// EncodeError renders an error envelope for err.
func EncodeError(err error) ([]byte, error) {
	return json.Marshal(ErrorEnvelope{
		Type:    TypeError,
		Error:   Kind(err),
		Message: err.Error(),
	})
}
