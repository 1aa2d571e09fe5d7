package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// nocontrol rejects NUL and other control characters.
	_ = v.RegisterValidation("nocontrol", func(fl validator.FieldLevel) bool {
		return strings.IndexFunc(fl.Field().String(), unicode.IsControl) < 0
	})
	return v
}

// Inbound is a client request frame. Message is a pointer so an absent field
// can be told apart from an empty string.
type Inbound struct {
	Type        EventType `json:"type" validate:"required,oneof=message username_change get_history"`
	Username    string    `json:"username" validate:"max=64,nocontrol"`
	OldUsername string    `json:"oldUsername" validate:"max=64,nocontrol"`
	Message     *string   `json:"message"`
	Channel     string    `json:"channel" validate:"max=64,nocontrol"`
}

// ParseInbound decodes and validates a raw frame.
func ParseInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	return in, nil
}

// ResolvedChannel returns the target channel, falling back to DefaultChannel.
func (in Inbound) ResolvedChannel() string {
	if ch := strings.TrimSpace(in.Channel); ch != "" {
		return ch
	}
	return DefaultChannel
}

// ResolvedUsername returns the author, falling back to OldUsername.
func (in Inbound) ResolvedUsername() string {
	if in.Username != "" {
		return in.Username
	}
	return in.OldUsername
}

// ToEvent builds the unpersisted event for a message or username_change frame.
func (in Inbound) ToEvent() (Event, error) {
	if !in.Type.Persistent() {
		return Event{}, fmt.Errorf("%w: %q is not a writable event type", ErrValidationFailed, in.Type)
	}
	if in.Message == nil {
		return Event{}, fmt.Errorf("%w: message is required", ErrValidationFailed)
	}
	username := in.ResolvedUsername()
	if username == "" {
		return Event{}, fmt.Errorf("%w: username is required", ErrValidationFailed)
	}
	return Event{
		Username: username,
		Message:  *in.Message,
		Channel:  in.ResolvedChannel(),
		Type:     in.Type,
	}, nil
}
