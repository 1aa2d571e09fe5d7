package chat

import "errors"

var (
	// ErrMalformedPayload marks an inbound frame that is not a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrValidationFailed marks a well-formed frame missing required fields.
	ErrValidationFailed = errors.New("validation failed")
	// ErrPersistenceFailed marks a write that the store did not accept.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrStoreUnavailable marks a backing datastore that cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Kind maps err onto the short code used in error envelopes.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrValidationFailed):
		return "validation_failed"
	case errors.Is(err, ErrPersistenceFailed):
		return "persistence_failed"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
