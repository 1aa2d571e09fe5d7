package store

import (
	"context"
	"fmt"

	"github.com/Tyrowin/gochat/internal/chat"
)

// Unavailable stands in for a store that could not be opened at startup. The
// relay keeps accepting connections while every read and write fails.
type Unavailable struct {
	Cause error
}

func (u Unavailable) Append(context.Context, *chat.Event) error {
	return u.err()
}

func (u Unavailable) QueryRecent(context.Context, string, int) ([]chat.Event, error) {
	return nil, u.err()
}

func (u Unavailable) Close() error { return nil }

func (u Unavailable) err() error {
	if u.Cause == nil {
		return chat.ErrStoreUnavailable
	}
	return fmt.Errorf("%w: %v", chat.ErrStoreUnavailable, u.Cause)
}
