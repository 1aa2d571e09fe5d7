//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

// Package store persists chat events and serves bounded, channel-scoped history.
//
// Every backend assigns the event identity and creation time itself, so callers
// only learn an event's ID once the write has been accepted.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/logger"
)

// Supported values for Config.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Store is the append-only event log.
type Store interface {
	// Append persists event and fills in its ID and CreatedAt. Prior records
	// are never touched.
	Append(ctx context.Context, event *chat.Event) error
	// QueryRecent returns at most limit of the newest events in channel,
	// oldest first.
	QueryRecent(ctx context.Context, channel string, limit int) ([]chat.Event, error)
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Driver       string
	DSN          string
	HistoryLimit int
}

// Open connects to the configured backend. Any failure is reported as
// chat.ErrStoreUnavailable.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (Store, error) {
	log = log.With("component", "store", "driver", cfg.Driver)
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = chat.DefaultHistoryLimit
	}

	switch driver := strings.ToLower(cfg.Driver); driver {
	case DriverSQLite, DriverPostgres:
		s, err := OpenSQL(ctx, driver, cfg.DSN, cfg.HistoryLimit, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverBadger:
		s, err := OpenBadger(cfg.DSN, cfg.HistoryLimit, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", chat.ErrStoreUnavailable, cfg.Driver)
	}
}

// clock hands out strictly increasing UTC timestamps at microsecond
// resolution, the finest precision every backend keeps.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newClock() *clock {
	return &clock{now: time.Now}
}

// seed makes every later timestamp come after t, the newest one already
// stored, so records keep sorting after existing history across restarts.
func (c *clock) seed(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t = t.UTC(); t.After(c.last) {
		c.last = t
	}
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}

func resolveLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return limit
}

func resolveChannel(channel string) string {
	if channel == "" {
		return chat.DefaultChannel
	}
	return channel
}
