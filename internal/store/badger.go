package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/logger"
)

// BadgerStore keeps events in an embedded badger database.
type BadgerStore struct {
	db    *badger.DB
	log   *logger.Logger
	clock *clock
	limit int
}

// OpenBadger opens the database in dir. An empty dir keeps everything in memory.
func OpenBadger(dir string, limit int, log *logger.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %v", chat.ErrStoreUnavailable, err)
	}
	s := &BadgerStore{
		db:    db,
		log:   log.With("store", "BadgerStore"),
		clock: newClock(),
		limit: resolveLimit(limit, chat.DefaultHistoryLimit),
	}

	newest, err := s.newestKeyTime()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: scan badger keys: %v", chat.ErrStoreUnavailable, err)
	}
	s.clock.seed(newest)
	return s, nil
}

// channelPrefix length-prefixes the channel name so that no channel's keys
// are a prefix match for another channel, whatever bytes the names contain.
func channelPrefix(channel string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:", eventKeyPrefix, len(channel), channel))
}

const (
	eventKeyPrefix = "evt:"
	timestampWidth = 19
)

// eventKey is "evt:{len(channel)}:{channel}:{unixnano, 19 digits}:{id}"; the
// zero padding makes lexicographic order chronological.
func eventKey(e chat.Event) []byte {
	return append(channelPrefix(e.Channel), fmt.Sprintf("%0*d:%s", timestampWidth, e.CreatedAt.UnixNano(), e.ID)...)
}

// keyTime extracts the creation time encoded in an event key.
func keyTime(key []byte) (time.Time, bool) {
	rest, ok := bytes.CutPrefix(key, []byte(eventKeyPrefix))
	if !ok {
		return time.Time{}, false
	}
	sep := bytes.IndexByte(rest, ':')
	if sep < 0 {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(string(rest[:sep]))
	if err != nil {
		return time.Time{}, false
	}
	start := sep + 1 + n + 1
	if n < 0 || len(rest) < start+timestampWidth {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(string(rest[start:start+timestampWidth]), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}

// newestKeyTime scans every event key, without values, for the latest timestamp.
func (s *BadgerStore) newestKeyTime() (time.Time, error) {
	var newest time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(eventKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if t, ok := keyTime(it.Item().Key()); ok && t.After(newest) {
				newest = t
			}
		}
		return nil
	})
	return newest, err
}

func (s *BadgerStore) Append(ctx context.Context, event *chat.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := chat.Event{
		ID:        uuid.NewString(),
		Username:  event.Username,
		Message:   event.Message,
		Channel:   resolveChannel(event.Channel),
		Type:      event.Type,
		CreatedAt: s.clock.next(),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(rec), value)
	})
	if err != nil {
		return fmt.Errorf("%w: write event: %v", chat.ErrStoreUnavailable, err)
	}
	*event = rec
	return nil
}

// QueryRecent walks the channel prefix backwards from its newest key.
func (s *BadgerStore) QueryRecent(ctx context.Context, channel string, limit int) ([]chat.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = resolveLimit(limit, s.limit)
	prefix := channelPrefix(resolveChannel(channel))

	events := make([]chat.Event, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(append([]byte{}, prefix...), 0xff)); it.ValidForPrefix(prefix); it.Next() {
			if len(events) == limit {
				break
			}
			err := it.Item().Value(func(value []byte) error {
				var e chat.Event
				if err := json.Unmarshal(value, &e); err != nil {
					return err
				}
				events = append(events, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan events: %v", chat.ErrStoreUnavailable, err)
	}
	return lo.Reverse(events), nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
