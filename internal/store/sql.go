package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/Tyrowin/gochat/internal/chat"
	"github.com/Tyrowin/gochat/internal/logger"
)

type eventRecord struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	Channel   string    `gorm:"not null;index:idx_chat_events_channel_created,priority:1"`
	CreatedAt time.Time `gorm:"not null;index:idx_chat_events_channel_created,priority:2"`
	Username  string
	Message   string `gorm:"type:text"`
	Type      string `gorm:"not null"`
}

func (eventRecord) TableName() string { return "chat_events" }

func (r eventRecord) toEvent() chat.Event {
	return chat.Event{
		ID:        r.ID,
		Username:  r.Username,
		Message:   r.Message,
		Channel:   r.Channel,
		Type:      chat.EventType(r.Type),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

// SQLStore keeps events in the chat_events table of a gorm database.
type SQLStore struct {
	db    *gorm.DB
	log   *logger.Logger
	clock *clock
	limit int
}

// OpenSQL opens a postgres or sqlite database, migrates the schema and
// verifies the connection.
func OpenSQL(ctx context.Context, driver, dsn string, limit int, log *logger.Logger) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported sql driver %q", chat.ErrStoreUnavailable, driver)
	}

	log.Info("Connecting to event store...")
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", chat.ErrStoreUnavailable, driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrStoreUnavailable, err)
	}
	if driver == DriverSQLite {
		// sqlite allows one writer; in-memory databases are also per connection.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", chat.ErrStoreUnavailable, driver, err)
	}

	s, err := NewSQLStore(db, limit, log)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.Info("Event store ready")
	return s, nil
}

// NewSQLStore wraps an already open database and migrates the events table.
func NewSQLStore(db *gorm.DB, limit int, log *logger.Logger) (*SQLStore, error) {
	if err := db.AutoMigrate(&eventRecord{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", chat.ErrStoreUnavailable, err)
	}
	s := &SQLStore{
		db:    db,
		log:   log.With("store", "SQLStore"),
		clock: newClock(),
		limit: resolveLimit(limit, chat.DefaultHistoryLimit),
	}

	var newest []eventRecord
	if err := db.Order("created_at DESC").Limit(1).Find(&newest).Error; err != nil {
		return nil, fmt.Errorf("%w: read newest event: %v", chat.ErrStoreUnavailable, err)
	}
	if len(newest) > 0 {
		s.clock.seed(newest[0].CreatedAt)
	}
	return s, nil
}

func (s *SQLStore) Append(ctx context.Context, event *chat.Event) error {
	rec := eventRecord{
		ID:        uuid.NewString(),
		Channel:   resolveChannel(event.Channel),
		CreatedAt: s.clock.next(),
		Username:  event.Username,
		Message:   event.Message,
		Type:      string(event.Type),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("%w: insert event: %v", chat.ErrStoreUnavailable, err)
	}
	*event = rec.toEvent()
	return nil
}

func (s *SQLStore) QueryRecent(ctx context.Context, channel string, limit int) ([]chat.Event, error) {
	var rows []eventRecord
	err := s.db.WithContext(ctx).
		Model(&eventRecord{}).
		Where("channel = ?", resolveChannel(channel)).
		Order("created_at DESC").
		Order("id DESC").
		Limit(resolveLimit(limit, s.limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", chat.ErrStoreUnavailable, err)
	}
	events := lo.Map(rows, func(r eventRecord, _ int) chat.Event { return r.toEvent() })
	// Normalize to ASC for clients.
	return lo.Reverse(events), nil
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
