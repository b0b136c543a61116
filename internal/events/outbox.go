package events

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/babcialabs/babcia/internal/clock"
)

type OutboxParams struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

// Outbox persists events transactionally with the domain change that
// produced them. Duplicate dedupe keys are silently dropped.
type Outbox struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(p OutboxParams) *Outbox {
	return &Outbox{
		db:    p.DB,
		log:   p.Log.Named("events.outbox"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// Publish inserts the event outside any caller transaction.
func (o *Outbox) Publish(ctx context.Context, event Event) error {
	return o.PublishTx(ctx, o.db, event)
}

// PublishTx inserts the event using the caller's transaction handle so
// the event commits or rolls back together with the domain change.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if tx == nil {
		tx = o.db
	}

	eventType := strings.TrimSpace(event.Type)
	if eventType == "" {
		return nil
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	var dedupeKey *string
	if key := strings.TrimSpace(event.DedupeKey); key != "" {
		dedupeKey = &key
	}

	row := OutboxEvent{
		ID:        o.genID.Generate(),
		UserID:    event.UserID,
		EventType: eventType,
		Payload:   payload,
		DedupeKey: dedupeKey,
		CreatedAt: o.clock.Now().UTC(),
	}

	result := tx.WithContext(ctx).Exec(
		`INSERT INTO outbox_events (id, user_id, event_type, payload, dedupe_key, published, created_at)
		 VALUES (?, ?, ?, ?, ?, false, ?)
		 ON CONFLICT (user_id, dedupe_key) DO NOTHING`,
		row.ID,
		row.UserID,
		row.EventType,
		row.Payload,
		row.DedupeKey,
		row.CreatedAt,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		o.log.Debug("outbox event deduplicated",
			zap.String("event_type", eventType),
			zap.Stringp("dedupe_key", dedupeKey),
		)
	}
	return nil
}

// PendingCount reports unpublished rows for backlog gauges.
func (o *Outbox) PendingCount(ctx context.Context) (int64, error) {
	var count int64
	err := o.db.WithContext(ctx).
		Model(&OutboxEvent{}).
		Where("published = ?", false).
		Count(&count).Error
	return count, err
}

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
	fx.Provide(NewLoggingDispatcher),
)
