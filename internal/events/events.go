package events

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Event types emitted by the domain services. Consumers (dashboard
// rollup, cloud metrics) react to these asynchronously.
const (
	EventBowlCreated           = "bowl.created"
	EventTaskTicked            = "bowl.task_ticked"
	EventBowlTasksCompleted    = "bowl.tasks_completed"
	EventVerificationRequested = "bowl.verification_requested"
	EventVerificationJudged    = "bowl.verification_judged"
	EventBowlFinalized         = "bowl.finalized"
	EventLedgerEntryCreated    = "ledger.entry_created"
	EventStreakExtended        = "streak.extended"
	EventStreakReset           = "streak.reset"
	EventFilterPurchased       = "shop.filter_purchased"
	EventAreaCreated           = "area.created"
	EventAreaDeleted           = "area.deleted"
	EventUserSignedUp          = "auth.user_signed_up"
)

// Event is the unit handed to the outbox. DedupeKey makes publication
// idempotent per user; an empty key skips deduplication.
type Event struct {
	UserID    snowflake.ID
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// OutboxEvent is the persisted outbox row. Rows are written in the
// same transaction as the domain change and consumed by background
// jobs, so an event exists iff its originating change committed.
type OutboxEvent struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	UserID      snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_outbox_event_dedupe,priority:1"`
	EventType   string            `gorm:"type:text;not null"`
	Payload     datatypes.JSONMap `gorm:"type:jsonb;not null"`
	DedupeKey   *string           `gorm:"type:text;uniqueIndex:ux_outbox_event_dedupe,priority:2"`
	Published   bool              `gorm:"not null;default:false"`
	PublishedAt *time.Time        `gorm:""`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OutboxEvent) TableName() string { return "outbox_events" }

// BowlFinalizedPayload is the payload for EventBowlFinalized.
type BowlFinalizedPayload struct {
	BowlID     string
	AreaID     string
	Tier       string
	Verdict    string
	BasePoints int64
	Total      int64
}

func (p BowlFinalizedPayload) ToMap() map[string]any {
	out := map[string]any{
		"bowl_id":     p.BowlID,
		"tier":        p.Tier,
		"base_points": p.BasePoints,
		"total":       p.Total,
	}
	if p.AreaID != "" {
		out["area_id"] = p.AreaID
	}
	if p.Verdict != "" {
		out["verdict"] = p.Verdict
	}
	return out
}

// LedgerEntryCreatedPayload is the payload for EventLedgerEntryCreated.
type LedgerEntryCreatedPayload struct {
	LedgerEntryID string
	Kind          string
	SourceID      string
	Points        int64
}

func (p LedgerEntryCreatedPayload) ToMap() map[string]any {
	return map[string]any{
		"ledger_entry_id": p.LedgerEntryID,
		"kind":            p.Kind,
		"source_id":       p.SourceID,
		"points":          p.Points,
	}
}
