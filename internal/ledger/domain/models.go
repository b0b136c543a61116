package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryKind classifies why points moved.
type EntryKind string

const (
	// EntryKindTaskTick is the immediate reward for ticking a single task.
	EntryKindTaskTick EntryKind = "task_tick"

	// EntryKindVerificationBonus is the single finalization entry for a
	// verified bowl. It covers both verdicts: the amount is the verified
	// total minus the base already granted through task ticks.
	EntryKindVerificationBonus EntryKind = "verification_bonus"

	// EntryKindVerificationPenaltyAdjustment is a signed correction applied
	// by an operator against a specific verification outcome.
	EntryKindVerificationPenaltyAdjustment EntryKind = "verification_penalty_adjustment"

	// EntryKindShopDebit is a filter purchase.
	EntryKindShopDebit EntryKind = "shop_debit"
)

func (k EntryKind) Valid() bool {
	switch k {
	case EntryKindTaskTick,
		EntryKindVerificationBonus,
		EntryKindVerificationPenaltyAdjustment,
		EntryKindShopDebit:
		return true
	}
	return false
}

// Entry is one append-only row in a user's points ledger. Entries are never
// updated or deleted; a balance is always the sum of a user's entries.
type Entry struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID snowflake.ID `gorm:"index;uniqueIndex:ux_ledger_entries_source,priority:1" json:"user_id"`

	// BowlID links reward entries back to the bowl that produced them.
	// Shop debits carry no bowl.
	BowlID *snowflake.ID `gorm:"index" json:"bowl_id,omitempty"`

	Kind EntryKind `gorm:"type:text;uniqueIndex:ux_ledger_entries_source,priority:2" json:"kind"`

	// SourceID names the object the entry settles: the task for a tick, the
	// bowl for a verification bonus, the filter slug for a shop debit. The
	// (user, kind, source) triple is unique so replays cannot double-post.
	SourceID string `gorm:"type:text;uniqueIndex:ux_ledger_entries_source,priority:3" json:"source_id"`

	// Points is signed: credits positive, debits negative.
	Points int64 `gorm:"not null" json:"points"`

	OccurredAt time.Time `gorm:"index" json:"occurred_at"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (Entry) TableName() string {
	return "ledger_entries"
}
