package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrInvalidUser = errors.New("invalid_user")

const (
	OutcomeStarted   = "started"
	OutcomeExtended  = "extended"
	OutcomeReset     = "reset"
	OutcomeUnchanged = "unchanged"
)

// State is one user's streak: how many consecutive calendar days they
// started at least one bowl. Counted at most once per day, only from
// bowl-creating photos. Verification photos never touch it.
type State struct {
	UserID snowflake.ID `gorm:"primaryKey" json:"user_id"`

	Current int `gorm:"not null" json:"current"`
	Longest int `gorm:"not null" json:"longest"`

	// LastCountedDay is the civil date (2006-01-02) of the last photo
	// that counted, in the configured calendar zone. Empty means the
	// streak never started.
	LastCountedDay string `gorm:"type:text" json:"last_counted_day"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (State) TableName() string {
	return "streak_states"
}

// RecordResult reports what one photo did to the streak.
type RecordResult struct {
	State   State  `json:"state"`
	Outcome string `json:"outcome"`
}

type Tracker interface {
	// RecordAreaPhoto counts the photo's calendar day toward the streak.
	// Same day twice is a no-op; the day after extends; a gap resets to 1.
	RecordAreaPhoto(ctx context.Context, userID snowflake.ID, takenAt time.Time) (RecordResult, error)

	// Current returns the stored streak, zero-valued if none exists.
	Current(ctx context.Context, userID snowflake.ID) (State, error)
}
