package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrInvalidUser = errors.New("invalid_user")

// UserDayStats is one user's activity on one civil date, maintained by
// the rollup consumer. Day uses the 2006-01-02 form in the configured
// calendar zone, same as the streak tracker.
type UserDayStats struct {
	UserID snowflake.ID `json:"user_id,string" gorm:"primaryKey"`
	Day    string       `json:"day" gorm:"primaryKey;type:text"`

	BowlsCreated        int64 `json:"bowls_created"`
	BowlsFinalized      int64 `json:"bowls_finalized"`
	TasksTicked         int64 `json:"tasks_ticked"`
	PointsEarned        int64 `json:"points_earned"`
	PointsSpent         int64 `json:"points_spent"`
	VerificationsPassed int64 `json:"verifications_passed"`
	VerificationsFailed int64 `json:"verifications_failed"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (UserDayStats) TableName() string { return "user_day_stats" }

// AreaStats aggregates finalized bowls per area.
type AreaStats struct {
	AreaID snowflake.ID `json:"area_id,string" gorm:"primaryKey"`
	UserID snowflake.ID `json:"user_id,string" gorm:"index"`

	BowlsFinalized  int64      `json:"bowls_finalized"`
	PointsTotal     int64      `json:"points_total"`
	LastFinalizedAt *time.Time `json:"last_finalized_at,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (AreaStats) TableName() string { return "area_stats" }

// StatsRebuildRequest queues a snapshot rebuild. A nil UserID rebuilds
// everyone.
type StatsRebuildRequest struct {
	ID          snowflake.ID  `json:"id,string" gorm:"primaryKey"`
	UserID      *snowflake.ID `json:"user_id,string,omitempty"`
	Status      string        `json:"status" gorm:"type:text;index"`
	Error       string        `json:"error,omitempty" gorm:"type:text"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

func (StatsRebuildRequest) TableName() string { return "stats_rebuild_requests" }
