package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// StreakSummary mirrors the tracker state for display.
type StreakSummary struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// WeekStats aggregates the trailing seven days including today.
type WeekStats struct {
	PointsEarned        int64 `json:"points_earned"`
	BowlsFinalized      int64 `json:"bowls_finalized"`
	TasksTicked         int64 `json:"tasks_ticked"`
	VerificationsPassed int64 `json:"verifications_passed"`
}

// SummaryResponse is the home screen payload.
type SummaryResponse struct {
	Balance int64         `json:"balance"`
	Streak  StreakSummary `json:"streak"`
	Today   UserDayStats  `json:"today"`
	Week    WeekStats     `json:"week"`
}

// HistoryResponse is a day by day series for charts.
type HistoryResponse struct {
	Days []UserDayStats `json:"days"`
}

// ActivityItem is one human readable line in the activity feed.
type ActivityItem struct {
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

type ActivityResponse struct {
	Activity []ActivityItem `json:"activity"`
}

// AreaBreakdownItem pairs an area's snapshot totals with its display
// name. Areas deleted after finalizing bowls keep their totals under a
// placeholder name.
type AreaBreakdownItem struct {
	AreaID          snowflake.ID `json:"area_id"`
	Name            string       `json:"name"`
	BowlsFinalized  int64        `json:"bowls_finalized"`
	PointsTotal     int64        `json:"points_total"`
	LastFinalizedAt *time.Time   `json:"last_finalized_at,omitempty"`
}

// TopStreak is one row of the admin leaderboard.
type TopStreak struct {
	UserID  string `json:"user_id"`
	Current int    `json:"current"`
}

// AdminOverviewResponse aggregates across every household. Reaching it
// requires the dashboard.admin_view capability.
type AdminOverviewResponse struct {
	TotalUsers          int64       `json:"total_users"`
	ActiveToday         int64       `json:"active_today"`
	BowlsFinalizedToday int64       `json:"bowls_finalized_today"`
	PointsEarnedToday   int64       `json:"points_earned_today"`
	PendingEvents       int64       `json:"pending_events"`
	TopStreaks          []TopStreak `json:"top_streaks"`
}

type Service interface {
	Summary(ctx context.Context) (SummaryResponse, error)
	History(ctx context.Context, days int) (HistoryResponse, error)
	Activity(ctx context.Context, limit int) (ActivityResponse, error)
	AreaBreakdown(ctx context.Context) ([]AreaBreakdownItem, error)
	AdminOverview(ctx context.Context) (AdminOverviewResponse, error)
}
