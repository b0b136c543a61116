package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/config"
	dashboarddomain "github.com/babcialabs/babcia/internal/dashboard/domain"
	"github.com/babcialabs/babcia/internal/identity"
)

const dayLayout = "2006-01-02"

type Params struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	loc   *time.Location
}

func NewService(p Params) dashboarddomain.Service {
	loc, err := time.LoadLocation(p.Config.StreakTimezone)
	if err != nil {
		loc = time.UTC
	}

	return &Service{
		db:    p.DB,
		log:   p.Log.Named("dashboard.service"),
		clock: p.Clock,
		loc:   loc,
	}
}

func (s *Service) Summary(ctx context.Context) (dashboarddomain.SummaryResponse, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return dashboarddomain.SummaryResponse{}, dashboarddomain.ErrInvalidUser
	}

	var resp dashboarddomain.SummaryResponse

	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(points), 0) FROM ledger_entries WHERE user_id = ?`,
		userID,
	).Scan(&resp.Balance).Error; err != nil {
		return dashboarddomain.SummaryResponse{}, err
	}

	var streakRow struct {
		Current int `gorm:"column:current"`
		Longest int `gorm:"column:longest"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT current, longest FROM streak_states WHERE user_id = ?`,
		userID,
	).Scan(&streakRow).Error; err != nil {
		return dashboarddomain.SummaryResponse{}, err
	}
	resp.Streak = dashboarddomain.StreakSummary{Current: streakRow.Current, Longest: streakRow.Longest}

	today := s.clock.Now().In(s.loc).Format(dayLayout)
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM user_day_stats WHERE user_id = ? AND day = ?`,
		userID,
		today,
	).Scan(&resp.Today).Error; err != nil {
		return dashboarddomain.SummaryResponse{}, err
	}
	resp.Today.UserID = userID
	resp.Today.Day = today

	weekStart := s.clock.Now().In(s.loc).AddDate(0, 0, -6).Format(dayLayout)
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(points_earned), 0) AS points_earned,
		        COALESCE(SUM(bowls_finalized), 0) AS bowls_finalized,
		        COALESCE(SUM(tasks_ticked), 0) AS tasks_ticked,
		        COALESCE(SUM(verifications_passed), 0) AS verifications_passed
		 FROM user_day_stats
		 WHERE user_id = ? AND day >= ?`,
		userID,
		weekStart,
	).Scan(&resp.Week).Error; err != nil {
		return dashboarddomain.SummaryResponse{}, err
	}

	return resp, nil
}

func (s *Service) History(ctx context.Context, days int) (dashboarddomain.HistoryResponse, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return dashboarddomain.HistoryResponse{}, dashboarddomain.ErrInvalidUser
	}
	if days <= 0 {
		days = 14
	}
	if days > 90 {
		days = 90
	}

	since := s.clock.Now().In(s.loc).AddDate(0, 0, -(days - 1)).Format(dayLayout)

	var rows []dashboarddomain.UserDayStats
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM user_day_stats
		 WHERE user_id = ? AND day >= ?
		 ORDER BY day ASC`,
		userID,
		since,
	).Scan(&rows).Error; err != nil {
		return dashboarddomain.HistoryResponse{}, err
	}

	return dashboarddomain.HistoryResponse{Days: rows}, nil
}

type activityRow struct {
	Action    string            `gorm:"column:action"`
	Metadata  datatypes.JSONMap `gorm:"column:metadata"`
	CreatedAt time.Time         `gorm:"column:created_at"`
}

func (s *Service) Activity(ctx context.Context, limit int) (dashboarddomain.ActivityResponse, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return dashboarddomain.ActivityResponse{}, dashboarddomain.ErrInvalidUser
	}
	if limit <= 0 {
		limit = 15
	}

	actions := []string{
		"area.created",
		"bowl.created",
		"bowl.tasks_completed",
		"bowl.finished_unverified",
		"bowl.verification_judged",
		"shop.filter_purchased",
	}

	var rows []activityRow
	if err := s.db.WithContext(ctx).Raw(
		`SELECT action, metadata, created_at
		 FROM audit_logs
		 WHERE user_id = ? AND action IN ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		userID,
		actions,
		limit,
	).Scan(&rows).Error; err != nil {
		return dashboarddomain.ActivityResponse{}, err
	}

	activity := make([]dashboarddomain.ActivityItem, 0, len(rows))
	for _, row := range rows {
		message := buildActivityMessage(row.Action, row.Metadata)
		if message == "" {
			continue
		}
		activity = append(activity, dashboarddomain.ActivityItem{
			Message:    message,
			OccurredAt: row.CreatedAt,
		})
	}

	return dashboarddomain.ActivityResponse{Activity: activity}, nil
}

func (s *Service) AreaBreakdown(ctx context.Context) ([]dashboarddomain.AreaBreakdownItem, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return nil, dashboarddomain.ErrInvalidUser
	}

	var rows []struct {
		AreaID          snowflake.ID `gorm:"column:area_id"`
		Name            *string      `gorm:"column:name"`
		BowlsFinalized  int64        `gorm:"column:bowls_finalized"`
		PointsTotal     int64        `gorm:"column:points_total"`
		LastFinalizedAt *time.Time   `gorm:"column:last_finalized_at"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT s.area_id, a.name, s.bowls_finalized, s.points_total, s.last_finalized_at
		 FROM area_stats s
		 LEFT JOIN areas a ON a.id = s.area_id
		 WHERE s.user_id = ?
		 ORDER BY s.points_total DESC, s.area_id ASC`,
		userID,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]dashboarddomain.AreaBreakdownItem, 0, len(rows))
	for _, row := range rows {
		name := "Removed area"
		if row.Name != nil && strings.TrimSpace(*row.Name) != "" {
			name = *row.Name
		}
		items = append(items, dashboarddomain.AreaBreakdownItem{
			AreaID:          row.AreaID,
			Name:            name,
			BowlsFinalized:  row.BowlsFinalized,
			PointsTotal:     row.PointsTotal,
			LastFinalizedAt: row.LastFinalizedAt,
		})
	}

	return items, nil
}

func (s *Service) AdminOverview(ctx context.Context) (dashboarddomain.AdminOverviewResponse, error) {
	var resp dashboarddomain.AdminOverviewResponse

	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM users`,
	).Scan(&resp.TotalUsers).Error; err != nil {
		return dashboarddomain.AdminOverviewResponse{}, err
	}

	today := s.clock.Now().In(s.loc).Format(dayLayout)
	var todayRow struct {
		ActiveToday         int64 `gorm:"column:active_today"`
		BowlsFinalizedToday int64 `gorm:"column:bowls_finalized_today"`
		PointsEarnedToday   int64 `gorm:"column:points_earned_today"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(DISTINCT user_id) AS active_today,
		        COALESCE(SUM(bowls_finalized), 0) AS bowls_finalized_today,
		        COALESCE(SUM(points_earned), 0) AS points_earned_today
		 FROM user_day_stats
		 WHERE day = ?`,
		today,
	).Scan(&todayRow).Error; err != nil {
		return dashboarddomain.AdminOverviewResponse{}, err
	}
	resp.ActiveToday = todayRow.ActiveToday
	resp.BowlsFinalizedToday = todayRow.BowlsFinalizedToday
	resp.PointsEarnedToday = todayRow.PointsEarnedToday

	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM outbox_events WHERE published = ?`,
		false,
	).Scan(&resp.PendingEvents).Error; err != nil {
		return dashboarddomain.AdminOverviewResponse{}, err
	}

	var streakRows []struct {
		UserID  snowflake.ID `gorm:"column:user_id"`
		Current int          `gorm:"column:current"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT user_id, current
		 FROM streak_states
		 WHERE current > 0
		 ORDER BY current DESC, user_id ASC
		 LIMIT 5`,
	).Scan(&streakRows).Error; err != nil {
		return dashboarddomain.AdminOverviewResponse{}, err
	}
	resp.TopStreaks = make([]dashboarddomain.TopStreak, 0, len(streakRows))
	for _, row := range streakRows {
		resp.TopStreaks = append(resp.TopStreaks, dashboarddomain.TopStreak{
			UserID:  row.UserID.String(),
			Current: row.Current,
		})
	}

	return resp, nil
}

func buildActivityMessage(action string, metadata datatypes.JSONMap) string {
	switch strings.TrimSpace(action) {
	case "area.created":
		if name := stringField(metadata, "name"); name != "" {
			return fmt.Sprintf("Added %s to the household", name)
		}
		return "Added a new area"
	case "bowl.created":
		if count, ok := intField(metadata, "task_count"); ok {
			return fmt.Sprintf("Started a bowl with %d tasks", count)
		}
		return "Started a bowl"
	case "bowl.tasks_completed":
		return "Ticked off every task in a bowl"
	case "bowl.finished_unverified":
		if total, ok := intField(metadata, "total"); ok {
			return fmt.Sprintf("Finished a bowl for %d points", total)
		}
		return "Finished a bowl"
	case "bowl.verification_judged":
		return formatVerdictMessage(metadata)
	case "shop.filter_purchased":
		if slug := stringField(metadata, "slug"); slug != "" {
			return fmt.Sprintf("Bought the %s filter", slug)
		}
		return "Bought a photo filter"
	default:
		return ""
	}
}

func formatVerdictMessage(metadata datatypes.JSONMap) string {
	tier := stringField(metadata, "tier")
	verdict := stringField(metadata, "verdict")
	total, hasTotal := intField(metadata, "total")

	switch verdict {
	case "pass":
		if hasTotal {
			return fmt.Sprintf("Passed %s verification for %d points", tier, total)
		}
		return fmt.Sprintf("Passed %s verification", tier)
	case "fail":
		if hasTotal {
			return fmt.Sprintf("Failed %s verification, kept %d points", tier, total)
		}
		return fmt.Sprintf("Failed %s verification", tier)
	default:
		return ""
	}
}

func stringField(metadata datatypes.JSONMap, key string) string {
	if value, ok := metadata[key]; ok {
		if str, ok := value.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

func intField(metadata datatypes.JSONMap, key string) (int64, bool) {
	value, ok := metadata[key]
	if !ok {
		return 0, false
	}
	switch typed := value.(type) {
	case float64:
		return int64(typed), true
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	default:
		return 0, false
	}
}
