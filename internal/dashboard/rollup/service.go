package rollup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/config"
	dashboarddomain "github.com/babcialabs/babcia/internal/dashboard/domain"
	"github.com/babcialabs/babcia/internal/events"
)

const (
	rebuildStatusPending    = "pending"
	rebuildStatusProcessing = "processing"
	rebuildStatusCompleted  = "completed"
	rebuildStatusFailed     = "failed"

	rebuildBatchSize = 500

	dayLayout = "2006-01-02"
)

type Params struct {
	fx.In

	Config     config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Dispatcher events.Dispatcher `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	loc        *time.Location
	dispatcher events.Dispatcher
}

func NewService(p Params) *Service {
	loc, err := time.LoadLocation(p.Config.StreakTimezone)
	if err != nil {
		p.Log.Warn("invalid calendar timezone, falling back to UTC",
			zap.String("timezone", p.Config.StreakTimezone),
			zap.Error(err),
		)
		loc = time.UTC
	}

	return &Service{
		db:         p.DB,
		log:        p.Log.Named("dashboard.rollup"),
		genID:      p.GenID,
		clock:      p.Clock,
		loc:        loc,
		dispatcher: p.Dispatcher,
	}
}

// ProcessPending consumes unpublished outbox events into the snapshot
// tables and hands each one to the dispatcher. Every event is marked
// published even when it carries nothing the dashboard aggregates, so
// the outbox drains completely.
func (s *Service) ProcessPending(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = 50
	}

	var rows []events.OutboxEvent
	if err := s.db.WithContext(ctx).
		Where("published = ?", false).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return err
	}

	var jobErr error
	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		applied, err := s.processEvent(ctx, row.ID)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("failed to process outbox event", zap.Error(err), zap.String("event_id", row.ID.String()))
			continue
		}
		if applied {
			s.dispatch(ctx, row)
		}
	}

	return jobErr
}

func (s *Service) processEvent(ctx context.Context, eventID snowflake.ID) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked events.OutboxEvent
		err := lockForUpdate(tx.WithContext(ctx)).
			Where("id = ?", eventID).
			First(&locked).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if locked.Published {
			return nil
		}
		if err := s.applyEvent(ctx, tx, locked); err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		if err := tx.WithContext(ctx).
			Model(&events.OutboxEvent{}).
			Where("id = ?", locked.ID).
			Updates(map[string]any{"published": true, "published_at": now}).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// dispatch is fire and forget: the event is already published, a sink
// failure only loses this delivery, never the aggregation.
func (s *Service) dispatch(ctx context.Context, row events.OutboxEvent) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, row); err != nil {
		s.log.Warn("event dispatch failed",
			zap.Error(err),
			zap.String("event_id", row.ID.String()),
			zap.String("event_type", row.EventType),
		)
	}
}

func (s *Service) applyEvent(ctx context.Context, tx *gorm.DB, row events.OutboxEvent) error {
	day := row.CreatedAt.In(s.loc).Format(dayLayout)

	switch strings.TrimSpace(row.EventType) {
	case events.EventBowlCreated:
		return s.applyDayDelta(ctx, tx, row.UserID, day, dayDelta{BowlsCreated: 1})
	case events.EventTaskTicked:
		return s.applyDayDelta(ctx, tx, row.UserID, day, dayDelta{TasksTicked: 1})
	case events.EventBowlFinalized:
		if err := s.applyDayDelta(ctx, tx, row.UserID, day, dayDelta{BowlsFinalized: 1}); err != nil {
			return err
		}
		return s.applyAreaFinalized(ctx, tx, row)
	case events.EventLedgerEntryCreated:
		points, err := parseInt64Payload(row.Payload, "points")
		if err != nil {
			return err
		}
		if points >= 0 {
			return s.applyDayDelta(ctx, tx, row.UserID, day, dayDelta{PointsEarned: points})
		}
		return s.applyDayDelta(ctx, tx, row.UserID, day, dayDelta{PointsSpent: -points})
	case events.EventVerificationJudged:
		verdict, _ := row.Payload["verdict"].(string)
		switch strings.TrimSpace(verdict) {
		case "pass":
			return s.applyDayDelta(ctx, tx, row.UserID, day, dayDelta{VerificationsPassed: 1})
		case "fail":
			return s.applyDayDelta(ctx, tx, row.UserID, day, dayDelta{VerificationsFailed: 1})
		default:
			return errors.New("invalid_payload_verdict")
		}
	default:
		return nil
	}
}

type dayDelta struct {
	BowlsCreated        int64
	BowlsFinalized      int64
	TasksTicked         int64
	PointsEarned        int64
	PointsSpent         int64
	VerificationsPassed int64
	VerificationsFailed int64
}

func (s *Service) applyDayDelta(ctx context.Context, tx *gorm.DB, userID snowflake.ID, day string, delta dayDelta) error {
	if userID == 0 {
		return errors.New("invalid_user_id")
	}
	now := s.clock.Now().UTC()
	return tx.WithContext(ctx).Exec(
		`INSERT INTO user_day_stats (user_id, day, bowls_created, bowls_finalized, tasks_ticked, points_earned, points_spent, verifications_passed, verifications_failed, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, day)
		 DO UPDATE SET bowls_created = user_day_stats.bowls_created + EXCLUDED.bowls_created,
		               bowls_finalized = user_day_stats.bowls_finalized + EXCLUDED.bowls_finalized,
		               tasks_ticked = user_day_stats.tasks_ticked + EXCLUDED.tasks_ticked,
		               points_earned = user_day_stats.points_earned + EXCLUDED.points_earned,
		               points_spent = user_day_stats.points_spent + EXCLUDED.points_spent,
		               verifications_passed = user_day_stats.verifications_passed + EXCLUDED.verifications_passed,
		               verifications_failed = user_day_stats.verifications_failed + EXCLUDED.verifications_failed,
		               updated_at = EXCLUDED.updated_at`,
		userID,
		day,
		delta.BowlsCreated,
		delta.BowlsFinalized,
		delta.TasksTicked,
		delta.PointsEarned,
		delta.PointsSpent,
		delta.VerificationsPassed,
		delta.VerificationsFailed,
		now,
	).Error
}

func (s *Service) applyAreaFinalized(ctx context.Context, tx *gorm.DB, row events.OutboxEvent) error {
	areaID, err := parseSnowflakePayload(row.Payload, "area_id")
	if err != nil {
		// Old finalization events may predate the area_id field.
		return nil
	}
	total, err := parseInt64Payload(row.Payload, "total")
	if err != nil {
		total = 0
	}
	finalizedAt := row.CreatedAt.UTC()
	now := s.clock.Now().UTC()
	return tx.WithContext(ctx).Exec(
		`INSERT INTO area_stats (area_id, user_id, bowls_finalized, points_total, last_finalized_at, updated_at)
		 VALUES (?, ?, 1, ?, ?, ?)
		 ON CONFLICT (area_id)
		 DO UPDATE SET bowls_finalized = area_stats.bowls_finalized + 1,
		               points_total = area_stats.points_total + EXCLUDED.points_total,
		               last_finalized_at = EXCLUDED.last_finalized_at,
		               updated_at = EXCLUDED.updated_at`,
		areaID,
		row.UserID,
		total,
		finalizedAt,
		now,
	).Error
}

// RebuildScope narrows a rebuild to one user; nil means everyone.
type RebuildScope struct {
	UserID *snowflake.ID
}

// EnqueueRebuild stores a rebuild request for async processing.
func (s *Service) EnqueueRebuild(ctx context.Context, scope RebuildScope) (string, error) {
	if s.genID == nil {
		return "", errors.New("missing_id_generator")
	}
	req := dashboarddomain.StatsRebuildRequest{
		ID:        s.genID.Generate(),
		Status:    rebuildStatusPending,
		CreatedAt: s.clock.Now().UTC(),
	}
	if scope.UserID != nil && *scope.UserID != 0 {
		req.UserID = scope.UserID
	}

	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		return "", err
	}
	return req.ID.String(), nil
}

// ProcessRebuildRequests drains pending rebuild requests.
func (s *Service) ProcessRebuildRequests(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = 10
	}

	var rows []dashboarddomain.StatsRebuildRequest
	if err := s.db.WithContext(ctx).
		Where("status = ?", rebuildStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return err
	}

	var jobErr error
	for _, row := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.processRebuildRequest(ctx, row); err != nil {
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("failed to rebuild dashboard stats", zap.Error(err), zap.String("request_id", row.ID.String()))
		}
	}

	return jobErr
}

func (s *Service) processRebuildRequest(ctx context.Context, row dashboarddomain.StatsRebuildRequest) error {
	// The rebuild keeps running even if the triggering request times out.
	rebuildCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	now := s.clock.Now().UTC()
	result := s.db.WithContext(rebuildCtx).
		Model(&dashboarddomain.StatsRebuildRequest{}).
		Where("id = ? AND status = ?", row.ID, rebuildStatusPending).
		Updates(map[string]any{"status": rebuildStatusProcessing, "started_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}

	err := s.RebuildStats(rebuildCtx, RebuildScope{UserID: row.UserID})
	completedAt := s.clock.Now().UTC()
	if err != nil {
		return s.db.WithContext(rebuildCtx).
			Model(&dashboarddomain.StatsRebuildRequest{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"status":       rebuildStatusFailed,
				"error":        errorSummary(err),
				"completed_at": completedAt,
			}).Error
	}

	return s.db.WithContext(rebuildCtx).
		Model(&dashboarddomain.StatsRebuildRequest{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{"status": rebuildStatusCompleted, "completed_at": completedAt}).Error
}

// RebuildStats clears the snapshots in scope and replays them from the
// source tables. Bowls, tasks, ledger entries and verification attempts
// are ground truth; the outbox is not consulted.
func (s *Service) RebuildStats(ctx context.Context, scope RebuildScope) error {
	var userID *snowflake.ID
	if scope.UserID != nil && *scope.UserID != 0 {
		userID = scope.UserID
	}

	if err := s.clearStats(ctx, userID); err != nil {
		return err
	}
	if err := s.replayBowls(ctx, userID); err != nil {
		return err
	}
	if err := s.replayTasks(ctx, userID); err != nil {
		return err
	}
	if err := s.replayLedgerEntries(ctx, userID); err != nil {
		return err
	}
	return s.replayVerifications(ctx, userID)
}

func (s *Service) clearStats(ctx context.Context, userID *snowflake.ID) error {
	if userID == nil {
		if err := s.db.WithContext(ctx).Exec(`DELETE FROM user_day_stats`).Error; err != nil {
			return err
		}
		return s.db.WithContext(ctx).Exec(`DELETE FROM area_stats`).Error
	}

	if err := s.db.WithContext(ctx).Exec(
		`DELETE FROM user_day_stats WHERE user_id = ?`,
		*userID,
	).Error; err != nil {
		return err
	}
	return s.db.WithContext(ctx).Exec(
		`DELETE FROM area_stats WHERE user_id = ?`,
		*userID,
	).Error
}

type bowlReplayRow struct {
	ID          snowflake.ID `gorm:"column:id"`
	UserID      snowflake.ID `gorm:"column:user_id"`
	AreaID      snowflake.ID `gorm:"column:area_id"`
	State       string       `gorm:"column:state"`
	FinalPoints *int64       `gorm:"column:final_points"`
	CreatedAt   time.Time    `gorm:"column:created_at"`
	FinalizedAt *time.Time   `gorm:"column:finalized_at"`
}

func (s *Service) replayBowls(ctx context.Context, userID *snowflake.ID) error {
	lastID := snowflake.ID(0)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		args := []any{lastID}
		query := `SELECT id, user_id, area_id, state, final_points, created_at, finalized_at
			FROM bowls
			WHERE id > ?`
		if userID != nil {
			query += " AND user_id = ?"
			args = append(args, *userID)
		}
		query += " ORDER BY id ASC LIMIT ?"
		args = append(args, rebuildBatchSize)

		var rows []bowlReplayRow
		if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				day := row.CreatedAt.In(s.loc).Format(dayLayout)
				if err := s.applyDayDelta(ctx, tx, row.UserID, day, dayDelta{BowlsCreated: 1}); err != nil {
					return err
				}
				if row.State != "finalized" || row.FinalizedAt == nil {
					return nil
				}
				finalDay := row.FinalizedAt.In(s.loc).Format(dayLayout)
				if err := s.applyDayDelta(ctx, tx, row.UserID, finalDay, dayDelta{BowlsFinalized: 1}); err != nil {
					return err
				}
				var total int64
				if row.FinalPoints != nil {
					total = *row.FinalPoints
				}
				now := s.clock.Now().UTC()
				return tx.WithContext(ctx).Exec(
					`INSERT INTO area_stats (area_id, user_id, bowls_finalized, points_total, last_finalized_at, updated_at)
					 VALUES (?, ?, 1, ?, ?, ?)
					 ON CONFLICT (area_id)
					 DO UPDATE SET bowls_finalized = area_stats.bowls_finalized + 1,
					               points_total = area_stats.points_total + EXCLUDED.points_total,
					               last_finalized_at = CASE
					                 WHEN area_stats.last_finalized_at IS NULL OR EXCLUDED.last_finalized_at > area_stats.last_finalized_at
					                 THEN EXCLUDED.last_finalized_at
					                 ELSE area_stats.last_finalized_at
					               END,
					               updated_at = EXCLUDED.updated_at`,
					row.AreaID,
					row.UserID,
					total,
					row.FinalizedAt.UTC(),
					now,
				).Error
			}); err != nil {
				return err
			}
			lastID = row.ID
		}
	}
}

type taskReplayRow struct {
	ID       snowflake.ID `gorm:"column:id"`
	UserID   snowflake.ID `gorm:"column:user_id"`
	TickedAt *time.Time   `gorm:"column:ticked_at"`
}

func (s *Service) replayTasks(ctx context.Context, userID *snowflake.ID) error {
	lastID := snowflake.ID(0)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		args := []any{true, lastID}
		query := `SELECT t.id AS id, b.user_id AS user_id, t.ticked_at AS ticked_at
			FROM tasks t
			JOIN bowls b ON b.id = t.bowl_id
			WHERE t.ticked = ? AND t.id > ?`
		if userID != nil {
			query += " AND b.user_id = ?"
			args = append(args, *userID)
		}
		query += " ORDER BY t.id ASC LIMIT ?"
		args = append(args, rebuildBatchSize)

		var rows []taskReplayRow
		if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			if row.TickedAt != nil {
				day := row.TickedAt.In(s.loc).Format(dayLayout)
				if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
					return s.applyDayDelta(ctx, tx, row.UserID, day, dayDelta{TasksTicked: 1})
				}); err != nil {
					return err
				}
			}
			lastID = row.ID
		}
	}
}

type ledgerReplayRow struct {
	ID         snowflake.ID `gorm:"column:id"`
	UserID     snowflake.ID `gorm:"column:user_id"`
	Points     int64        `gorm:"column:points"`
	OccurredAt time.Time    `gorm:"column:occurred_at"`
}

func (s *Service) replayLedgerEntries(ctx context.Context, userID *snowflake.ID) error {
	lastID := snowflake.ID(0)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		args := []any{lastID}
		query := `SELECT id, user_id, points, occurred_at
			FROM ledger_entries
			WHERE id > ?`
		if userID != nil {
			query += " AND user_id = ?"
			args = append(args, *userID)
		}
		query += " ORDER BY id ASC LIMIT ?"
		args = append(args, rebuildBatchSize)

		var rows []ledgerReplayRow
		if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			day := row.OccurredAt.In(s.loc).Format(dayLayout)
			delta := dayDelta{PointsEarned: row.Points}
			if row.Points < 0 {
				delta = dayDelta{PointsSpent: -row.Points}
			}
			if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return s.applyDayDelta(ctx, tx, row.UserID, day, delta)
			}); err != nil {
				return err
			}
			lastID = row.ID
		}
	}
}

type verificationReplayRow struct {
	ID       snowflake.ID `gorm:"column:id"`
	UserID   snowflake.ID `gorm:"column:user_id"`
	Verdict  string       `gorm:"column:verdict"`
	JudgedAt time.Time    `gorm:"column:judged_at"`
}

func (s *Service) replayVerifications(ctx context.Context, userID *snowflake.ID) error {
	lastID := snowflake.ID(0)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		args := []any{lastID}
		query := `SELECT id, user_id, verdict, judged_at
			FROM verification_attempts
			WHERE id > ?`
		if userID != nil {
			query += " AND user_id = ?"
			args = append(args, *userID)
		}
		query += " ORDER BY id ASC LIMIT ?"
		args = append(args, rebuildBatchSize)

		var rows []verificationReplayRow
		if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			day := row.JudgedAt.In(s.loc).Format(dayLayout)
			delta := dayDelta{VerificationsPassed: 1}
			if row.Verdict == "fail" {
				delta = dayDelta{VerificationsFailed: 1}
			}
			if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return s.applyDayDelta(ctx, tx, row.UserID, day, delta)
			}); err != nil {
				return err
			}
			lastID = row.ID
		}
	}
}

func lockForUpdate(tx *gorm.DB) *gorm.DB {
	// sqlite has no row locks; its single writer serializes the
	// transaction anyway.
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func parseSnowflakePayload(payload datatypes.JSONMap, key string) (snowflake.ID, error) {
	value, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("missing_payload_%s", key)
	}
	switch typed := value.(type) {
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, fmt.Errorf("missing_payload_%s", key)
		}
		return snowflake.ParseString(trimmed)
	case float64:
		return snowflake.ID(int64(typed)), nil
	case int64:
		return snowflake.ID(typed), nil
	case json.Number:
		parsed, err := typed.Int64()
		if err != nil {
			return 0, err
		}
		return snowflake.ID(parsed), nil
	default:
		return 0, fmt.Errorf("invalid_payload_%s", key)
	}
}

func parseInt64Payload(payload datatypes.JSONMap, key string) (int64, error) {
	value, ok := payload[key]
	if !ok {
		return 0, fmt.Errorf("missing_payload_%s", key)
	}
	switch typed := value.(type) {
	case float64:
		return int64(typed), nil
	case int64:
		return typed, nil
	case json.Number:
		return typed.Int64()
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return 0, fmt.Errorf("missing_payload_%s", key)
		}
		var parsed int64
		if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil {
			return 0, err
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("invalid_payload_%s", key)
	}
}

func errorSummary(err error) string {
	if err == nil {
		return ""
	}
	value := strings.TrimSpace(err.Error())
	if value == "" {
		return "unknown_error"
	}
	if len(value) > 256 {
		return value[:256]
	}
	return value
}
