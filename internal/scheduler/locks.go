package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	bowldomain "github.com/babcialabs/babcia/internal/bowl/domain"
	obsmetrics "github.com/babcialabs/babcia/internal/observability/metrics"
)

// WorkBowl is the slim row the verification sweep claims from bowls.
type WorkBowl struct {
	ID        snowflake.ID
	UserID    snowflake.ID
	State     bowldomain.BowlState
	Tier      *bowldomain.VerificationTier
	UpdatedAt time.Time
}

func (s *Scheduler) fetchAwaitingBowlsForSweep(ctx context.Context, cutoff time.Time, limit int) ([]WorkBowl, error) {
	schedMetrics := obsmetrics.Scheduler()
	lockStart := time.Now()

	var bowls []WorkBowl
	err := lockForWork(s.db.WithContext(ctx)).
		Model(&bowldomain.Bowl{}).
		Select("id", "user_id", "state", "tier", "updated_at").
		Where("state = ? AND updated_at <= ?", bowldomain.StateAwaitingVerificationPhoto, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&bowls).Error
	schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceAwaitingBowls, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	return bowls, nil
}

// expireAwaitingBowl moves one stale bowl back to all_tasks_complete.
// The state guard in the WHERE clause keeps a concurrent submit or
// abandon from being overwritten: zero rows affected means the owner
// got there first.
func (s *Scheduler) expireAwaitingBowl(ctx context.Context, id snowflake.ID, now time.Time) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&bowldomain.Bowl{}).
		Where("id = ? AND state = ?", id, bowldomain.StateAwaitingVerificationPhoto).
		Updates(map[string]any{
			"state":      bowldomain.StateAllTasksComplete,
			"tier":       nil,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// lockForWork claims rows with SKIP LOCKED so concurrent runners never
// queue on each other. sqlite has no row locks; its single writer
// serializes the sweep anyway.
func lockForWork(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}
