package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/config"
	"github.com/babcialabs/babcia/internal/events"
	obsmetrics "github.com/babcialabs/babcia/internal/observability/metrics"
	streakdomain "github.com/babcialabs/babcia/internal/streak/domain"
)

const dayLayout = "2006-01-02"

type Params struct {
	fx.In

	Config     config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Tracker struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
	loc        *time.Location
}

func NewTracker(p Params) streakdomain.Tracker {
	loc, err := time.LoadLocation(p.Config.StreakTimezone)
	if err != nil {
		p.Log.Warn("invalid calendar timezone, falling back to UTC",
			zap.String("timezone", p.Config.StreakTimezone),
			zap.Error(err),
		)
		loc = time.UTC
	}

	return &Tracker{
		db:         p.DB,
		log:        p.Log.Named("streak.tracker"),
		clock:      p.Clock,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
		loc:        loc,
	}
}

func (t *Tracker) RecordAreaPhoto(ctx context.Context, userID snowflake.ID, takenAt time.Time) (streakdomain.RecordResult, error) {
	if userID == 0 {
		return streakdomain.RecordResult{}, streakdomain.ErrInvalidUser
	}
	if takenAt.IsZero() {
		takenAt = t.clock.Now()
	}
	day := takenAt.In(t.loc).Format(dayLayout)

	var result streakdomain.RecordResult
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state streakdomain.State
		err := lockForUpdate(tx.WithContext(ctx)).
			Where("user_id = ?", userID).
			First(&state).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			state = streakdomain.State{
				UserID:         userID,
				Current:        1,
				Longest:        1,
				LastCountedDay: day,
			}
			if err := tx.WithContext(ctx).Create(&state).Error; err != nil {
				return err
			}
			result = streakdomain.RecordResult{State: state, Outcome: streakdomain.OutcomeStarted}
			return nil
		case err != nil:
			return err
		}

		gap, err := dayGap(state.LastCountedDay, day)
		if err != nil {
			return err
		}

		switch {
		case gap <= 0:
			// Same day again, or a backdated photo. Counted days never
			// move backwards.
			result = streakdomain.RecordResult{State: state, Outcome: streakdomain.OutcomeUnchanged}
			return nil
		case gap == 1:
			state.Current++
			result.Outcome = streakdomain.OutcomeExtended
		default:
			state.Current = 1
			result.Outcome = streakdomain.OutcomeReset
		}

		state.LastCountedDay = day
		if state.Current > state.Longest {
			state.Longest = state.Current
		}
		if err := tx.WithContext(ctx).Save(&state).Error; err != nil {
			return err
		}
		result.State = state

		if t.outbox != nil {
			eventType := events.EventStreakExtended
			if result.Outcome == streakdomain.OutcomeReset {
				eventType = events.EventStreakReset
			}
			if err := t.outbox.PublishTx(ctx, tx, events.Event{
				UserID: userID,
				Type:   eventType,
				Payload: map[string]any{
					"current": state.Current,
					"longest": state.Longest,
					"day":     day,
				},
				DedupeKey: "streak:" + userID.String() + ":" + day,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return streakdomain.RecordResult{}, err
	}

	if t.obsMetrics != nil && result.Outcome != streakdomain.OutcomeUnchanged {
		t.obsMetrics.RecordStreakEvent(ctx, result.Outcome)
	}
	return result, nil
}

func (t *Tracker) Current(ctx context.Context, userID snowflake.ID) (streakdomain.State, error) {
	if userID == 0 {
		return streakdomain.State{}, streakdomain.ErrInvalidUser
	}

	var state streakdomain.State
	err := t.db.WithContext(ctx).Where("user_id = ?", userID).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return streakdomain.State{UserID: userID}, nil
	}
	if err != nil {
		return streakdomain.State{}, err
	}
	return state, nil
}

// lockForUpdate row-locks the read on databases that support it. sqlite
// has no row locks; its single writer serializes the transaction anyway.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// dayGap counts civil days between two dates. Dates are anchored to noon
// UTC so daylight-saving shifts in the calendar zone cannot skew the
// difference.
func dayGap(from, to string) (int, error) {
	a, err := time.Parse(dayLayout, from)
	if err != nil {
		return 0, err
	}
	b, err := time.Parse(dayLayout, to)
	if err != nil {
		return 0, err
	}
	anchorA := time.Date(a.Year(), a.Month(), a.Day(), 12, 0, 0, 0, time.UTC)
	anchorB := time.Date(b.Year(), b.Month(), b.Day(), 12, 0, 0, 0, time.UTC)
	return int(anchorB.Sub(anchorA).Hours() / 24), nil
}
