package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/config"
	eligibilitydomain "github.com/babcialabs/babcia/internal/eligibility/domain"
)

type historyStub struct {
	lastGolden *time.Time
	finalized  int
	since      time.Time
	err        error
}

func (h *historyStub) LastCompletedGolden(ctx context.Context, userID snowflake.ID) (*time.Time, error) {
	return h.lastGolden, h.err
}

func (h *historyStub) FinalizedBowlCountSince(ctx context.Context, userID snowflake.ID, since time.Time) (int, error) {
	h.since = since
	return h.finalized, h.err
}

type targetStub struct {
	target int
}

func (t *targetStub) DailyBowlTarget(ctx context.Context, areaID snowflake.ID) (int, error) {
	return t.target, nil
}

func newTestPolicy(history *historyStub, targets *targetStub, fake *clock.FakeClock) eligibilitydomain.Policy {
	return NewPolicy(Params{
		Config:  config.Config{StreakTimezone: "UTC"},
		Log:     zap.NewNop(),
		Holder:  config.NewStaticEligibilityConfigHolder(config.DefaultEligibilityConfig()),
		Clock:   fake,
		History: history,
		Targets: targets,
	})
}

func TestIsEligible_CountsFromStartOfDay(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC))
	recent := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	history := &historyStub{lastGolden: &recent, finalized: 1}
	policy := newTestPolicy(history, &targetStub{target: 4}, fake)

	decision, err := policy.IsEligible(context.Background(), eligibilitydomain.Request{UserID: 1, AreaID: 2})
	require.NoError(t, err)

	assert.True(t, decision.Eligible)
	assert.Equal(t, eligibilitydomain.ReasonBehindPace, decision.Reason)
	assert.Equal(t, time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC), asUTC(history.since))
}

func TestIsEligible_FreshEvaluationPerCall(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC))
	recent := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	history := &historyStub{lastGolden: &recent, finalized: 1}
	policy := newTestPolicy(history, &targetStub{target: 4}, fake)
	ctx := context.Background()
	req := eligibilitydomain.Request{UserID: 1, AreaID: 2}

	decision, err := policy.IsEligible(ctx, req)
	require.NoError(t, err)
	assert.True(t, decision.Eligible)

	// Catching up on bowls flips the next evaluation, nothing is cached.
	history.finalized = 3
	decision, err = policy.IsEligible(ctx, req)
	require.NoError(t, err)
	assert.False(t, decision.Eligible)
	assert.Equal(t, eligibilitydomain.ReasonOnPace, decision.Reason)
}

func TestIsEligible_PropagatesReaderErrors(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC))
	history := &historyStub{err: errors.New("db down")}
	policy := newTestPolicy(history, &targetStub{target: 4}, fake)

	_, err := policy.IsEligible(context.Background(), eligibilitydomain.Request{UserID: 1, AreaID: 2})
	assert.Error(t, err)
}

func asUTC(t time.Time) time.Time { return t.UTC() }
