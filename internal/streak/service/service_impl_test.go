package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/config"
	streakdomain "github.com/babcialabs/babcia/internal/streak/domain"
)

func newTestTracker(t *testing.T, timezone string, start time.Time) (streakdomain.Tracker, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&streakdomain.State{}))

	fake := clock.NewFakeClock(start)
	tracker := NewTracker(Params{
		Config: config.Config{StreakTimezone: timezone},
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  fake,
	})
	return tracker, fake
}

func TestRecordAreaPhoto_Lifecycle(t *testing.T) {
	start := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	tracker, fake := newTestTracker(t, "UTC", start)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	userID := node.Generate()

	// First photo ever starts the streak.
	res, err := tracker.RecordAreaPhoto(ctx, userID, fake.Now())
	require.NoError(t, err)
	assert.Equal(t, streakdomain.OutcomeStarted, res.Outcome)
	assert.Equal(t, 1, res.State.Current)

	// A second photo the same day counts once.
	fake.Advance(6 * time.Hour)
	res, err = tracker.RecordAreaPhoto(ctx, userID, fake.Now())
	require.NoError(t, err)
	assert.Equal(t, streakdomain.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, 1, res.State.Current)

	// The next calendar day extends.
	fake.Set(time.Date(2025, 6, 11, 7, 0, 0, 0, time.UTC))
	res, err = tracker.RecordAreaPhoto(ctx, userID, fake.Now())
	require.NoError(t, err)
	assert.Equal(t, streakdomain.OutcomeExtended, res.Outcome)
	assert.Equal(t, 2, res.State.Current)
	assert.Equal(t, 2, res.State.Longest)

	// Skipping a day resets to 1, longest survives.
	fake.Set(time.Date(2025, 6, 13, 7, 0, 0, 0, time.UTC))
	res, err = tracker.RecordAreaPhoto(ctx, userID, fake.Now())
	require.NoError(t, err)
	assert.Equal(t, streakdomain.OutcomeReset, res.Outcome)
	assert.Equal(t, 1, res.State.Current)
	assert.Equal(t, 2, res.State.Longest)

	state, err := tracker.Current(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Current)
	assert.Equal(t, "2025-06-13", state.LastCountedDay)
}

func TestRecordAreaPhoto_BackdatedPhotoDoesNotMoveTheDay(t *testing.T) {
	start := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	tracker, fake := newTestTracker(t, "UTC", start)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	userID := node.Generate()

	_, err := tracker.RecordAreaPhoto(ctx, userID, fake.Now())
	require.NoError(t, err)

	res, err := tracker.RecordAreaPhoto(ctx, userID, start.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, streakdomain.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, "2025-06-10", res.State.LastCountedDay)
}

func TestRecordAreaPhoto_CalendarZoneBucketsDays(t *testing.T) {
	// 23:00 UTC on June 10 is already June 11 in Warsaw.
	start := time.Date(2025, 6, 10, 23, 0, 0, 0, time.UTC)
	tracker, fake := newTestTracker(t, "Europe/Warsaw", start)
	ctx := context.Background()
	node, _ := snowflake.NewNode(1)
	userID := node.Generate()

	res, err := tracker.RecordAreaPhoto(ctx, userID, fake.Now())
	require.NoError(t, err)
	assert.Equal(t, "2025-06-11", res.State.LastCountedDay)

	// 08:00 UTC the next morning is still June 11 in Warsaw.
	fake.Set(time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC))
	res, err = tracker.RecordAreaPhoto(ctx, userID, fake.Now())
	require.NoError(t, err)
	assert.Equal(t, streakdomain.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, 1, res.State.Current)
}

func TestCurrent_UnknownUserIsZero(t *testing.T) {
	tracker, _ := newTestTracker(t, "UTC", time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC))
	node, _ := snowflake.NewNode(1)

	state, err := tracker.Current(context.Background(), node.Generate())
	require.NoError(t, err)
	assert.Zero(t, state.Current)
	assert.Empty(t, state.LastCountedDay)
}
