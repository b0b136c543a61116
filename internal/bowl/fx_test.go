package bowl

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	bowldomain "github.com/babcialabs/babcia/internal/bowl/domain"
)

func newHistoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&bowldomain.Bowl{}, &bowldomain.VerificationAttempt{}))
	return db
}

func TestVerificationHistory_LastCompletedGolden(t *testing.T) {
	db := newHistoryDB(t)
	history := newVerificationHistory(db)
	ctx := context.Background()

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	last, err := history.LastCompletedGolden(ctx, 951)
	require.NoError(t, err)
	assert.Nil(t, last, "no golden history yet")

	older := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 5, 28, 16, 30, 0, 0, time.UTC)
	for _, attempt := range []bowldomain.VerificationAttempt{
		{ID: node.Generate(), BowlID: node.Generate(), UserID: 951, Tier: bowldomain.TierGolden, BeforePhotoRef: "b", AfterPhotoRef: "a", Verdict: "pass", JudgedAt: older},
		{ID: node.Generate(), BowlID: node.Generate(), UserID: 951, Tier: bowldomain.TierGolden, BeforePhotoRef: "b", AfterPhotoRef: "a", Verdict: "fail", JudgedAt: newer},
		{ID: node.Generate(), BowlID: node.Generate(), UserID: 951, Tier: bowldomain.TierBlue, BeforePhotoRef: "b", AfterPhotoRef: "a", Verdict: "pass", JudgedAt: newer.Add(24 * time.Hour)},
	} {
		require.NoError(t, db.Create(&attempt).Error)
	}

	last, err = history.LastCompletedGolden(ctx, 951)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(newer), "blue attempts do not count")
}

func TestVerificationHistory_FinalizedBowlCountSince(t *testing.T) {
	db := newHistoryDB(t)
	history := newVerificationHistory(db)
	ctx := context.Background()

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	dayStart := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	finalizedTimes := []time.Time{
		dayStart.Add(-2 * time.Hour),
		dayStart.Add(1 * time.Hour),
		dayStart.Add(9 * time.Hour),
	}
	for _, at := range finalizedTimes {
		finalizedAt := at
		require.NoError(t, db.Create(&bowldomain.Bowl{
			ID:          node.Generate(),
			UserID:      952,
			AreaID:      node.Generate(),
			State:       bowldomain.StateFinalized,
			FinalizedAt: &finalizedAt,
			CreatedAt:   at,
		}).Error)
	}
	require.NoError(t, db.Create(&bowldomain.Bowl{
		ID:        node.Generate(),
		UserID:    952,
		AreaID:    node.Generate(),
		State:     bowldomain.StateOpen,
		CreatedAt: dayStart.Add(2 * time.Hour),
	}).Error)

	count, err := history.FinalizedBowlCountSince(ctx, 952, dayStart)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "yesterday's bowl and open bowls do not count")
}
