package events

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
)

func setupOutbox(t *testing.T) (*Outbox, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dbConn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := dbConn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, dbConn.AutoMigrate(&OutboxEvent{}))
	require.NoError(t, dbConn.Exec("DELETE FROM outbox_events").Error)

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	outbox := NewOutbox(OutboxParams{
		DB:    dbConn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	return outbox, dbConn, clk
}

func TestOutbox_StampsRowsFromClock(t *testing.T) {
	outbox, dbConn, clk := setupOutbox(t)
	ctx := context.Background()

	require.NoError(t, outbox.Publish(ctx, Event{
		UserID: 701,
		Type:   EventStreakExtended,
	}))

	clk.Advance(48 * time.Hour)
	require.NoError(t, outbox.Publish(ctx, Event{
		UserID: 701,
		Type:   EventStreakReset,
	}))

	var rows []OutboxEvent
	require.NoError(t, dbConn.Order("created_at").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), rows[0].CreatedAt.UTC())
	assert.Equal(t, time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC), rows[1].CreatedAt.UTC())
}

func TestOutbox_DedupeKeyDropsRepeat(t *testing.T) {
	outbox, dbConn, _ := setupOutbox(t)
	ctx := context.Background()

	event := Event{
		UserID:    702,
		Type:      EventFilterPurchased,
		Payload:   map[string]any{"filter_id": "42"},
		DedupeKey: "purchase:42",
	}
	require.NoError(t, outbox.Publish(ctx, event))
	require.NoError(t, outbox.Publish(ctx, event))

	var count int64
	require.NoError(t, dbConn.Model(&OutboxEvent{}).Where("user_id = ?", 702).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
