package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
	"github.com/babcialabs/babcia/internal/clock"
	ledgerdomain "github.com/babcialabs/babcia/internal/ledger/domain"
)

type auditStub struct {
	mu    sync.Mutex
	calls []string
}

func (a *auditStub) AuditLog(ctx context.Context, userID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, action)
	return nil
}

func (a *auditStub) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func newTestService(t *testing.T) (ledgerdomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&ledgerdomain.Entry{}))
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_entries_source ON ledger_entries(user_id, kind, source_id)")

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)),
		AuditSvc: &auditStub{},
	})
	return svc, db, node
}

func TestCredit_ReplaySameSourcePostsOnce(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()
	taskID := node.Generate()

	req := ledgerdomain.CreditRequest{
		UserID:   userID,
		Kind:     ledgerdomain.EntryKindTaskTick,
		SourceID: taskID.String(),
		Points:   1,
	}

	first, err := svc.Credit(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, int64(1), first.Points)

	second, err := svc.Credit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "replay must return the original entry")

	var count int64
	db.Model(&ledgerdomain.Entry{}).Where("user_id = ?", userID).Count(&count)
	assert.Equal(t, int64(1), count)

	balance, err := svc.BalanceOf(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance)
}

func TestCredit_RejectsInvalidInput(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:   userID,
		Kind:     ledgerdomain.EntryKindTaskTick,
		SourceID: "t1",
		Points:   0,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPoints)

	_, err = svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:   userID,
		Kind:     ledgerdomain.EntryKind("refund"),
		SourceID: "t1",
		Points:   1,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidKind)

	_, err = svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:   userID,
		Kind:     ledgerdomain.EntryKindTaskTick,
		SourceID: "   ",
		Points:   1,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidSourceID)

	_, err = svc.Credit(ctx, ledgerdomain.CreditRequest{
		Kind:     ledgerdomain.EntryKindTaskTick,
		SourceID: "t1",
		Points:   1,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUser)
}

func TestDebit_InsufficientBalance(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:   userID,
		Kind:     ledgerdomain.EntryKindTaskTick,
		SourceID: node.Generate().String(),
		Points:   3,
	})
	require.NoError(t, err)

	_, err = svc.Debit(ctx, ledgerdomain.DebitRequest{
		UserID:   userID,
		Kind:     ledgerdomain.EntryKindShopDebit,
		SourceID: "sepia",
		Points:   5,
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientPoints)

	var count int64
	db.Model(&ledgerdomain.Entry{}).Where("user_id = ? AND points < 0", userID).Count(&count)
	assert.Zero(t, count, "a rejected debit must not append")

	balance, err := svc.BalanceOf(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), balance)
}

func TestDebit_ReplaySameSourceDebitsOnce(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
		UserID:   userID,
		Kind:     ledgerdomain.EntryKindVerificationBonus,
		SourceID: node.Generate().String(),
		Points:   40,
	})
	require.NoError(t, err)

	req := ledgerdomain.DebitRequest{
		UserID:   userID,
		Kind:     ledgerdomain.EntryKindShopDebit,
		SourceID: "grayscale",
		Points:   15,
	}

	first, err := svc.Debit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(-15), first.Points)

	second, err := svc.Debit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	balance, err := svc.BalanceOf(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance, "replayed debit must not withdraw twice")
}

func TestBalanceOf_IsAlwaysTheFoldOfEntries(t *testing.T) {
	svc, db, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	points := []int64{1, 1, 1, 1, 1, 15}
	for i, p := range points {
		_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
			UserID:     userID,
			Kind:       ledgerdomain.EntryKindTaskTick,
			SourceID:   node.Generate().String(),
			Points:     p,
			OccurredAt: time.Date(2025, 6, 1, 9, i, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}
	_, err := svc.Debit(ctx, ledgerdomain.DebitRequest{
		UserID:   userID,
		Kind:     ledgerdomain.EntryKindShopDebit,
		SourceID: "vignette",
		Points:   8,
	})
	require.NoError(t, err)

	var entries []ledgerdomain.Entry
	require.NoError(t, db.Where("user_id = ?", userID).Find(&entries).Error)

	var fold int64
	for _, e := range entries {
		fold += e.Points
	}

	balance, err := svc.BalanceOf(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, fold, balance)
	assert.Equal(t, int64(12), balance)

	summary, err := svc.Summarize(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), summary.Balance)
	assert.Equal(t, int64(20), summary.Earned)
	assert.Equal(t, int64(8), summary.Spent)
}

func TestList_FiltersByKindAndPaginates(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	for i := 0; i < 5; i++ {
		_, err := svc.Credit(ctx, ledgerdomain.CreditRequest{
			UserID:   userID,
			Kind:     ledgerdomain.EntryKindTaskTick,
			SourceID: node.Generate().String(),
			Points:   1,
		})
		require.NoError(t, err)
	}

	kind := ledgerdomain.EntryKindTaskTick
	res, err := svc.List(ctx, ledgerdomain.ListEntriesRequest{UserID: userID, Kind: &kind})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 5)
	assert.False(t, res.PageInfo.HasMore)

	other := ledgerdomain.EntryKindShopDebit
	res, err = svc.List(ctx, ledgerdomain.ListEntriesRequest{UserID: userID, Kind: &other})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
}

func TestCredit_ConcurrentAppendsAllLand(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	const n = 8
	sources := make([]string, n)
	for i := range sources {
		sources[i] = node.Generate().String()
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Credit(ctx, ledgerdomain.CreditRequest{
				UserID:   userID,
				Kind:     ledgerdomain.EntryKindTaskTick,
				SourceID: sources[i],
				Points:   1,
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	balance, err := svc.BalanceOf(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), balance)
}
