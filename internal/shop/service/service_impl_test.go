package service

import (
	"context"
	"fmt"
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
	"github.com/babcialabs/babcia/internal/identity"
	ledgerdomain "github.com/babcialabs/babcia/internal/ledger/domain"
	ledgerservice "github.com/babcialabs/babcia/internal/ledger/service"
	shopdomain "github.com/babcialabs/babcia/internal/shop/domain"
)

type auditStub struct{}

func (auditStub) AuditLog(ctx context.Context, userID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (auditStub) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type harness struct {
	svc    shopdomain.Service
	ledger ledgerdomain.Service
	db     *gorm.DB
	node   *snowflake.Node
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&shopdomain.Filter{},
		&shopdomain.Unlock{},
		&ledgerdomain.Entry{},
	))
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_entries_source ON ledger_entries(user_id, kind, source_id)")
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_shop_unlocks_user_filter ON shop_unlocks(user_id, filter_slug)")

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	for _, filter := range shopdomain.DefaultFilters() {
		filter.ID = node.Generate()
		filter.CreatedAt = clk.Now()
		require.NoError(t, db.Where("slug = ?", filter.Slug).FirstOrCreate(&filter).Error)
	}

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		AuditSvc: auditStub{},
	})
	svc := NewService(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clk,
		Ledger:   ledgerSvc,
		AuditSvc: auditStub{},
	})

	return &harness{svc: svc, ledger: ledgerSvc, db: db, node: node}
}

func (h *harness) credit(t *testing.T, userID snowflake.ID, points int64) {
	t.Helper()
	_, err := h.ledger.Credit(context.Background(), ledgerdomain.CreditRequest{
		UserID:   userID,
		Kind:     ledgerdomain.EntryKindTaskTick,
		SourceID: fmt.Sprintf("seed-task-%s", h.node.Generate()),
		Points:   points,
	})
	require.NoError(t, err)
}

func ctxFor(userID int64) context.Context {
	return identity.WithUserID(context.Background(), snowflake.ID(userID))
}

func TestPurchase_DebitsOnceAndUnlocks(t *testing.T) {
	h := newHarness(t)
	h.credit(t, 701, 300)

	result, err := h.svc.Purchase(ctxFor(701), "sepia-memories")
	require.NoError(t, err)
	assert.False(t, result.AlreadyOwned)
	assert.EqualValues(t, 250, result.Balance)
	assert.Equal(t, "sepia-memories", result.Filter.Slug)

	var debit ledgerdomain.Entry
	require.NoError(t, h.db.
		Where("user_id = ? AND kind = ?", 701, ledgerdomain.EntryKindShopDebit).
		First(&debit).Error)
	assert.EqualValues(t, -50, debit.Points)
	assert.Equal(t, "sepia-memories", debit.SourceID)

	unlocks, err := h.svc.Unlocked(ctxFor(701))
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "sepia-memories", unlocks[0].FilterSlug)
}

func TestPurchase_InsufficientBalanceLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	h.credit(t, 702, 20)

	_, err := h.svc.Purchase(ctxFor(702), "lace-doily")
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientPoints)

	balance, err := h.ledger.BalanceOf(context.Background(), 702)
	require.NoError(t, err)
	assert.EqualValues(t, 20, balance)

	var unlocks int64
	h.db.Model(&shopdomain.Unlock{}).Where("user_id = ?", 702).Count(&unlocks)
	assert.Zero(t, unlocks)
}

func TestPurchase_BuyingTwiceChargesOnce(t *testing.T) {
	h := newHarness(t)
	h.credit(t, 703, 500)

	first, err := h.svc.Purchase(ctxFor(703), "golden-hour")
	require.NoError(t, err)
	assert.False(t, first.AlreadyOwned)
	assert.EqualValues(t, 250, first.Balance)

	second, err := h.svc.Purchase(ctxFor(703), "golden-hour")
	require.NoError(t, err)
	assert.True(t, second.AlreadyOwned)
	assert.EqualValues(t, 250, second.Balance)

	var debits int64
	h.db.Model(&ledgerdomain.Entry{}).
		Where("user_id = ? AND kind = ?", 703, ledgerdomain.EntryKindShopDebit).
		Count(&debits)
	assert.EqualValues(t, 1, debits)

	var unlocks int64
	h.db.Model(&shopdomain.Unlock{}).Where("user_id = ?", 703).Count(&unlocks)
	assert.EqualValues(t, 1, unlocks)
}

func TestPurchase_ConcurrentBuyersChargeOnce(t *testing.T) {
	h := newHarness(t)
	h.credit(t, 704, 500)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Purchase(ctxFor(704), "sepia-memories")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var debits, unlocks int64
	h.db.Model(&ledgerdomain.Entry{}).
		Where("user_id = ? AND kind = ?", 704, ledgerdomain.EntryKindShopDebit).
		Count(&debits)
	h.db.Model(&shopdomain.Unlock{}).Where("user_id = ?", 704).Count(&unlocks)
	assert.EqualValues(t, 1, debits)
	assert.EqualValues(t, 1, unlocks)

	balance, err := h.ledger.BalanceOf(context.Background(), 704)
	require.NoError(t, err)
	assert.EqualValues(t, 450, balance)
}

func TestPurchase_UnknownFilter(t *testing.T) {
	h := newHarness(t)
	h.credit(t, 705, 100)

	_, err := h.svc.Purchase(ctxFor(705), "glitter-bomb")
	assert.ErrorIs(t, err, shopdomain.ErrFilterNotFound)

	_, err = h.svc.Purchase(ctxFor(705), "   ")
	assert.ErrorIs(t, err, shopdomain.ErrInvalidSlug)
}

func TestCatalog_CheapestPlacementFirst(t *testing.T) {
	h := newHarness(t)

	catalog, err := h.svc.Catalog(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog, 5)
	assert.Equal(t, "sepia-memories", catalog[0].Slug)
	assert.Equal(t, "sunday-best", catalog[4].Slug)
	for i := 1; i < len(catalog); i++ {
		assert.GreaterOrEqual(t, catalog[i].Position, catalog[i-1].Position)
	}
}

func TestReprice_UpdatesCatalogNotUnlocks(t *testing.T) {
	h := newHarness(t)
	h.credit(t, 706, 100)

	_, err := h.svc.Purchase(ctxFor(706), "sepia-memories")
	require.NoError(t, err)

	updated, err := h.svc.Reprice(context.Background(), "sepia-memories", 80)
	require.NoError(t, err)
	assert.EqualValues(t, 80, updated.Price)

	catalog, err := h.svc.Catalog(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 80, catalog[0].Price)

	// The earlier buyer keeps the unlock and the old debit amount.
	unlocks, err := h.svc.Unlocked(ctxFor(706))
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	var debit ledgerdomain.Entry
	require.NoError(t, h.db.
		Where("user_id = ? AND kind = ?", 706, ledgerdomain.EntryKindShopDebit).
		First(&debit).Error)
	assert.EqualValues(t, -50, debit.Points)
}

func TestReprice_RejectsBadInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Reprice(context.Background(), "sepia-memories", 0)
	assert.ErrorIs(t, err, shopdomain.ErrInvalidPrice)

	_, err = h.svc.Reprice(context.Background(), "", 40)
	assert.ErrorIs(t, err, shopdomain.ErrInvalidSlug)

	_, err = h.svc.Reprice(context.Background(), "glitter-bomb", 40)
	assert.ErrorIs(t, err, shopdomain.ErrFilterNotFound)
}
