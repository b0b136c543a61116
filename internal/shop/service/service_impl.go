package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/events"
	"github.com/babcialabs/babcia/internal/identity"
	ledgerdomain "github.com/babcialabs/babcia/internal/ledger/domain"
	obsmetrics "github.com/babcialabs/babcia/internal/observability/metrics"
	shopdomain "github.com/babcialabs/babcia/internal/shop/domain"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Ledger     ledgerdomain.Service
	AuditSvc   auditdomain.Service
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	ledger     ledgerdomain.Service
	auditSvc   auditdomain.Service
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) shopdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("shop.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		ledger:     p.Ledger,
		auditSvc:   p.AuditSvc,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Catalog(ctx context.Context) ([]shopdomain.Filter, error) {
	var filters []shopdomain.Filter
	err := s.db.WithContext(ctx).
		Order("position asc, slug asc").
		Find(&filters).Error
	if err != nil {
		return nil, err
	}
	return filters, nil
}

func (s *Service) Purchase(ctx context.Context, slug string) (shopdomain.PurchaseResult, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return shopdomain.PurchaseResult{}, shopdomain.ErrInvalidUser
	}

	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return shopdomain.PurchaseResult{}, shopdomain.ErrInvalidSlug
	}

	var filter shopdomain.Filter
	err := s.db.WithContext(ctx).
		Where("slug = ?", slug).
		First(&filter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shopdomain.PurchaseResult{}, shopdomain.ErrFilterNotFound
	}
	if err != nil {
		return shopdomain.PurchaseResult{}, err
	}

	// An owned filter stays owned; buying it again charges nothing.
	var owned int64
	if err := s.db.WithContext(ctx).
		Model(&shopdomain.Unlock{}).
		Where("user_id = ? AND filter_slug = ?", userID, slug).
		Count(&owned).Error; err != nil {
		return shopdomain.PurchaseResult{}, err
	}
	if owned > 0 {
		balance, err := s.ledger.BalanceOf(ctx, userID)
		if err != nil {
			return shopdomain.PurchaseResult{}, err
		}
		return shopdomain.PurchaseResult{Filter: filter, AlreadyOwned: true, Balance: balance}, nil
	}

	// The debit is idempotent on (user, shop_debit, slug), so a crash
	// between charge and unlock never double-charges: the replay below
	// returns the original entry and the unlock insert heals.
	if _, err := s.ledger.Debit(ctx, ledgerdomain.DebitRequest{
		UserID:     userID,
		Kind:       ledgerdomain.EntryKindShopDebit,
		SourceID:   slug,
		Points:     filter.Price,
		OccurredAt: s.clock.Now(),
	}); err != nil {
		return shopdomain.PurchaseResult{}, err
	}

	unlock := shopdomain.Unlock{
		ID:         s.genID.Generate(),
		UserID:     userID,
		FilterSlug: slug,
		CreatedAt:  s.clock.Now(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.WithContext(ctx).Exec(
			`INSERT INTO shop_unlocks (id, user_id, filter_slug, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, filter_slug) DO NOTHING`,
			unlock.ID, unlock.UserID, unlock.FilterSlug, unlock.CreatedAt,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		if s.outbox != nil {
			return s.outbox.PublishTx(ctx, tx, events.Event{
				UserID: userID,
				Type:   events.EventFilterPurchased,
				Payload: map[string]any{
					"filter_slug": slug,
					"price":       filter.Price,
				},
				DedupeKey: "filter_purchased:" + userID.String() + ":" + slug,
			})
		}
		return nil
	})
	if err != nil {
		return shopdomain.PurchaseResult{}, err
	}

	s.obsMetrics.RecordPurchase(ctx, slug)
	targetID := filter.ID.String()
	if s.auditSvc != nil {
		if err := s.auditSvc.AuditLog(ctx, &userID, "", nil, "shop.filter_purchased", "shop_filter", &targetID, map[string]any{
			"filter_slug": slug,
			"price":       filter.Price,
		}); err != nil {
			s.log.Warn("failed to write shop audit log", zap.Error(err))
		}
	}

	balance, err := s.ledger.BalanceOf(ctx, userID)
	if err != nil {
		return shopdomain.PurchaseResult{}, err
	}
	return shopdomain.PurchaseResult{Filter: filter, Balance: balance}, nil
}

func (s *Service) Reprice(ctx context.Context, slug string, price int64) (shopdomain.Filter, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return shopdomain.Filter{}, shopdomain.ErrInvalidSlug
	}
	if price <= 0 {
		return shopdomain.Filter{}, shopdomain.ErrInvalidPrice
	}

	var filter shopdomain.Filter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Where("slug = ?", slug).First(&filter).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return shopdomain.ErrFilterNotFound
			}
			return err
		}
		oldPrice := filter.Price
		filter.Price = price
		if err := tx.WithContext(ctx).
			Model(&shopdomain.Filter{}).
			Where("slug = ?", slug).
			Update("price", price).Error; err != nil {
			return err
		}

		if s.auditSvc != nil {
			targetID := filter.ID.String()
			if err := s.auditSvc.AuditLog(ctx, nil, "", nil, "shop.filter_repriced", "shop_filter", &targetID, map[string]any{
				"filter_slug": slug,
				"old_price":   oldPrice,
				"new_price":   price,
			}); err != nil {
				s.log.Warn("failed to write shop audit log", zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return shopdomain.Filter{}, err
	}
	return filter, nil
}

func (s *Service) Unlocked(ctx context.Context) ([]shopdomain.Unlock, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok || userID == 0 {
		return nil, shopdomain.ErrInvalidUser
	}

	var unlocks []shopdomain.Unlock
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc, id asc").
		Find(&unlocks).Error
	if err != nil {
		return nil, err
	}
	return unlocks, nil
}
