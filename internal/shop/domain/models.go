package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidSlug    = errors.New("invalid_filter_slug")
	ErrInvalidPrice   = errors.New("invalid_filter_price")
	ErrFilterNotFound = errors.New("filter_not_found")
)

// Filter is one purchasable photo filter. The catalog is seeded and
// read-only at runtime; prices are in points.
type Filter struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Slug        string       `gorm:"type:text;uniqueIndex" json:"slug"`
	Name        string       `gorm:"type:text;not null" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	Price       int64        `gorm:"not null" json:"price"`
	Position    int          `gorm:"not null;default:0" json:"position"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (Filter) TableName() string {
	return "shop_filters"
}

// Unlock marks a filter as owned by a user. The unique index keeps
// ownership single-row; buying again is a no-op.
type Unlock struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID     snowflake.ID `gorm:"index;uniqueIndex:ux_shop_unlocks_user_filter,priority:1" json:"user_id"`
	FilterSlug string       `gorm:"type:text;uniqueIndex:ux_shop_unlocks_user_filter,priority:2" json:"filter_slug"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (Unlock) TableName() string {
	return "shop_unlocks"
}

// PurchaseResult reports what the purchase did. AlreadyOwned means the
// call changed nothing and nothing was charged.
type PurchaseResult struct {
	Filter       Filter `json:"filter"`
	AlreadyOwned bool   `json:"already_owned"`
	Balance      int64  `json:"balance"`
}

type Service interface {
	// Catalog lists every filter, cheapest placement first.
	Catalog(ctx context.Context) ([]Filter, error)

	// Purchase debits the filter's price and unlocks it. The balance
	// check happens before any write; an insufficient balance leaves
	// no trace. Buying an owned filter succeeds without charging.
	Purchase(ctx context.Context, slug string) (PurchaseResult, error)

	// Unlocked lists the caller's owned filters in purchase order.
	Unlocked(ctx context.Context) ([]Unlock, error)

	// Reprice sets a filter's price. Operator surface only; existing
	// unlocks are untouched, the new price applies to future purchases.
	Reprice(ctx context.Context, slug string, price int64) (Filter, error)
}

// DefaultFilters is the seeded catalog.
func DefaultFilters() []Filter {
	return []Filter{
		{Slug: "sepia-memories", Name: "Sepia Memories", Description: "Every photo looks like it spent forty years in a shoebox.", Price: 50, Position: 1},
		{Slug: "lace-doily", Name: "Lace Doily", Description: "A delicate crocheted vignette around the edges.", Price: 120, Position: 2},
		{Slug: "golden-hour", Name: "Golden Hour", Description: "Warm kitchen-window light, even in the basement.", Price: 250, Position: 3},
		{Slug: "floral-apron", Name: "Floral Apron", Description: "Saturated florals and a hint of flour in the air.", Price: 400, Position: 4},
		{Slug: "sunday-best", Name: "Sunday Best", Description: "Polished, proper and ready for company.", Price: 800, Position: 5},
	}
}
