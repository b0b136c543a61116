package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/babcialabs/babcia/pkg/db/pagination"
)

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidKind        = errors.New("invalid_kind")
	ErrInvalidSourceID    = errors.New("invalid_source_id")
	ErrInvalidPoints      = errors.New("invalid_points")
	ErrInsufficientPoints = errors.New("insufficient_points")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
)

// CreditRequest appends a positive entry. Points must be > 0.
type CreditRequest struct {
	UserID     snowflake.ID
	BowlID     *snowflake.ID
	Kind       EntryKind
	SourceID   string
	Points     int64
	OccurredAt time.Time
}

// DebitRequest appends a negative entry after a balance check. Points is the
// positive amount to withdraw; the stored entry carries -Points.
type DebitRequest struct {
	UserID     snowflake.ID
	Kind       EntryKind
	SourceID   string
	Points     int64
	OccurredAt time.Time
}

// Summary aggregates a user's ledger without storing any running counter.
type Summary struct {
	Balance int64 `json:"balance"`
	Earned  int64 `json:"earned"`
	Spent   int64 `json:"spent"`
}

type ListEntriesRequest struct {
	UserID     snowflake.ID
	Kind       *EntryKind
	BowlID     *snowflake.ID
	Pagination pagination.Pagination
}

type ListEntriesResponse struct {
	Entries  []Entry             `json:"entries"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Service interface {
	// Credit appends a positive entry. A replay of the same (user, kind,
	// source) returns the previously written entry without posting again.
	Credit(ctx context.Context, req CreditRequest) (*Entry, error)

	// CreditTx appends inside the caller's transaction so a state
	// change and its ledger entry commit or roll back together.
	CreditTx(ctx context.Context, tx *gorm.DB, req CreditRequest) (*Entry, error)

	// Debit appends a negative entry if the user's balance covers it.
	// Replays behave like Credit replays.
	Debit(ctx context.Context, req DebitRequest) (*Entry, error)

	// BalanceOf folds the user's entries into a single signed balance.
	BalanceOf(ctx context.Context, userID snowflake.ID) (int64, error)

	// Summarize folds the ledger into balance, lifetime earned and spent.
	Summarize(ctx context.Context, userID snowflake.ID) (Summary, error)

	List(ctx context.Context, req ListEntriesRequest) (ListEntriesResponse, error)
}
