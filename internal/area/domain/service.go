package domain

import (
	"context"
	"errors"

	"github.com/babcialabs/babcia/pkg/db/pagination"
)

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidID      = errors.New("invalid_area_id")
	ErrInvalidName    = errors.New("invalid_area_name")
	ErrInvalidPersona = errors.New("invalid_persona")
	ErrInvalidTarget  = errors.New("invalid_daily_bowl_target")
	ErrDuplicateName  = errors.New("duplicate_area_name")
	ErrNotFound       = errors.New("area_not_found")
)

type CreateAreaRequest struct {
	Name            string `json:"name"`
	Persona         string `json:"persona"`
	DailyBowlTarget int    `json:"daily_bowl_target"`
}

// UpdateAreaRequest carries the only mutable attributes. The persona is
// deliberately absent: it is immutable after creation.
type UpdateAreaRequest struct {
	ID              string  `json:"-"`
	Name            *string `json:"name,omitempty"`
	DailyBowlTarget *int    `json:"daily_bowl_target,omitempty"`
}

type ListAreaRequest struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

type ListAreaResponse struct {
	Areas    []Area              `json:"areas"`
	PageInfo pagination.PageInfo `json:"page_info"`
}

type Service interface {
	Create(ctx context.Context, req CreateAreaRequest) (Area, error)
	GetByID(ctx context.Context, id string) (Area, error)
	List(ctx context.Context, req ListAreaRequest) (ListAreaResponse, error)
	Update(ctx context.Context, req UpdateAreaRequest) (Area, error)

	// Delete removes the area and everything it owns: bowls, their
	// tasks and verification attempts. Ledger entries survive, history
	// is never rewritten.
	Delete(ctx context.Context, id string) error
}
