package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/babcialabs/babcia/pkg/db/pagination"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, area *Area) error
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Area, error)
	List(ctx context.Context, db *gorm.DB, userID snowflake.ID, page pagination.Pagination) ([]*Area, error)
	Update(ctx context.Context, db *gorm.DB, area *Area) error
	Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) error
}
