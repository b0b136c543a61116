package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/babcialabs/babcia/internal/area/domain"
	"github.com/babcialabs/babcia/pkg/db/option"
	"github.com/babcialabs/babcia/pkg/db/pagination"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, area *domain.Area) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO areas (id, user_id, name, slug, persona, daily_bowl_target, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		area.ID,
		area.UserID,
		area.Name,
		area.Slug,
		area.Persona,
		area.DailyBowlTarget,
		area.CreatedAt,
		area.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*domain.Area, error) {
	var area domain.Area
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, name, slug, persona, daily_bowl_target, created_at, updated_at
		 FROM areas WHERE user_id = ? AND id = ?`,
		userID,
		id,
	).Scan(&area).Error
	if err != nil {
		return nil, err
	}
	if area.ID == 0 {
		return nil, nil
	}
	return &area, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, userID snowflake.ID, page pagination.Pagination) ([]*domain.Area, error) {
	var areas []*domain.Area
	stmt := db.WithContext(ctx).
		Model(&domain.Area{}).
		Where("user_id = ?", userID)
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("created_at desc, id desc").
		Find(&areas).Error
	if err != nil {
		return nil, err
	}
	return areas, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, area *domain.Area) error {
	return db.WithContext(ctx).Exec(
		`UPDATE areas SET name = ?, daily_bowl_target = ?, updated_at = ?
		 WHERE user_id = ? AND id = ?`,
		area.Name,
		area.DailyBowlTarget,
		area.UpdatedAt,
		area.UserID,
		area.ID,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM areas WHERE user_id = ? AND id = ?`,
		userID,
		id,
	).Error
}
