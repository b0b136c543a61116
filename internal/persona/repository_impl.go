package persona

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/babcialabs/babcia/internal/persona/domain"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context) ([]domain.Persona, error) {
	var personas []domain.Persona
	err := r.db.WithContext(ctx).
		Order("id asc").
		Find(&personas).Error
	if err != nil {
		return nil, err
	}
	return personas, nil
}

func (r *repository) GetByID(ctx context.Context, id string) (*domain.Persona, error) {
	var persona domain.Persona
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&persona).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &persona, nil
}

func (r *repository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Persona{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
