package seed

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/babcialabs/babcia/internal/auth/domain"
	"github.com/babcialabs/babcia/internal/auth/password"
	personadomain "github.com/babcialabs/babcia/internal/persona/domain"
	shopdomain "github.com/babcialabs/babcia/internal/shop/domain"
	"gorm.io/gorm"
)

const (
	devUserEmail    = "dev@babcia.local"
	devUserPassword = "babcia"
	devUserDisplay  = "Dev Babcia"
)

// EnsureReferenceData seeds the persona roster and the filter catalog.
// Both are reference data keyed by stable identifiers, so reruns are
// no-ops and never clobber an operator's repricing.
func EnsureReferenceData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensurePersonas(ctx, tx); err != nil {
			return err
		}
		return ensureFilters(ctx, tx, node)
	})
}

// EnsureDevUser seeds an admin account for local development. Production
// deploys keep Bootstrap.EnsureDevUser off.
func EnsureDevUser(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user authdomain.User
		err := tx.WithContext(ctx).
			Where("email = ?", devUserEmail).
			First(&user).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hashed, err := password.Hash(devUserPassword)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		user = authdomain.User{
			ID:           node.Generate(),
			Email:        strings.ToLower(devUserEmail),
			DisplayName:  devUserDisplay,
			Role:         "admin",
			PasswordHash: &hashed,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.WithContext(ctx).Create(&user).Error
	})
}

func ensurePersonas(ctx context.Context, tx *gorm.DB) error {
	for _, p := range personadomain.Defaults() {
		var existing personadomain.Persona
		err := tx.WithContext(ctx).Where("id = ?", p.ID).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		p.CreatedAt = time.Now().UTC()
		if err := tx.WithContext(ctx).Create(&p).Error; err != nil {
			return err
		}
	}
	return nil
}

func ensureFilters(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	for _, f := range shopdomain.DefaultFilters() {
		var existing shopdomain.Filter
		err := tx.WithContext(ctx).Where("slug = ?", f.Slug).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		f.ID = node.Generate()
		f.CreatedAt = time.Now().UTC()
		if err := tx.WithContext(ctx).Create(&f).Error; err != nil {
			return err
		}
	}
	return nil
}
