package area

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/babcialabs/babcia/internal/area/repository"
	"github.com/babcialabs/babcia/internal/area/service"
	eligibilitydomain "github.com/babcialabs/babcia/internal/eligibility/domain"
)

// targetReader feeds the golden-tier pace rule. It is keyed by area id
// alone: callers hand it ids taken from bowls that already passed an
// ownership check.
type targetReader struct {
	db *gorm.DB
}

func (t *targetReader) DailyBowlTarget(ctx context.Context, areaID snowflake.ID) (int, error) {
	var target int
	err := t.db.WithContext(ctx).
		Raw(`SELECT daily_bowl_target FROM areas WHERE id = ?`, areaID).
		Scan(&target).Error
	if err != nil {
		return 0, err
	}
	return target, nil
}

func newTargetReader(db *gorm.DB) eligibilitydomain.TargetReader {
	return &targetReader{db: db}
}

var Module = fx.Module("area.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(newTargetReader),
)
