package bowl

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	bowldomain "github.com/babcialabs/babcia/internal/bowl/domain"
	"github.com/babcialabs/babcia/internal/bowl/service"
	eligibilitydomain "github.com/babcialabs/babcia/internal/eligibility/domain"
)

// verificationHistory answers the eligibility policy's questions from
// the bowl tables.
type verificationHistory struct {
	db *gorm.DB
}

func (h *verificationHistory) LastCompletedGolden(ctx context.Context, userID snowflake.ID) (*time.Time, error) {
	var attempt bowldomain.VerificationAttempt
	err := h.db.WithContext(ctx).
		Where("user_id = ? AND tier = ?", userID, string(bowldomain.TierGolden)).
		Order("judged_at desc").
		First(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	judgedAt := attempt.JudgedAt
	return &judgedAt, nil
}

func (h *verificationHistory) FinalizedBowlCountSince(ctx context.Context, userID snowflake.ID, since time.Time) (int, error) {
	var count int64
	err := h.db.WithContext(ctx).
		Model(&bowldomain.Bowl{}).
		Where("user_id = ? AND state = ? AND finalized_at >= ?", userID, string(bowldomain.StateFinalized), since).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func newVerificationHistory(db *gorm.DB) eligibilitydomain.VerificationHistory {
	return &verificationHistory{db: db}
}

var Module = fx.Module("bowl.service",
	fx.Provide(newVerificationHistory),
	fx.Provide(service.NewService),
)
