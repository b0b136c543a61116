package service

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/config"
	eligibilitydomain "github.com/babcialabs/babcia/internal/eligibility/domain"
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Holder  *config.EligibilityConfigHolder
	Clock   clock.Clock
	History eligibilitydomain.VerificationHistory
	Targets eligibilitydomain.TargetReader
}

type Policy struct {
	log     *zap.Logger
	holder  *config.EligibilityConfigHolder
	clock   clock.Clock
	history eligibilitydomain.VerificationHistory
	targets eligibilitydomain.TargetReader
	loc     *time.Location
}

func NewPolicy(p Params) eligibilitydomain.Policy {
	loc, err := time.LoadLocation(p.Config.StreakTimezone)
	if err != nil {
		p.Log.Warn("invalid calendar timezone, falling back to UTC",
			zap.String("timezone", p.Config.StreakTimezone),
			zap.Error(err),
		)
		loc = time.UTC
	}

	return &Policy{
		log:     p.Log.Named("eligibility.policy"),
		holder:  p.Holder,
		clock:   p.Clock,
		history: p.History,
		targets: p.Targets,
		loc:     loc,
	}
}

func (p *Policy) IsEligible(ctx context.Context, req eligibilitydomain.Request) (eligibilitydomain.Decision, error) {
	now := p.clock.Now().In(p.loc)

	lastGolden, err := p.history.LastCompletedGolden(ctx, req.UserID)
	if err != nil {
		return eligibilitydomain.Decision{}, err
	}

	target, err := p.targets.DailyBowlTarget(ctx, req.AreaID)
	if err != nil {
		return eligibilitydomain.Decision{}, err
	}

	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, p.loc)
	finalizedToday, err := p.history.FinalizedBowlCountSince(ctx, req.UserID, dayStart)
	if err != nil {
		return eligibilitydomain.Decision{}, err
	}

	decision := eligibilitydomain.Evaluate(eligibilitydomain.Inputs{
		Now:                 now,
		LastCompletedGolden: lastGolden,
		FinalizedToday:      finalizedToday,
		DailyBowlTarget:     target,
	}, p.holder.Get())

	p.log.Debug("golden eligibility evaluated",
		zap.String("user_id", req.UserID.String()),
		zap.String("area_id", req.AreaID.String()),
		zap.Bool("eligible", decision.Eligible),
		zap.String("reason", decision.Reason),
	)
	return decision, nil
}
