package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/babcialabs/babcia/internal/config"
)

const (
	ReasonNoRecentGolden = "no_recent_golden"
	ReasonBehindPace     = "behind_pace"
	ReasonOnPace         = "on_pace"
)

// Decision carries the answer plus the rule that produced it, so the
// gate stays auditable.
type Decision struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason"`
}

type Request struct {
	UserID snowflake.ID
	AreaID snowflake.ID
}

// Policy answers whether the golden tier may be offered right now. The
// answer is recomputed on every call, never cached per bowl.
type Policy interface {
	IsEligible(ctx context.Context, req Request) (Decision, error)
}

// VerificationHistory is the slice of bowl state the policy reads.
type VerificationHistory interface {
	// LastCompletedGolden returns when the user's most recent
	// golden-tier attempt was judged, or nil if there is none.
	LastCompletedGolden(ctx context.Context, userID snowflake.ID) (*time.Time, error)

	// FinalizedBowlCountSince counts the user's bowls finalized at or
	// after the given instant.
	FinalizedBowlCountSince(ctx context.Context, userID snowflake.ID, since time.Time) (int, error)
}

// TargetReader resolves an area's daily bowl target.
type TargetReader interface {
	DailyBowlTarget(ctx context.Context, areaID snowflake.ID) (int, error)
}

// Inputs is everything Evaluate looks at. Gathering them is the
// service's job; deciding is this pure function's.
type Inputs struct {
	// Now must already be in the calendar zone used for day bucketing.
	Now                 time.Time
	LastCompletedGolden *time.Time
	FinalizedToday      int
	DailyBowlTarget     int
}

// Evaluate applies the two-rule gate deterministically. No randomness:
// identical inputs always yield the identical decision.
func Evaluate(in Inputs, cfg config.EligibilityConfig) Decision {
	window := time.Duration(cfg.GoldenRecencyDays) * 24 * time.Hour
	if in.LastCompletedGolden == nil || in.Now.Sub(*in.LastCompletedGolden) >= window {
		return Decision{Eligible: true, Reason: ReasonNoRecentGolden}
	}

	target := in.DailyBowlTarget
	if target < 1 {
		target = 1
	}
	year, month, day := in.Now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, in.Now.Location())
	elapsed := in.Now.Sub(dayStart).Hours() / 24

	expected := float64(target) * elapsed * cfg.PaceGraceRatio
	if float64(in.FinalizedToday) < expected {
		return Decision{Eligible: true, Reason: ReasonBehindPace}
	}

	return Decision{Eligible: false, Reason: ReasonOnPace}
}
