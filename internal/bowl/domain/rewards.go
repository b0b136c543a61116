package domain

import (
	"math"

	visiondomain "github.com/babcialabs/babcia/internal/vision/domain"
)

// Reward multipliers per tier and verdict, applied to the bowl's base
// points. A failed verification still beats finishing unverified, so
// attempting is never a losing move.
var rewardMultipliers = map[VerificationTier]map[visiondomain.Verdict]float64{
	TierBlue: {
		visiondomain.VerdictPass: 4.0,
		visiondomain.VerdictFail: 2.5,
	},
	TierGolden: {
		visiondomain.VerdictPass: 10.0,
		visiondomain.VerdictFail: 5.5,
	},
}

// roundHalfAwayFromZero is the single rounding policy for reward math.
// Fractional totals round to the nearest integer with ties going away
// from zero: 27.5 becomes 28.
func roundHalfAwayFromZero(v float64) int64 {
	return int64(math.Round(v))
}

// VerifiedTotal is the settled point total for a verified bowl:
// the tier/verdict multiplier applied to base, rounded once.
func VerifiedTotal(base int64, tier VerificationTier, verdict visiondomain.Verdict) int64 {
	return roundHalfAwayFromZero(float64(base) * rewardMultipliers[tier][verdict])
}

// FinalizationBonus is the size of the single ledger entry written at
// verified finalization. Task ticks already paid out base, so the
// entry tops the bowl up to its verified total.
func FinalizationBonus(base int64, tier VerificationTier, verdict visiondomain.Verdict) int64 {
	return VerifiedTotal(base, tier, verdict) - base
}
