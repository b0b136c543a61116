package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	visiondomain "github.com/babcialabs/babcia/internal/vision/domain"
)

func TestVerifiedTotal_MultiplierTable(t *testing.T) {
	cases := []struct {
		name    string
		base    int64
		tier    VerificationTier
		verdict visiondomain.Verdict
		total   int64
		bonus   int64
	}{
		{"blue pass quadruples", 5, TierBlue, visiondomain.VerdictPass, 20, 15},
		{"blue fail rounds 12.5 up", 5, TierBlue, visiondomain.VerdictFail, 13, 8},
		{"golden pass pays tenfold", 5, TierGolden, visiondomain.VerdictPass, 50, 45},
		{"golden fail rounds 27.5 up", 5, TierGolden, visiondomain.VerdictFail, 28, 23},
		{"blue fail on base 1 still gains", 1, TierBlue, visiondomain.VerdictFail, 3, 2},
		{"blue fail on base 3 rounds 7.5 up", 3, TierBlue, visiondomain.VerdictFail, 8, 5},
		{"golden pass on base 12", 12, TierGolden, visiondomain.VerdictPass, 120, 108},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.total, VerifiedTotal(tc.base, tc.tier, tc.verdict))
			assert.Equal(t, tc.bonus, FinalizationBonus(tc.base, tc.tier, tc.verdict))
		})
	}
}

func TestFinalizationBonus_AlwaysBeatsUnverified(t *testing.T) {
	// A failed verification never pays less than finishing without
	// verifying, so attempting is never a losing move.
	for base := int64(1); base <= 25; base++ {
		for _, tier := range []VerificationTier{TierBlue, TierGolden} {
			for _, verdict := range []visiondomain.Verdict{visiondomain.VerdictPass, visiondomain.VerdictFail} {
				total := VerifiedTotal(base, tier, verdict)
				bonus := FinalizationBonus(base, tier, verdict)
				assert.Greater(t, total, base, "base %d %s %s", base, tier, verdict)
				assert.Positive(t, bonus, "base %d %s %s", base, tier, verdict)
				assert.Equal(t, total, base+bonus)
			}
		}
	}
}
