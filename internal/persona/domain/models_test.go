package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPickLine_Deterministic(t *testing.T) {
	lines := []string{"a", "b", "c"}

	first := PickLine(lines, "bowl:123:tick:2")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, PickLine(lines, "bowl:123:tick:2"))
	}
	assert.Empty(t, PickLine(nil, "seed"))
}

func TestDefaults_DecksAreComplete(t *testing.T) {
	personas := Defaults()
	assert.Len(t, personas, 5)

	seen := map[string]bool{}
	for _, p := range personas {
		assert.False(t, seen[p.ID], "duplicate persona %s", p.ID)
		seen[p.ID] = true

		assert.NotEmpty(t, p.Name)
		assert.NotEmpty(t, p.Tone)
		assert.NotEmpty(t, p.Greetings, "%s greetings", p.ID)
		assert.NotEmpty(t, p.Cheers, "%s cheers", p.ID)
		assert.NotEmpty(t, p.Praises, "%s praises", p.ID)
		assert.NotEmpty(t, p.Encouragements, "%s encouragements", p.ID)
	}
}
