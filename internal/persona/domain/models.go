package domain

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"github.com/lib/pq"
)

var ErrNotFound = errors.New("persona_not_found")

// Persona is a grandma voice: pure presentation copy pinned to an area.
// Nothing in the points economy ever branches on it.
type Persona struct {
	ID   string `gorm:"primaryKey;type:text" json:"id"`
	Name string `gorm:"type:text;not null" json:"name"`
	Tone string `gorm:"type:text;not null" json:"tone"`

	// Line decks, one per moment in a bowl's life.
	Greetings      pq.StringArray `gorm:"type:text[];not null" json:"greetings"`
	Cheers         pq.StringArray `gorm:"type:text[];not null" json:"cheers"`
	Praises        pq.StringArray `gorm:"type:text[];not null" json:"praises"`
	Encouragements pq.StringArray `gorm:"type:text[];not null" json:"encouragements"`

	CreatedAt time.Time `json:"created_at"`
}

func (Persona) TableName() string {
	return "personas"
}

type Repository interface {
	List(ctx context.Context) ([]Persona, error)
	GetByID(ctx context.Context, id string) (*Persona, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// PickLine selects a deck line deterministically from a seed, so the
// same moment always gets the same words.
func PickLine(lines []string, seed string) string {
	if len(lines) == 0 {
		return ""
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return lines[int(h.Sum32())%len(lines)]
}

// Defaults returns the built-in five grandmas. Seeding inserts them;
// they are reference data, not user content.
func Defaults() []Persona {
	return []Persona{
		{
			ID:   "halina",
			Name: "Babcia Halina",
			Tone: "warm",
			Greetings: pq.StringArray{
				"Oh, my dear, let us make this room lovely together.",
				"Come, come, a little tidying and then tea.",
			},
			Cheers: pq.StringArray{
				"That's my sunshine, one thing at a time.",
				"See how nice? Your hands know the way.",
			},
			Praises: pq.StringArray{
				"Beautiful! I could serve dinner off that floor.",
				"You make an old heart proud, kochanie.",
			},
			Encouragements: pq.StringArray{
				"No matter, the corners will wait for us tomorrow.",
				"You did plenty. Sit, rest, I am not worried.",
			},
		},
		{
			ID:   "grazyna",
			Name: "Babcia Grazyna",
			Tone: "brisk",
			Greetings: pq.StringArray{
				"Up, up. The mess will not chase itself out.",
				"Five things. We do them now, talk later.",
			},
			Cheers: pq.StringArray{
				"Good. Next.",
				"Faster than your grandfather ever was.",
			},
			Praises: pq.StringArray{
				"Now THAT is a finished job. Finally.",
				"Acceptable. More than acceptable. Well done.",
			},
			Encouragements: pq.StringArray{
				"Half done is still done by half. Tomorrow, the rest.",
				"We do not cry over dust. We schedule it.",
			},
		},
		{
			ID:   "jadwiga",
			Name: "Babcia Jadwiga",
			Tone: "dramatic",
			Greetings: pq.StringArray{
				"Such chaos! A stage worthy of our great performance.",
				"Today we transform tragedy into triumph, darling.",
			},
			Cheers: pq.StringArray{
				"Magnificent! The audience gasps!",
				"One more act and the critics will weep.",
			},
			Praises: pq.StringArray{
				"A standing ovation! The room, reborn!",
				"Flawless. Frame a photo for the hallway.",
			},
			Encouragements: pq.StringArray{
				"Even the finest opera has an intermission.",
				"The encore comes tomorrow, and it will be glorious.",
			},
		},
		{
			ID:   "bozena",
			Name: "Babcia Bozena",
			Tone: "competitive",
			Greetings: pq.StringArray{
				"Irena's grandson cleaned two rooms yesterday. Two!",
				"Show me this family still has champions.",
			},
			Cheers: pq.StringArray{
				"Point for us! Keep the lead.",
				"That's how winners wipe a counter.",
			},
			Praises: pq.StringArray{
				"Gold medal. I will mention this at church.",
				"Nobody on this street cleans like my family.",
			},
			Encouragements: pq.StringArray{
				"A champion rests, then wins the rematch.",
				"We lost the point, not the season.",
			},
		},
		{
			ID:   "krysia",
			Name: "Babcia Krysia",
			Tone: "gentle",
			Greetings: pq.StringArray{
				"Only if you feel like it, dear. Shall we try a little?",
				"Small steps. The room is patient, and so am I.",
			},
			Cheers: pq.StringArray{
				"There now. Wasn't that kind to yourself?",
				"Softly, softly, and look how far you've come.",
			},
			Praises: pq.StringArray{
				"What a calm, lovely space you've made.",
				"You cared for your home, and it shows.",
			},
			Encouragements: pq.StringArray{
				"Some days the broom is heavy. That's alright.",
				"Rest now. The room already looks friendlier.",
			},
		},
	}
}
