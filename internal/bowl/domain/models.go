package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"

	visiondomain "github.com/babcialabs/babcia/internal/vision/domain"
)

// BowlState is the lifecycle position of a bowl. Transitions only move
// forward: open -> all_tasks_complete -> awaiting_verification_photo ->
// finalized, with finish-without-verifying as the shortcut from
// all_tasks_complete straight to finalized. A bowl whose tasks are never
// all ticked stays open indefinitely.
type BowlState string

const (
	StateOpen                      BowlState = "open"
	StateAllTasksComplete          BowlState = "all_tasks_complete"
	StateAwaitingVerificationPhoto BowlState = "awaiting_verification_photo"
	StateFinalized                 BowlState = "finalized"
)

func (s BowlState) Valid() bool {
	switch s {
	case StateOpen, StateAllTasksComplete, StateAwaitingVerificationPhoto, StateFinalized:
		return true
	}
	return false
}

// VerificationTier selects the reward multiplier band. Golden is gated
// by the eligibility policy; blue is always available once every task
// is ticked.
type VerificationTier string

const (
	TierBlue   VerificationTier = "blue"
	TierGolden VerificationTier = "golden"
)

func (t VerificationTier) Valid() bool {
	return t == TierBlue || t == TierGolden
}

type Bowl struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID snowflake.ID `gorm:"index" json:"user_id"`
	AreaID snowflake.ID `gorm:"index" json:"area_id"`

	State BowlState `gorm:"type:text;not null;index" json:"state"`

	// VerificationEnabled is fixed when the bowl is created. Bowls
	// created with it off can only finish unverified.
	VerificationEnabled bool `gorm:"not null" json:"verification_enabled"`

	// PhotoRef points at the messy-area photo the task batch was
	// generated from.
	PhotoRef string `gorm:"type:text" json:"photo_ref"`

	// Persona is copied from the area at creation so commentary stays
	// consistent even if the area is later deleted. It never influences
	// points.
	Persona string `gorm:"type:text" json:"persona"`

	// BasePoints is the sum of the task point values, fixed at
	// creation. Every reward multiplier applies to this number.
	BasePoints int64 `gorm:"not null" json:"base_points"`

	// Tier and Verdict are set on the verification path: Tier when
	// verification is requested, Verdict when the judge rules.
	Tier    *VerificationTier `gorm:"type:text" json:"tier,omitempty"`
	Verdict *string           `gorm:"type:text" json:"verdict,omitempty"`

	// FinalPoints is the bowl's settled total once finalized: equal to
	// BasePoints for unverified finishes, the multiplied total
	// otherwise.
	FinalPoints *int64     `json:"final_points,omitempty"`
	FinalizedAt *time.Time `gorm:"index" json:"finalized_at,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Bowl) TableName() string {
	return "bowls"
}

// Task is one chore inside a bowl. The batch is immutable after
// creation and ticking is one way.
type Task struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	BowlID     snowflake.ID `gorm:"index" json:"bowl_id"`
	Title      string       `gorm:"type:text;not null" json:"title"`
	PointValue int64        `gorm:"not null" json:"point_value"`
	Ticked     bool         `gorm:"not null" json:"ticked"`
	TickedAt   *time.Time   `json:"ticked_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (Task) TableName() string {
	return "tasks"
}

// VerificationAttempt records a judged before/after submission. The row
// is written together with the verdict, so an unavailable judge leaves
// no trace and the user may resubmit. The unique index on bowl_id keeps
// it to one attempt per bowl for good.
type VerificationAttempt struct {
	ID             snowflake.ID     `gorm:"primaryKey" json:"id"`
	BowlID         snowflake.ID     `gorm:"uniqueIndex:ux_verification_attempts_bowl" json:"bowl_id"`
	UserID         snowflake.ID     `gorm:"index" json:"user_id"`
	Tier           VerificationTier `gorm:"type:text;not null" json:"tier"`
	BeforePhotoRef string           `gorm:"type:text;not null" json:"before_photo_ref"`
	AfterPhotoRef  string           `gorm:"type:text;not null" json:"after_photo_ref"`

	Verdict    visiondomain.Verdict `gorm:"type:text;not null" json:"verdict"`
	Confidence float64              `json:"confidence"`
	Commentary string               `gorm:"type:text" json:"commentary"`

	JudgedAt  time.Time `gorm:"index" json:"judged_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (VerificationAttempt) TableName() string {
	return "verification_attempts"
}
