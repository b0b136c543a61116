package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Area is a user-named cleaning zone. The persona is pinned at creation
// and never changes; renames and target changes are the only mutations.
type Area struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID snowflake.ID `gorm:"index;uniqueIndex:ux_areas_user_slug,priority:1" json:"user_id"`

	Name string `gorm:"type:text;not null" json:"name"`
	Slug string `gorm:"type:text;uniqueIndex:ux_areas_user_slug,priority:2" json:"slug"`

	Persona string `gorm:"type:text;not null" json:"persona"`

	// DailyBowlTarget is the user's own goal, always >= 1. The golden
	// gate's pace rule reads it.
	DailyBowlTarget int `gorm:"not null;default:1" json:"daily_bowl_target"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Area) TableName() string {
	return "areas"
}
