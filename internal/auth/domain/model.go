package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is an account holder. Cleaning areas, bowls and ledger entries all
// hang off the user id.
type User struct {
	ID          snowflake.ID `json:"id,string" gorm:"primaryKey"`
	Email       string       `json:"email" gorm:"uniqueIndex:ux_users_email"`
	DisplayName string       `json:"display_name"`

	// Role is "user" or "admin". Admins reach the operator surface
	// (audit log, cross user dashboard); everyone else only sees their
	// own data.
	Role string `json:"role" gorm:"default:user"`

	// PasswordHash holds the encoded argon2id string. It is nil for accounts
	// seeded before a password was set.
	PasswordHash        *string    `json:"-" gorm:"column:password_hash"`
	LastPasswordChanged *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Session is a server side login session. The raw token only ever leaves the
// service inside LoginResult; the database keeps a sha256 of it.
type Session struct {
	ID               snowflake.ID `json:"id,string" gorm:"primaryKey"`
	UserID           snowflake.ID `json:"user_id,string" gorm:"index"`
	SessionTokenHash string       `json:"-" gorm:"uniqueIndex:ux_sessions_token_hash"`
	UserAgent        string       `json:"user_agent"`
	IPAddress        string       `json:"ip_address"`
	ExpiresAt        time.Time    `json:"expires_at" gorm:"index"`
	RevokedAt        *time.Time   `json:"revoked_at,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	LastSeenAt       time.Time    `json:"last_seen_at"`
}

func (Session) TableName() string {
	return "sessions"
}

// LoginResult is returned by SignUp and Login. RawToken is handed to the
// cookie layer and never stored.
type LoginResult struct {
	User      *User `json:"user"`
	SessionID snowflake.ID
	RawToken  string
	ExpiresAt time.Time `json:"expires_at"`
}
