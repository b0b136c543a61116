package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type SignUpRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	UserAgent   string `json:"-"`
	IPAddress   string `json:"-"`
}

type LoginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	UserAgent string `json:"-"`
	IPAddress string `json:"-"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	UserAgent       string `json:"-"`
	IPAddress       string `json:"-"`
}

type Service interface {
	SignUp(ctx context.Context, req SignUpRequest) (*LoginResult, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)

	// Authenticate resolves a raw session token to its user. Expired and
	// revoked sessions fail with their own sentinel so the handler can
	// clear the cookie.
	Authenticate(ctx context.Context, rawToken string) (*User, *Session, error)

	Logout(ctx context.Context, rawToken string) error

	// ChangePassword verifies the current password before setting the new
	// one. Every existing session is revoked and a fresh one issued.
	ChangePassword(ctx context.Context, userID snowflake.ID, req ChangePasswordRequest) (*LoginResult, error)

	CurrentUser(ctx context.Context) (*User, error)
}
