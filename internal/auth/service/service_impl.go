package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
	"github.com/babcialabs/babcia/internal/auth/domain"
	"github.com/babcialabs/babcia/internal/auth/password"
	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/events"
	"github.com/babcialabs/babcia/internal/identity"
	"github.com/babcialabs/babcia/pkg/db"
)

const (
	sessionTTL        = 7 * 24 * time.Hour
	minPasswordLength = 8
	tokenBytes        = 32
)

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Sessions domain.SessionRepository
	AuditSvc auditdomain.Service
	Outbox   *events.Outbox `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	sessions domain.SessionRepository
	auditSvc auditdomain.Service
	outbox   *events.Outbox
}

func NewService(p Params) domain.Service {
	return &Service{
		log:      p.Log,
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		sessions: p.Sessions,
		auditSvc: p.AuditSvc,
		outbox:   p.Outbox,
	}
}

func (s *Service) SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.LoginResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	if len(req.Password) < minPasswordLength {
		return nil, domain.ErrWeakPassword
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = email[:strings.Index(email, "@")]
	}

	existing, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrUserExists
	}

	hash, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	user := &domain.User{
		ID:                  s.genID.Generate(),
		Email:               email,
		DisplayName:         displayName,
		Role:                "user",
		PasswordHash:        &hash,
		LastPasswordChanged: &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrUserExists
		}
		return nil, err
	}

	s.log.Info("user signed up",
		zap.String("user_id", user.ID.String()),
		zap.String("email", user.Email),
	)

	if s.outbox != nil {
		if err := s.outbox.Publish(ctx, events.Event{
			UserID:    user.ID,
			Type:      events.EventUserSignedUp,
			Payload:   map[string]any{"email": user.Email},
			DedupeKey: "user_signed_up:" + user.ID.String(),
		}); err != nil {
			s.log.Warn("failed to publish signup event", zap.Error(err))
		}
	}
	s.audit(ctx, user.ID, "auth.signup", map[string]any{"email": user.Email})

	return s.createSession(ctx, user, req.UserAgent, req.IPAddress)
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.PasswordHash == nil {
		return nil, domain.ErrInvalidCredentials
	}

	ok, err := password.Verify(req.Password, *user.PasswordHash)
	if err != nil || !ok {
		return nil, domain.ErrInvalidCredentials
	}

	s.audit(ctx, user.ID, "auth.login", nil)
	return s.createSession(ctx, user, req.UserAgent, req.IPAddress)
}

func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.User, *domain.Session, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, nil, domain.ErrSessionNotFound
	}

	session, err := s.sessions.GetSessionByTokenHash(ctx, hashToken(rawToken))
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, domain.ErrSessionNotFound
	}
	if session.RevokedAt != nil {
		return nil, nil, domain.ErrSessionRevoked
	}

	now := s.clock.Now().UTC()
	if session.ExpiresAt.Before(now) {
		return nil, nil, domain.ErrSessionExpired
	}

	if err := s.sessions.UpdateLastSeen(ctx, session.ID, now); err != nil {
		s.log.Warn("failed to update session last seen", zap.Error(err))
	}

	user, err := s.repo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, domain.ErrUserNotFound
	}
	return user, session, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil
	}

	session, err := s.sessions.GetSessionByTokenHash(ctx, hashToken(rawToken))
	if err != nil {
		return err
	}
	if session == nil || session.RevokedAt != nil {
		// Logging out twice is a no-op.
		return nil
	}

	if err := s.sessions.RevokeSession(ctx, session.ID, s.clock.Now().UTC()); err != nil {
		return err
	}
	s.audit(ctx, session.UserID, "auth.logout", nil)
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID snowflake.ID, req domain.ChangePasswordRequest) (*domain.LoginResult, error) {
	if len(req.NewPassword) < minPasswordLength {
		return nil, domain.ErrWeakPassword
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	if user.PasswordHash == nil {
		return nil, domain.ErrInvalidCredentials
	}

	ok, err := password.Verify(req.CurrentPassword, *user.PasswordHash)
	if err != nil || !ok {
		return nil, domain.ErrInvalidCredentials
	}

	hash, err := password.Hash(req.NewPassword)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	user.PasswordHash = &hash
	user.LastPasswordChanged = &now
	user.UpdatedAt = now
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, err
	}

	if err := s.sessions.RevokeAllForUser(ctx, userID, now); err != nil {
		s.log.Warn("failed to revoke sessions after password change", zap.Error(err))
	}
	s.audit(ctx, userID, "auth.password_changed", nil)

	return s.createSession(ctx, user, req.UserAgent, req.IPAddress)
}

func (s *Service) CurrentUser(ctx context.Context) (*domain.User, error) {
	userID, ok := identity.UserIDFromContext(ctx)
	if !ok {
		return nil, domain.ErrUserNotFound
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) createSession(ctx context.Context, user *domain.User, userAgent, ipAddress string) (*domain.LoginResult, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := s.clock.Now().UTC()
	session := &domain.Session{
		ID:               s.genID.Generate(),
		UserID:           user.ID,
		SessionTokenHash: hashToken(token),
		UserAgent:        userAgent,
		IPAddress:        ipAddress,
		ExpiresAt:        now.Add(sessionTTL),
		CreatedAt:        now,
		LastSeenAt:       now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	return &domain.LoginResult{
		User:      user,
		SessionID: session.ID,
		RawToken:  token,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

func (s *Service) audit(ctx context.Context, userID snowflake.ID, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := userID.String()
	if err := s.auditSvc.AuditLog(ctx, &userID, "", nil, action, "user", &targetID, metadata); err != nil {
		s.log.Warn("failed to write auth audit log", zap.String("action", action), zap.Error(err))
	}
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(addr.Address), nil
}
