package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	authdomain "github.com/babcialabs/babcia/internal/auth/domain"
	"github.com/babcialabs/babcia/internal/auth/session"
	"github.com/babcialabs/babcia/internal/config"
)

type fakeAuthService struct {
	loginCalls  int
	loginErr    error
	logoutCalls int
}

func (f *fakeAuthService) SignUp(ctx context.Context, req authdomain.SignUpRequest) (*authdomain.LoginResult, error) {
	return f.result(req.Email), nil
}

func (f *fakeAuthService) Login(ctx context.Context, req authdomain.LoginRequest) (*authdomain.LoginResult, error) {
	f.loginCalls++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.result(req.Email), nil
}

func (f *fakeAuthService) Authenticate(ctx context.Context, rawToken string) (*authdomain.User, *authdomain.Session, error) {
	return nil, nil, authdomain.ErrSessionNotFound
}

func (f *fakeAuthService) Logout(ctx context.Context, rawToken string) error {
	f.logoutCalls++
	return nil
}

func (f *fakeAuthService) ChangePassword(ctx context.Context, userID snowflake.ID, req authdomain.ChangePasswordRequest) (*authdomain.LoginResult, error) {
	return f.result("user@example.com"), nil
}

func (f *fakeAuthService) CurrentUser(ctx context.Context) (*authdomain.User, error) {
	return nil, authdomain.ErrUserNotFound
}

func (f *fakeAuthService) result(email string) *authdomain.LoginResult {
	return &authdomain.LoginResult{
		User:      &authdomain.User{ID: snowflake.ID(200), Email: email},
		SessionID: snowflake.ID(300),
		RawToken:  "raw-session-token",
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func newAuthRouter(svc authdomain.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	srv := &Server{
		authsvc:  svc,
		sessions: session.NewManager(config.Config{}),
	}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/auth/login", srv.Login)
	router.POST("/auth/logout", srv.Logout)
	return router
}

func TestLoginSetsSessionCookie(t *testing.T) {
	svc := &fakeAuthService{}
	router := newAuthRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"babcia@example.com","password":"pierogi123"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if svc.loginCalls != 1 {
		t.Fatalf("expected one login call, got %d", svc.loginCalls)
	}

	setCookie := resp.Header().Get("Set-Cookie")
	if !strings.Contains(setCookie, session.DefaultCookieName+"=raw-session-token") {
		t.Fatalf("expected session cookie, got %q", setCookie)
	}
	if !strings.Contains(setCookie, "HttpOnly") {
		t.Fatalf("expected http-only cookie, got %q", setCookie)
	}
}

func TestLoginBadCredentialsIs401(t *testing.T) {
	svc := &fakeAuthService{loginErr: authdomain.ErrInvalidCredentials}
	router := newAuthRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":"babcia@example.com","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestLogoutWithoutCookieIs401(t *testing.T) {
	svc := &fakeAuthService{}
	router := newAuthRouter(svc)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
	if svc.logoutCalls != 0 {
		t.Fatalf("expected logout service untouched, got %d calls", svc.logoutCalls)
	}
}
