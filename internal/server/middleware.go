package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	authdomain "github.com/babcialabs/babcia/internal/auth/domain"
	"github.com/babcialabs/babcia/internal/identity"
	obscontext "github.com/babcialabs/babcia/internal/observability/context"
	"github.com/babcialabs/babcia/internal/ratelimit"
)

const contextUserKey = "current_user"

// AuthRequired resolves the session cookie to a user and stamps the
// request context. Expired and revoked sessions clear the cookie so the
// app stops replaying a dead token.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		user, _, err := s.authsvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, authdomain.ErrSessionExpired) ||
				errors.Is(err, authdomain.ErrSessionRevoked) ||
				errors.Is(err, authdomain.ErrSessionNotFound) {
				s.sessions.Clear(c)
			}
			AbortWithError(c, err)
			return
		}

		ctx := identity.WithUserID(c.Request.Context(), user.ID)
		ctx = identity.WithActor(ctx, identity.Actor{Source: "user", UserID: user.ID})
		ctx = obscontext.WithUserID(ctx, user.ID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextUserKey, user)

		c.Next()
	}
}

func currentUser(c *gin.Context) (*authdomain.User, bool) {
	value, ok := c.Get(contextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := value.(*authdomain.User)
	return user, ok
}

// authorizeAction gates a route on a casbin capability. The actor is
// always the session user; scheduler jobs authorize themselves outside
// the HTTP layer.
func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := identity.UserIDFromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor := fmt.Sprintf("user:%s", userID.String())
		if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}

		c.Next()
	}
}

// BowlGenerationRateLimit bounds how often one user can burn a vision
// model call on a new bowl. A missing limiter passes everything.
func (s *Server) BowlGenerationRateLimit() gin.HandlerFunc {
	return s.modelCallRateLimit(func(c *gin.Context) (*ratelimit.RateLimitResult, error) {
		userID, _ := identity.UserIDFromContext(c.Request.Context())
		return s.modelLimiter.AllowBowlGeneration(c.Request.Context(), userID)
	})
}

func (s *Server) VerificationSubmitRateLimit() gin.HandlerFunc {
	return s.modelCallRateLimit(func(c *gin.Context) (*ratelimit.RateLimitResult, error) {
		userID, _ := identity.UserIDFromContext(c.Request.Context())
		return s.modelLimiter.AllowVerificationSubmit(c.Request.Context(), userID)
	})
}

func (s *Server) modelCallRateLimit(allow func(c *gin.Context) (*ratelimit.RateLimitResult, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.modelLimiter == nil || !s.modelLimiter.Enabled() {
			c.Next()
			return
		}

		result, err := allow(c)
		if err != nil {
			// A broken limiter must not take the product down with it.
			c.Next()
			return
		}
		if !result.Allowed {
			retryAfter := result.RetryAfter
			if retryAfter <= 0 {
				retryAfter = time.Second
			}
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds()+0.999)))
			AbortWithError(c, ErrTooManyRequests)
			return
		}

		c.Next()
	}
}
