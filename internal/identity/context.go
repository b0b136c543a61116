package identity

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type userContextKey struct{}

// WithUserID stamps the authenticated user onto the request context.
// Handlers resolve it once in middleware; services read it for
// ownership checks and audit attribution.
func WithUserID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, userContextKey{}, id)
}

func UserIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	id, ok := ctx.Value(userContextKey{}).(snowflake.ID)
	return id, ok
}

type actorContextKey struct{}

// Actor identifies who performed a mutation for audit entries.
// Source is "user" for session-authenticated calls and "system" for
// scheduler jobs.
type Actor struct {
	Source string
	UserID snowflake.ID
}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorContextKey{}).(Actor)
	return a, ok
}

// SystemActor is attached by background jobs that mutate state outside
// a user session.
func SystemActor() Actor {
	return Actor{Source: "system"}
}
