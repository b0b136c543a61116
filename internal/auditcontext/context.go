package auditcontext

import "context"

type requestIDKey struct{}

type ipAddressKey struct{}

type userAgentKey struct{}

type actorKey struct{}

type bowlIDKey struct{}

type areaIDKey struct{}

type actorValue struct {
	actorType string
	actorID   string
}

// WithRequestID attaches the request ID used to correlate audit rows
// with request logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, requestIDKey{})
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, ipAddressKey{}, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	return stringFromContext(ctx, ipAddressKey{})
}

func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	if userAgent == "" {
		return ctx
	}
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}

func UserAgentFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userAgentKey{})
}

// WithActor records the acting principal for audit attribution.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorValue{actorType: actorType, actorID: actorID})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if v, ok := ctx.Value(actorKey{}).(actorValue); ok {
		return v.actorType, v.actorID
	}
	return "", ""
}

// WithBowlID tags downstream audit entries with the bowl being acted on.
func WithBowlID(ctx context.Context, bowlID string) context.Context {
	if bowlID == "" {
		return ctx
	}
	return context.WithValue(ctx, bowlIDKey{}, bowlID)
}

func BowlIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, bowlIDKey{})
}

// WithAreaID tags downstream audit entries with the area being acted on.
func WithAreaID(ctx context.Context, areaID string) context.Context {
	if areaID == "" {
		return ctx
	}
	return context.WithValue(ctx, areaIDKey{}, areaID)
}

func AreaIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, areaIDKey{})
}

func stringFromContext(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
