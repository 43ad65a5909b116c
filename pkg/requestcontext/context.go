// Package requestcontext provides HTTP-independent accessors for request-scoped values.
//
// Middleware sets these values; services read them only as a fallback when the
// caller did not pass actor or network metadata explicitly.
//
// Usage in services (read values):
//
//	actor := requestcontext.ActorID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithActor(ctx, "user-1", "session-1")
package requestcontext

import (
	"context"
	"time"
)

type (
	actorIDKey           struct{}
	sessionIDKey         struct{}
	deviceFingerprintKey struct{}
	clientIPKey          struct{}
	userAgentKey         struct{}
	requestIDKey         struct{}
	requestTimeKey       struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyActorID           = actorIDKey{}
	ContextKeySessionID         = sessionIDKey{}
	ContextKeyDeviceFingerprint = deviceFingerprintKey{}
	ContextKeyClientIP          = clientIPKey{}
	ContextKeyUserAgent         = userAgentKey{}
	ContextKeyRequestID         = requestIDKey{}
	ContextKeyRequestTime       = requestTimeKey{}
)

func stringValue(ctx context.Context, key any) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// -----------------------------------------------------------------------------
// Actor
// -----------------------------------------------------------------------------

// ActorID returns the authenticated actor, or "" when unauthenticated.
func ActorID(ctx context.Context) string {
	return stringValue(ctx, ContextKeyActorID)
}

// SessionID returns the actor's session, or "".
func SessionID(ctx context.Context) string {
	return stringValue(ctx, ContextKeySessionID)
}

// WithActor injects the actor and session IDs.
func WithActor(ctx context.Context, actorID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyActorID, actorID)
	if sessionID != "" {
		ctx = context.WithValue(ctx, ContextKeySessionID, sessionID)
	}
	return ctx
}

// -----------------------------------------------------------------------------
// Client metadata (IP, User-Agent, device)
// -----------------------------------------------------------------------------

func ClientIP(ctx context.Context) string {
	return stringValue(ctx, ContextKeyClientIP)
}

func UserAgent(ctx context.Context) string {
	return stringValue(ctx, ContextKeyUserAgent)
}

// WithClientMetadata injects client IP and User-Agent into a context.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// DeviceFingerprint returns the pre-computed device fingerprint.
func DeviceFingerprint(ctx context.Context) string {
	return stringValue(ctx, ContextKeyDeviceFingerprint)
}

func WithDeviceFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, ContextKeyDeviceFingerprint, fingerprint)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

func RequestID(ctx context.Context) string {
	return stringValue(ctx, ContextKeyRequestID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for workers, jobs and tests that did not set one.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Batch jobs use it to keep a
// single "now" across every candidate in a run.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
