package audit

import (
	"context"
	"errors"
	"strings"

	"authserver.org/internal/auth"
	"authserver.org/internal/obs"
)

type ctxKey struct{}

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

// RequestID returns the request identifier attached by WithRequestID.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

// LogEvent writes an audit record enriched with the request id and the
// authenticated actor.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if fields == nil {
		fields = map[string]any{}
	}
	e := obs.Logger().Info().Str("type", "audit").Str("event", event)
	if rid := RequestID(ctx); rid != "" {
		e = e.Str("request_id", rid)
	}
	if id, ok := auth.IdentityFromContext(ctx); ok {
		e = e.Str("actor_id", id.UserID)
	}
	e.Interface("fields", fields).Msg("audit")
	return nil
}
