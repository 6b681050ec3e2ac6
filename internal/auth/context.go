package auth

import "context"

type identityContextKey struct{}
type payloadContextKey struct{}

// ContextWithCaller attaches the authenticated caller to the context.
func ContextWithCaller(ctx context.Context, payload Payload, id Identity) context.Context {
	ctx = context.WithValue(ctx, payloadContextKey{}, &payload)
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext returns the caller's identity, if one was attached.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// PayloadFromContext returns the caller's verified token payload.
func PayloadFromContext(ctx context.Context) (*Payload, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(payloadContextKey{}).(*Payload)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// RequestFromContext builds an authorization request for the caller attached
// to ctx. An anonymous context yields a request with nil Payload and Identity.
func RequestFromContext(ctx context.Context, resource Resource, method string) Request {
	req := Request{Resource: resource, Method: method}
	if p, ok := PayloadFromContext(ctx); ok {
		req.Payload = p
	}
	if id, ok := IdentityFromContext(ctx); ok {
		req.Identity = id
	}
	return req
}
