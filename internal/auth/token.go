package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer        = "authserver"
	DefaultTokenTTL      = 5 * time.Minute
	DefaultRefreshWindow = 7 * 24 * time.Hour
	defaultLeeway        = 5 * time.Second
)

// PermissionClaim is one entry of the permissions claim.
type PermissionClaim struct {
	Name string `json:"name"`
}

// Claims is the signed token body.
type Claims struct {
	UserID       string            `json:"user_id"`
	Email        string            `json:"email,omitempty"`
	OrigIssuedAt int64             `json:"orig_iat,omitempty"`
	Permissions  []PermissionClaim `json:"permissions"`
	jwt.RegisteredClaims
}

// Payload is a verified token body. HasPermissions is false when the token
// carried no permissions claim or the claim was not a list of {name} objects;
// such a payload never authorizes a non-superuser.
type Payload struct {
	Subject        string
	UserID         string
	Email          string
	TokenID        string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	OrigIssuedAt   time.Time
	Permissions    []string
	HasPermissions bool
}

// Grants reports whether name is listed in the permissions claim. Matching is
// exact and case-sensitive.
func (p Payload) Grants(name string) bool {
	if !p.HasPermissions {
		return false
	}
	for _, have := range p.Permissions {
		if have == name {
			return true
		}
	}
	return false
}

// TokenCodec signs and verifies HS256 access tokens.
type TokenCodec struct {
	secret        []byte
	issuer        string
	ttl           time.Duration
	refreshWindow time.Duration
	leeway        time.Duration
	now           func() time.Time
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec) error

// WithIssuer overrides the iss claim written and expected.
func WithIssuer(issuer string) TokenOption {
	return func(c *TokenCodec) error {
		issuer = strings.TrimSpace(issuer)
		if issuer == "" {
			return errors.New("auth: issuer must not be empty")
		}
		c.issuer = issuer
		return nil
	}
}

// WithTokenTTL sets the access token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(c *TokenCodec) error {
		if ttl <= 0 {
			return errors.New("auth: token ttl must be greater than zero")
		}
		c.ttl = ttl
		return nil
	}
}

// WithRefreshWindow bounds how long after the original login a token chain
// may still be refreshed.
func WithRefreshWindow(d time.Duration) TokenOption {
	return func(c *TokenCodec) error {
		if d <= 0 {
			return errors.New("auth: refresh window must be greater than zero")
		}
		c.refreshWindow = d
		return nil
	}
}

// WithClock injects the time source, mainly for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCodec) error {
		if now == nil {
			return errors.New("auth: clock must not be nil")
		}
		c.now = now
		return nil
	}
}

// NewTokenCodec builds a codec around an HMAC secret.
func NewTokenCodec(secret string, opts ...TokenOption) (*TokenCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is not configured")
	}
	c := &TokenCodec{
		secret:        []byte(secret),
		issuer:        DefaultIssuer,
		ttl:           DefaultTokenTTL,
		refreshWindow: DefaultRefreshWindow,
		leeway:        defaultLeeway,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Encode signs a token for user carrying permissions. origIssuedAt is the time
// of the interactive login that started the chain; zero means now.
func (c *TokenCodec) Encode(user User, permissions []string, origIssuedAt time.Time) (string, Payload, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", Payload{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := c.now().UTC().Truncate(time.Second)
	if origIssuedAt.IsZero() {
		origIssuedAt = now
	}
	origIssuedAt = origIssuedAt.UTC().Truncate(time.Second)
	names := normalizePermissions(permissions)

	claimList := make([]PermissionClaim, 0, len(names))
	for _, name := range names {
		claimList = append(claimList, PermissionClaim{Name: name})
	}
	claims := Claims{
		UserID:       user.ID,
		Email:        user.Email,
		OrigIssuedAt: origIssuedAt.Unix(),
		Permissions:  claimList,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", Payload{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, Payload{
		Subject:        user.ID,
		UserID:         user.ID,
		Email:          user.Email,
		TokenID:        claims.ID,
		IssuedAt:       now,
		ExpiresAt:      now.Add(c.ttl),
		OrigIssuedAt:   origIssuedAt,
		Permissions:    names,
		HasPermissions: true,
	}, nil
}

// Decode verifies signature, issuer and expiry and returns the payload. A
// missing or malformed permissions claim is not an error here; it is reported
// through Payload.HasPermissions.
func (c *TokenCodec) Decode(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Payload{}, ErrInvalidToken
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return payloadFromClaims(claims)
}

// RefreshAllowed reports whether p is still inside the refresh window opened
// by its original login.
func (c *TokenCodec) RefreshAllowed(p Payload) bool {
	if p.OrigIssuedAt.IsZero() {
		return false
	}
	return c.now().Before(p.OrigIssuedAt.Add(c.refreshWindow))
}

// TTL returns the configured access token lifetime.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

func payloadFromClaims(claims jwt.MapClaims) (Payload, error) {
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return Payload{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	p := Payload{Subject: sub}
	p.UserID, _ = claims["user_id"].(string)
	p.Email, _ = claims["email"].(string)
	p.TokenID, _ = claims["jti"].(string)
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		p.IssuedAt = iat.UTC()
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.UTC()
	}
	if orig, ok := unixClaim(claims["orig_iat"]); ok {
		p.OrigIssuedAt = orig
	}
	raw, present := claims["permissions"]
	p.Permissions, p.HasPermissions = permissionsClaim(raw, present)
	return p, nil
}

func permissionsClaim(v any, present bool) ([]string, bool) {
	if !present {
		return nil, false
	}
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	names := make([]string, 0, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		name, ok := entry["name"].(string)
		if !ok {
			return nil, false
		}
		names = append(names, name)
	}
	return normalizePermissions(names), true
}

func unixClaim(v any) (time.Time, bool) {
	switch n := v.(type) {
	case float64:
		return time.Unix(int64(n), 0).UTC(), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(i, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// normalizePermissions returns a sorted copy of names without duplicates.
// Names are compared verbatim.
func normalizePermissions(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
