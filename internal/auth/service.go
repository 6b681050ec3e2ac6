package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"authserver.org/internal/obs"
)

var tracer = otel.Tracer("authserver.org/internal/auth")

// Service computes permissions from the store and issues tokens that carry
// them.
type Service struct {
	store  Store
	tokens *TokenCodec
}

// IssuedToken is a freshly signed token and the payload it encodes.
type IssuedToken struct {
	Token   string
	Payload Payload
}

func NewService(store Store, tokens *TokenCodec) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token codec is required")
	}
	return &Service{store: store, tokens: tokens}, nil
}

// Tokens exposes the codec for callers that only need to verify.
func (s *Service) Tokens() *TokenCodec { return s.tokens }

// EffectivePermissions returns the union of permission names over all of the
// user's grants, read from one consistent snapshot.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	userID, err := requireID("user_id", userID)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "auth.EffectivePermissions", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()
	start := time.Now()
	defer func() { obs.ObserveAggregation("effective_permissions", time.Since(start)) }()

	var names []string
	err = s.store.Snapshot(ctx, func(r TenantReader) error {
		var err error
		names, err = EffectivePermissions(ctx, r, userID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("permissions.count", len(names)))
	return names, nil
}

// OrganizationBreakdown returns the user's roles grouped by organization, read
// from one consistent snapshot.
func (s *Service) OrganizationBreakdown(ctx context.Context, userID string) ([]OrganizationRoles, error) {
	userID, err := requireID("user_id", userID)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "auth.OrganizationBreakdown", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()
	start := time.Now()
	defer func() { obs.ObserveAggregation("organization_breakdown", time.Since(start)) }()

	var out []OrganizationRoles
	err = s.store.Snapshot(ctx, func(r TenantReader) error {
		var err error
		out, err = OrganizationBreakdown(ctx, r, userID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

// IssueToken authenticates email and password and signs a token carrying the
// user's effective permissions. Unknown users, inactive users and wrong
// passwords all fail with ErrInvalidCredentials.
func (s *Service) IssueToken(ctx context.Context, email, password string) (IssuedToken, error) {
	ctx, span := tracer.Start(ctx, "auth.IssueToken")
	defer span.End()

	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return IssuedToken{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return IssuedToken{}, ErrInvalidCredentials
		}
		return IssuedToken{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil || !user.IsActive {
		return IssuedToken{}, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.String("user.id", user.ID))
	out, err := s.issue(ctx, user, time.Time{})
	if err != nil {
		return IssuedToken{}, err
	}
	obs.TokenIssued("login")
	return out, nil
}

// RefreshToken exchanges a valid token for a new one. Permissions are
// recomputed from the store so that grant changes take effect; the original
// login time is carried forward and bounds the chain.
func (s *Service) RefreshToken(ctx context.Context, raw string) (IssuedToken, error) {
	ctx, span := tracer.Start(ctx, "auth.RefreshToken")
	defer span.End()

	payload, user, err := s.verify(ctx, raw)
	if err != nil {
		return IssuedToken{}, err
	}
	if !s.tokens.RefreshAllowed(payload) {
		return IssuedToken{}, ErrRefreshExpired
	}
	out, err := s.issue(ctx, user, payload.OrigIssuedAt)
	if err != nil {
		return IssuedToken{}, err
	}
	obs.TokenIssued("refresh")
	return out, nil
}

// VerifyToken checks the token and that its subject is still an active user.
func (s *Service) VerifyToken(ctx context.Context, raw string) (Payload, error) {
	payload, _, err := s.verify(ctx, raw)
	return payload, err
}

// Authenticate resolves a bearer token into its payload and the caller's
// current identity. Any failure is reported as ErrNotAuthenticated.
func (s *Service) Authenticate(ctx context.Context, raw string) (Payload, Identity, error) {
	payload, user, err := s.verify(ctx, raw)
	if err != nil {
		return Payload{}, Identity{}, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	return payload, IdentityOf(user), nil
}

func (s *Service) verify(ctx context.Context, raw string) (Payload, User, error) {
	payload, err := s.tokens.Decode(raw)
	if err != nil {
		return Payload{}, User{}, err
	}
	user, err := s.store.GetUser(ctx, payload.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Payload{}, User{}, fmt.Errorf("%w: user does not exist", ErrInvalidToken)
		}
		return Payload{}, User{}, err
	}
	if !user.IsActive {
		return Payload{}, User{}, fmt.Errorf("%w: user account is disabled", ErrInvalidToken)
	}
	return payload, user, nil
}

func (s *Service) issue(ctx context.Context, user User, origIssuedAt time.Time) (IssuedToken, error) {
	perms, err := s.EffectivePermissions(ctx, user.ID)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("compute permissions: %w", err)
	}
	token, payload, err := s.tokens.Encode(user, perms, origIssuedAt)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: token, Payload: payload}, nil
}
