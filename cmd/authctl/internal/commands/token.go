package commands

import (
	"context"
	"time"

	"authserver.org/internal/auth"
)

// TokenCmd signs a token for a user without checking a password. It reads the
// user's permissions from the store exactly as a login would.
type TokenCmd struct {
	DatabaseFlags
	Email  string        `help:"User e-mail" required:""`
	Secret string        `help:"HS256 signing secret" required:"" env:"AUTHSERVER_TOKEN_SECRET"`
	Issuer string        `help:"Token issuer" default:"authserver" env:"AUTHSERVER_TOKEN_ISSUER"`
	TTL    time.Duration `help:"Token lifetime" default:"5m" env:"AUTHSERVER_TOKEN_TTL"`
}

func (t *TokenCmd) Run(ctx context.Context) error {
	s, err := t.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	codec, err := auth.NewTokenCodec(t.Secret, auth.WithIssuer(t.Issuer), auth.WithTokenTTL(t.TTL))
	if err != nil {
		return err
	}
	svc, err := auth.NewService(s, codec)
	if err != nil {
		return err
	}
	rbac, err := auth.NewRBACService(s)
	if err != nil {
		return err
	}
	user, err := rbac.FindUserByEmail(ctx, t.Email)
	if err != nil {
		return err
	}
	perms, err := svc.EffectivePermissions(ctx, user.ID)
	if err != nil {
		return err
	}
	token, payload, err := codec.Encode(user, perms, time.Time{})
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"token":       token,
		"user_id":     payload.UserID,
		"expires_at":  payload.ExpiresAt,
		"permissions": payload.Permissions,
	})
}
