package commands

import (
	"context"
	"fmt"

	"authserver.org/internal/auth"
	"authserver.org/internal/seed"
)

type SeedCmd struct {
	DatabaseFlags
	File string `help:"Fixture file, or 'builtin' for the bundled clinic dataset" default:"builtin" env:"AUTHSERVER_SEED_FILE"`
}

func (c *SeedCmd) Run(ctx context.Context) error {
	fixture, err := seed.Load(c.File)
	if err != nil {
		return err
	}
	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	rbac, err := auth.NewRBACService(s)
	if err != nil {
		return err
	}
	rep, err := seed.Apply(ctx, rbac, fixture)
	if err != nil {
		return fmt.Errorf("seed %s: %w", c.File, err)
	}
	fmt.Fprintf(stdout, "created %d organizations, %d roles, %d permissions, %d users, %d grants\n",
		rep.Organizations, rep.Roles, rep.Permissions, rep.Users, rep.Grants)
	return nil
}
