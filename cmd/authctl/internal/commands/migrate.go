package commands

import (
	"context"
	"errors"
	"fmt"

	"authserver.org/internal/migrate"
)

type MigrateCmd struct {
	Up     MigrateUpCmd     `cmd:"" help:"Apply pending migrations"`
	Down   MigrateDownCmd   `cmd:"" help:"Roll back the latest migration"`
	Status MigrateStatusCmd `cmd:"" help:"List applied migrations"`
}

type MigrateUpCmd struct {
	DatabaseFlags
}

func (c *MigrateUpCmd) Run(ctx context.Context) error {
	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	applied, err := migrate.NewManager(s.DB(), nil).Up(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(stdout, "schema is up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintln(stdout, "applied", name)
	}
	return nil
}

type MigrateDownCmd struct {
	DatabaseFlags
}

func (c *MigrateDownCmd) Run(ctx context.Context) error {
	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	name, err := migrate.NewManager(s.DB(), nil).Down(ctx)
	if errors.Is(err, migrate.ErrNoMigrations) {
		fmt.Fprintln(stdout, "nothing to roll back")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "rolled back", name)
	return nil
}

type MigrateStatusCmd struct {
	DatabaseFlags
}

func (c *MigrateStatusCmd) Run(ctx context.Context) error {
	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	history, err := migrate.NewManager(s.DB(), nil).Status(ctx)
	if err != nil {
		return err
	}
	for _, name := range history {
		fmt.Fprintln(stdout, name)
	}
	return nil
}
