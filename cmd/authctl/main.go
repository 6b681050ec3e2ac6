package main

import (
	"context"

	"github.com/alecthomas/kong"

	"authserver.org/cmd/authctl/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Migrate commands.MigrateCmd `cmd:"" help:"Manage the tenant schema"`
		Seed    commands.SeedCmd    `cmd:"" help:"Load a tenant fixture"`
		Token   commands.TokenCmd   `cmd:"" help:"Mint a token for an existing user"`
		Check   commands.CheckCmd   `cmd:"" help:"Ask the decision service to authorize a request"`
		Debug   bool                `help:"Enable debug logging."`
		Version kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("authctl"),
		kong.Description("Operator tooling for authserver."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	globals := &commands.Globals{Debug: cli.Debug, Version: version}
	cmd.FatalIfErrorf(globals.SetupLogging())
	err := cmd.Run(globals)
	cmd.FatalIfErrorf(err)
}
