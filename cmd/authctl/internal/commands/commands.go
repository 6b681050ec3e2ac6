package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"authserver.org/internal/obs"
	"authserver.org/internal/store/pg"
)

type Globals struct {
	Debug   bool
	Version string
}

func (g *Globals) SetupLogging() error {
	level := "warn"
	if g.Debug {
		level = "debug"
	}
	return obs.Setup(level, "console")
}

// DatabaseFlags is embedded by commands that talk to Postgres directly.
type DatabaseFlags struct {
	DSN string `help:"PostgreSQL DSN" required:"" env:"AUTHSERVER_PG_DSN"`
}

func (d DatabaseFlags) open(ctx context.Context) (*pg.Store, error) {
	s, err := pg.Open(d.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.Ping(pctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
