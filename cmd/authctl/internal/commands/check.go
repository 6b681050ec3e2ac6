package commands

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"authserver.org/internal/decision"
)

type CheckCmd struct {
	Addr     string        `help:"Decision service address" default:"localhost:9090" env:"AUTHSERVER_GRPC_ADDR"`
	Token    string        `help:"Raw token; empty asks as an anonymous caller" env:"AUTHSERVER_TOKEN"`
	Resource string        `arg:"" help:"Declared resource name, e.g. Patient"`
	Method   string        `arg:"" help:"HTTP method, e.g. GET"`
	Timeout  time.Duration `help:"Call timeout" default:"5s"`
}

// Run prints the decision and fails when the request is denied, so the
// command can gate shell scripts.
func (c *CheckCmd) Run(ctx context.Context) error {
	conn, err := grpc.NewClient(c.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	d, err := decision.NewClient(conn).Authorize(ctx, c.Token, c.Resource, c.Method)
	if err != nil {
		return err
	}
	if err := printJSON(map[string]any{
		"allowed":  d.Allowed,
		"reason":   d.Reason,
		"required": d.Required,
	}); err != nil {
		return err
	}
	return d.Err()
}
