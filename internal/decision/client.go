package decision

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"authserver.org/internal/auth"
)

// Client calls a remote Decision service.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Authorize asks the remote service to decide one request.
func (c *Client) Authorize(ctx context.Context, token, resource, method string, opts ...grpc.CallOption) (auth.Decision, error) {
	in, err := structpb.NewStruct(map[string]any{
		"token":    token,
		"resource": resource,
		"method":   method,
	})
	if err != nil {
		return auth.Decision{}, fmt.Errorf("build request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, authorizeMethod, in, out, opts...); err != nil {
		return auth.Decision{}, err
	}
	f := out.GetFields()
	return auth.Decision{
		Allowed:  f["allowed"].GetBoolValue(),
		Reason:   auth.Reason(f["reason"].GetStringValue()),
		Required: f["required"].GetStringValue(),
	}, nil
}
