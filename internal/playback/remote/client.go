package remote

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a remote playback service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client using cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Navigate loads stop index.
func (c *Client) Navigate(ctx context.Context, index int) (*structpb.Struct, error) {
	return c.invoke(ctx, "Navigate", map[string]any{"index": index})
}

// Step moves by delta stops.
func (c *Client) Step(ctx context.Context, delta int) (*structpb.Struct, error) {
	return c.invoke(ctx, "Step", map[string]any{"delta": delta})
}

// ActivateHotspot follows hotspot n of the current stop.
func (c *Client) ActivateHotspot(ctx context.Context, n int) (*structpb.Struct, error) {
	return c.invoke(ctx, "ActivateHotspot", map[string]any{"hotspot": n})
}

// State fetches the resolver state.
func (c *Client) State(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "State", map[string]any{})
}
