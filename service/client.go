package service

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls a MigrationService.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Generate writes the unit of req.Table and returns the paths written.
func (c *Client) Generate(ctx context.Context, req GenerateRequest, opts ...grpc.CallOption) ([]string, error) {
	in, err := req.message()
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, "Generate", in, opts...)
	if err != nil {
		return nil, err
	}
	return stringsFrom(out.GetFields()["paths"]), nil
}

// GenerateAll writes the unit of every table; req.Table is ignored.
func (c *Client) GenerateAll(ctx context.Context, req GenerateRequest, opts ...grpc.CallOption) ([]string, error) {
	in, err := req.message()
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, "GenerateAll", in, opts...)
	if err != nil {
		return nil, err
	}
	return stringsFrom(out.GetFields()["paths"]), nil
}

func (c *Client) Migrate(ctx context.Context, req MigrateRequest, opts ...grpc.CallOption) ([]MigrateResult, error) {
	in, err := req.message()
	if err != nil {
		return nil, err
	}
	out, err := c.invoke(ctx, "Migrate", in, opts...)
	if err != nil {
		return nil, err
	}
	return resultsFrom(out), nil
}

func (c *Client) ListTables(ctx context.Context, opts ...grpc.CallOption) ([]string, error) {
	out, err := c.invoke(ctx, "ListTables", &structpb.Struct{}, opts...)
	if err != nil {
		return nil, err
	}
	return stringsFrom(out.GetFields()["tables"]), nil
}
