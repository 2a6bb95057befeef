// Package service exposes the migrator over gRPC. Requests and responses
// are google.protobuf.Struct messages, so the service needs no generated
// code: the descriptor below is what protoc-gen-go-grpc would emit for it.
package service

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "schemamigrator.v1.MigrationService"

// MigrationServiceServer is the server API of the migration service.
type MigrationServiceServer interface {
	Generate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GenerateAll(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Migrate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTables(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(MigrationServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(method string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MigrationServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(MigrationServiceServer), ctx, req.(*structpb.Struct))
		})
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MigrationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: handler("Generate", MigrationServiceServer.Generate)},
		{MethodName: "GenerateAll", Handler: handler("GenerateAll", MigrationServiceServer.GenerateAll)},
		{MethodName: "Migrate", Handler: handler("Migrate", MigrationServiceServer.Migrate)},
		{MethodName: "ListTables", Handler: handler("ListTables", MigrationServiceServer.ListTables)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "schemamigrator/v1/migration_service.proto",
}

func RegisterMigrationServiceServer(s grpc.ServiceRegistrar, srv MigrationServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
