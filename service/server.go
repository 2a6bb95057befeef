package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/isaacwassouf/schema-migrator/database"
	"github.com/isaacwassouf/schema-migrator/generator"
	"github.com/isaacwassouf/schema-migrator/migration"
	"github.com/isaacwassouf/schema-migrator/shared"
)

// Server implements MigrationServiceServer. Calls are serialized: units and
// snapshots of a version share one directory and one database.
type Server struct {
	mu     sync.Mutex
	db     shared.Introspector
	gen    *generator.Generator
	runner *migration.Runner
	root   string
	logger *slog.Logger
}

func NewServer(db shared.Introspector, gen *generator.Generator, runner *migration.Runner, root string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{db: db, gen: gen, runner: runner, root: root, logger: logger}
}

func (s *Server) Generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := generateRequestFrom(in)
	if req.Version == "" || req.Table == "" {
		return nil, status.Error(codes.InvalidArgument, "version and table are required")
	}
	mode, err := generator.ParseExportMode(req.Export)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.db.TableExists(ctx, req.Table, s.db.DefaultSchema())
	if err != nil {
		return nil, s.toStatus("failed to check if table exists", err)
	}
	if !exists {
		return nil, status.Error(codes.NotFound, "table not found")
	}

	paths, err := s.gen.Write(ctx, req.Version, req.Table, mode, req.Source)
	if err != nil {
		return nil, s.toStatus("failed to generate migration", err)
	}
	return s.reply(pathsMessage(paths))
}

func (s *Server) GenerateAll(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := generateRequestFrom(in)
	if req.Version == "" {
		return nil, status.Error(codes.InvalidArgument, "version is required")
	}
	mode, err := generator.ParseExportMode(req.Export)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.gen.WriteAll(ctx, req.Version, mode, req.Source)
	if err != nil {
		s.logger.Warn("generation stopped", "written", len(paths), "err", err)
		return nil, s.toStatus("failed to generate migrations", err)
	}
	return s.reply(pathsMessage(paths))
}

func (s *Server) Migrate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := migrateRequestFrom(in)
	if req.Version == "" {
		return nil, status.Error(codes.InvalidArgument, "version is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var results []migration.Result
	var err error
	if req.Table != "" {
		var res migration.Result
		res, err = s.runner.Migrate(ctx, req.Version, req.Table)
		results = []migration.Result{res}
	} else {
		results, err = s.runner.RunDir(ctx, req.Version, migration.Dir(s.root, req.Version))
	}
	if err != nil {
		return nil, s.toStatus("failed to migrate", err)
	}
	return s.reply(resultsMessage(results))
}

func (s *Server) ListTables(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	tables, err := s.db.ListTables(ctx)
	if err != nil {
		return nil, s.toStatus("failed to list tables", err)
	}
	return s.reply(tablesMessage(tables))
}

func (s *Server) reply(msg *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, s.toStatus("failed to encode response", err)
	}
	return msg, nil
}

// toStatus maps err to a gRPC status. Errors the caller can act on keep
// their message; anything else is logged and reported as msg.
func (s *Server) toStatus(msg string, err error) error {
	var unrecognized *shared.UnrecognizedTypeError
	switch {
	case errors.As(err, &unrecognized), errors.Is(err, shared.ErrEmptyOrInvalidColumnSet):
		return status.Error(codes.FailedPrecondition, err.Error())
	case database.IsUnknownKey(err):
		// The live table changed under the unit.
		return status.Error(codes.FailedPrecondition, err.Error())
	case migration.IsNotFound(err), database.IsNoSuchTable(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error(msg, "err", err)
	return status.Error(codes.Internal, msg)
}
