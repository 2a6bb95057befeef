package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/isaacwassouf/schema-migrator/config"
	"github.com/isaacwassouf/schema-migrator/database"
	"github.com/isaacwassouf/schema-migrator/generator"
	"github.com/isaacwassouf/schema-migrator/metrics"
	"github.com/isaacwassouf/schema-migrator/migration"
	"github.com/isaacwassouf/schema-migrator/service"
	"github.com/isaacwassouf/schema-migrator/utils"
)

const usage = `usage: schema-migrator [-config file] <command> [flags]

commands:
  serve      run the gRPC service and the metrics endpoint (default)
  generate   write migration units from the live schema
  migrate    apply the migration units of a version
  tables     list the tables of the database
`

type app struct {
	cfg     *config.Config
	db      *database.MigratorDB
	gen     *generator.Generator
	runner  *migration.Runner
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func main() {
	configPath := flag.String("config", utils.GetEnvVar("SCHEMA_MIGRATOR_CONFIG", ""), "path to a YAML config file")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	command, args := "serve", flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	level, err := cfg.LogLevel()
	if err != nil {
		log.Fatalf("invalid log level: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	dsn, err := cfg.DSN()
	if err != nil {
		log.Fatalf("invalid database config: %v", err)
	}
	db, err := database.Open(dsn, logger)
	if err != nil {
		log.Fatalf("failed to open the database: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Ping(ctx); err != nil {
		log.Fatalf("failed to connect to the database: %v", err)
	}

	m := metrics.New()
	fsys := afero.NewOsFs()
	a := &app{
		cfg:     cfg,
		db:      db,
		gen:     generator.New(db, fsys, cfg.Migrations.Dir, logger, generator.WithMetrics(m)),
		runner:  migration.NewRunner(db, fsys, cfg.Migrations.Dir, logger, migration.WithMetrics(m)),
		metrics: m,
		logger:  logger,
	}

	switch command {
	case "serve":
		err = a.serve(ctx)
	case "generate":
		err = a.generate(ctx, args)
	case "migrate":
		err = a.migrate(ctx, args)
	case "tables":
		err = a.tables(ctx)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", command, err)
	}
}

func (a *app) serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s := grpc.NewServer()
	service.RegisterMigrationServiceServer(s, service.NewServer(a.db, a.gen, a.runner, a.cfg.Migrations.Dir, a.logger))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus(service.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(s)

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	metricsServer := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		healthServer.Shutdown()
		s.GracefulStop()
		metricsServer.Close()
	}()

	a.logger.Info("server listening", "addr", lis.Addr().String(), "metrics", a.cfg.Metrics.Addr)
	return s.Serve(lis)
}

func (a *app) generate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	version := fs.String("version", "", "version of the units to write (required)")
	table := fs.String("table", "", "only generate this table")
	export := fs.String("export", "none", "data export: none, always or oncreate")
	source := fs.Bool("source", false, "also write the Go rendering of each unit")
	fs.Parse(args)

	if *version == "" {
		return errors.New("-version is required")
	}
	mode, err := generator.ParseExportMode(*export)
	if err != nil {
		return err
	}

	var paths []string
	if *table != "" {
		paths, err = a.gen.Write(ctx, *version, *table, mode, *source)
	} else {
		paths, err = a.gen.WriteAll(ctx, *version, mode, *source)
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return err
}

func (a *app) migrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	version := fs.String("version", "", "version of the units to apply (required)")
	table := fs.String("table", "", "only migrate this table")
	fs.Parse(args)

	if *version == "" {
		return errors.New("-version is required")
	}

	var results []migration.Result
	var err error
	if *table != "" {
		var res migration.Result
		res, err = a.runner.Migrate(ctx, *version, *table)
		results = append(results, res)
	} else {
		results, err = a.runner.RunDir(ctx, *version, migration.Dir(a.cfg.Migrations.Dir, *version))
	}
	for _, res := range results {
		if res.Unit == "" {
			continue
		}
		fmt.Printf("%s\t%s\t%d operations\t%d rows restored\n", res.Unit, res.Status, len(res.Operations), res.Restored)
	}
	return err
}

func (a *app) tables(ctx context.Context) error {
	tables, err := a.db.ListTables(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		fmt.Println(t)
	}
	return nil
}
