// Package main is the entry point for the semflagz server.
//
// Usage:
//
//	semflagz [serve]   run the HTTP and gRPC servers (default)
//	semflagz migrate   apply database migrations and exit
//	semflagz dump      print the manifest evaluated at APP_VERSION as JSON
//
// The serve bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Connect to PostgreSQL via pgxpool and apply migrations.
//  3. Build the configured override sources and the service (eagerly
//     loading the override cache and initializing every source).
//  4. Wire up the API key and admin token validators.
//  5. Start the HTTP server (:8080) and gRPC server (:9090) concurrently.
//  6. Wait for SIGINT/SIGTERM, then gracefully shut down both servers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"

	"github.com/matt-riley/semflagz/internal/config"
	"github.com/matt-riley/semflagz/internal/core"
	"github.com/matt-riley/semflagz/internal/logging"
	"github.com/matt-riley/semflagz/internal/manifest"
	"github.com/matt-riley/semflagz/internal/metrics"
	"github.com/matt-riley/semflagz/internal/middleware"
	"github.com/matt-riley/semflagz/internal/repository"
	"github.com/matt-riley/semflagz/internal/server"
	"github.com/matt-riley/semflagz/internal/service"
	"github.com/matt-riley/semflagz/internal/tracing"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("semflagz failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	command, err := parseCommand(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		AppVersion: cfg.AppVersion,
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "migrate":
		return migrate(ctx, cfg)
	case "dump":
		return dump(ctx, cfg, log, stdout)
	default:
		return serve(ctx, stop, cfg, log)
	}
}

func parseCommand(args []string) (string, error) {
	if len(args) == 0 {
		return "serve", nil
	}
	if len(args) > 1 {
		return "", fmt.Errorf("unexpected arguments after %q: %v", args[0], args[1:])
	}
	switch args[0] {
	case "serve", "migrate", "dump":
		return args[0], nil
	default:
		return "", fmt.Errorf("unknown command %q (want serve, migrate or dump)", args[0])
	}
}

func connect(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

func migrate(ctx context.Context, cfg config.Config) error {
	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	return runMigrations(pool)
}

// dump evaluates the manifest against APP_VERSION using the configured
// sources only; stored overrides are not consulted.
func dump(ctx context.Context, cfg config.Config, log *slog.Logger, stdout io.Writer) error {
	if cfg.ManifestPath == "" {
		return errors.New("MANIFEST_PATH is required for dump")
	}
	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return err
	}

	configured, err := buildSources(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer configured.Close()

	registry, err := core.NewRegistry(ctx, core.RegistryOptions{
		Version: cfg.AppVersion,
		Sources: configured.sources,
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	if _, err := manifest.Bind(registry, m); err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(registry.DumpFeatures())
}

func serve(ctx context.Context, stop context.CancelFunc, cfg config.Config, log *slog.Logger) error {
	shutdownTracer, err := tracing.Init(ctx, cfg.AppVersion)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	pool, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := runMigrations(pool); err != nil {
		return err
	}

	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	configured, err := buildSources(ctx, cfg, log, m.RecordSourceRefresh)
	if err != nil {
		return err
	}
	defer configured.Close()

	opts := []service.Option{
		service.WithLogger(log),
		service.WithCacheMetrics(m.IncCacheLoads, m.IncCacheInvalidations, m.SetCacheSize),
		service.WithEvaluationRecorder(m.RecordEvaluation),
		service.WithOverrideWriteRecorder(m.RecordOverrideWrite),
		service.WithSources(configured.sources...),
		service.WithDefaultVersion(cfg.AppVersion),
		service.WithCacheResyncInterval(cfg.CacheResyncInterval),
	}
	if cfg.ManifestPath != "" {
		features, err := manifest.Load(cfg.ManifestPath)
		if err != nil {
			return err
		}
		opts = append(opts, service.WithManifest(features))
		log.Info("manifest loaded", "path", cfg.ManifestPath, "features", len(features.Features))
	}

	repo := repository.NewPostgresRepository(pool)
	svc, err := service.New(ctx, repo, opts...)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	configured.Start(ctx, cfg.RefreshInterval)

	limiter := middleware.NewRateLimiter(ctx, cfg.AuthRateLimit)
	defer limiter.Stop()
	authOpts := []middleware.AuthOption{
		middleware.WithOnAuthFailure(m.IncAuthFailures),
		middleware.WithRateLimiter(limiter),
	}
	tokenValidator := newTokenValidator(repo, cfg.AdminTokenHash)

	apiHandler := server.NewHTTPHandlerWithOptions(svc, cfg.StreamPollInterval, m, server.WithMaxJSONBodySize(cfg.MaxJSONBodySize))
	httpHandler := middleware.HTTPRequestLogging(log)(newHTTPHandler(apiHandler, tokenValidator, authOpts...))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(httpHandler, "semflagz-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestLoggingInterceptor(log),
			middleware.UnaryBearerAuthInterceptor(tokenValidator, authOpts...),
			m.UnaryServerInterceptor(),
		),
	)
	server.RegisterFeatureServiceServer(grpcServer, server.NewGRPCServer(svc))

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPCAddr, err)
	}
	defer grpcListener.Close()

	serveErrCh := make(chan error, 2)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			serveErrCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	log.Info("server started",
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"sources", configured.names(),
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")

	httpShutdownCtx, cancelHTTP := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelHTTP()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		grpcServer.Stop()
	}

	return serveErr
}

// newHTTPHandler puts everything under /v1/ behind bearer auth and exposes
// only the health and metrics endpoints without it.
func newHTTPHandler(apiHandler http.Handler, tokenValidator middleware.TokenValidator, opts ...middleware.AuthOption) http.Handler {
	protectedAPIHandler := middleware.HTTPBearerAuthMiddleware(tokenValidator, opts...)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedAPIHandler)
	mux.Handle("GET /healthz", apiHandler)
	mux.Handle("GET /metrics", apiHandler)

	return mux
}

// newTokenValidator accepts stored API keys and, when a hash is configured,
// the bootstrap admin token.
func newTokenValidator(lookup middleware.APIKeyHashLookup, adminTokenHash string) middleware.TokenValidator {
	validators := []middleware.TokenValidator{&middleware.APIKeyValidator{Lookup: lookup}}
	if adminTokenHash != "" {
		validators = append(validators, middleware.AdminTokenValidator{Hash: adminTokenHash})
	}
	return middleware.ChainValidators(validators...)
}
