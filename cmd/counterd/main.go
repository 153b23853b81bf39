package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/devrev/sharedcounter/internal/config"
	apierrors "github.com/devrev/sharedcounter/internal/errors"
	"github.com/devrev/sharedcounter/internal/handler"
	"github.com/devrev/sharedcounter/internal/health"
	"github.com/devrev/sharedcounter/internal/metrics"
	"github.com/devrev/sharedcounter/internal/server"
	"github.com/devrev/sharedcounter/internal/service"
	"github.com/devrev/sharedcounter/internal/store"
)

const grpcServiceName = "counterd"

func main() {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "./config.yaml"
	}
	configPath := flag.String("config", defaultConfig, "path to the YAML configuration file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		out, err := config.Dump(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render configuration: %v\n", err)
			os.Exit(1)
		}
		_, _ = os.Stdout.Write(out)
		return
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Counter service failed", zap.Error(err))
	}
	logger.Info("Counter service exited")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting shared counter service",
		zap.String("database_driver", cfg.Database.Driver),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("idempotency", cfg.Idempotency.Enabled))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	counterStore, err := openCounterStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer counterStore.Close()

	dependencies := map[string]health.Pinger{"counter_store": counterStore}

	var idempotencyService *service.IdempotencyService
	if cfg.Idempotency.Enabled {
		idempotencyStore, err := openIdempotencyStore(cfg, logger)
		if err != nil {
			return err
		}
		defer idempotencyStore.Close()
		dependencies["idempotency_store"] = idempotencyStore
		idempotencyService = service.NewIdempotencyService(idempotencyStore, cfg.Idempotency.TTL, logger)
	}

	svcCfg, err := service.NewConfig(cfg.Counter)
	if err != nil {
		return err
	}
	counters := service.NewCounterService(counterStore, svcCfg, quartz.NewReal(), m, logger)
	// Flushing must outlive the signal so in-flight requests drain into the store
	counters.Start(context.WithoutCancel(ctx))

	healthChecker := health.NewHealthChecker(dependencies, logger)
	handlers := handler.NewHandlers(counters, idempotencyService, apierrors.NewHandler(logger), logger, cfg.Server.WriteTimeout)
	apiServer := server.NewServer(cfg, handlers, healthChecker, m, logger)

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, reg, logger)
	}

	grpcServer := grpc.NewServer()
	grpcHealth := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcServer, grpcHealth)
	grpcHealth.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)

	var grpcListener net.Listener
	if cfg.Server.GRPCHealthPort > 0 {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCHealthPort)
		grpcListener, err = net.Listen("tcp", addr)
		if err != nil {
			_ = counters.Stop(context.Background())
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(apiServer.Start)
	if metricsServer != nil {
		g.Go(metricsServer.Start)
	}
	if grpcListener != nil {
		g.Go(func() error {
			logger.Info("Starting gRPC health server", zap.String("address", grpcListener.Addr().String()))
			return grpcServer.Serve(grpcListener)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully")

		healthChecker.SetDraining()
		grpcHealth.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown failed", zap.Error(err))
		}
		if err := counters.Stop(shutdownCtx); err != nil {
			logger.Error("Counter service stop failed", zap.Error(err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown failed", zap.Error(err))
			}
		}
		grpcServer.GracefulStop()
		return nil
	})

	return g.Wait()
}

func openCounterStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.CounterStore, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := store.NewPostgresCounterStore(
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.Database,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.MaxConnections,
			cfg.Database.MinConnections,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize postgres counter store: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case "sqlite":
		s, err := store.NewSQLiteCounterStore(cfg.Database.SQLitePath, cfg.Database.SQLitePoolSize, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite counter store: %w", err)
		}
		return s, nil
	case "memory":
		logger.Warn("Using in-memory counter store; counters are lost on restart")
		return store.NewMemoryCounterStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func openIdempotencyStore(cfg *config.Config, logger *zap.Logger) (store.IdempotencyStore, error) {
	switch cfg.Idempotency.Backend {
	case "redis":
		s, err := store.NewRedisIdempotencyStore(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis idempotency store: %w", err)
		}
		return s, nil
	case "memory", "":
		return store.NewMemoryIdempotencyStore(cfg.Idempotency.MaxEntries, cfg.Idempotency.TTL), nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", cfg.Idempotency.Backend)
	}
}

// initLogger initializes the zap logger
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Level != "" {
		parsed, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
