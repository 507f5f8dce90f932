package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/sarathsp06/courier/internal/config"
	connectserver "github.com/sarathsp06/courier/internal/connect"
	"github.com/sarathsp06/courier/internal/dispatcher"
	grpcserver "github.com/sarathsp06/courier/internal/grpc"
	"github.com/sarathsp06/courier/internal/history"
	"github.com/sarathsp06/courier/internal/logger"
	"github.com/sarathsp06/courier/internal/observability"
	"github.com/sarathsp06/courier/internal/queue"
	"github.com/sarathsp06/courier/internal/service"
	"github.com/sarathsp06/courier/internal/store"
	"github.com/sarathsp06/courier/internal/webhooks"
	"github.com/sarathsp06/courier/internal/workers"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

// maintenanceInterval is how often the in-process maintainer sweeps when
// River is not available.
const maintenanceInterval = 30 * time.Second

func main() {
	if err := run(); err != nil {
		logger.NewLogger("main").Error("Courier exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	log := logger.NewLogger("main")

	if cfg.OTel.Enabled {
		shutdown, err := observability.Setup(ctx, cfg, version)
		if err != nil {
			return fmt.Errorf("failed to set up OpenTelemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error("Failed to shut down OpenTelemetry", "error", err)
			}
		}()
		log.Info("OpenTelemetry enabled",
			"endpoint", cfg.OTel.Endpoint,
			"traces", cfg.OTel.Traces,
			"metrics", cfg.OTel.Metrics,
			"sample_rate", cfg.OTel.SampleRate,
		)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	// Store
	var (
		st    webhooks.Store
		check grpcserver.CheckFunc
	)
	dbPool, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if dbPool != nil {
		defer dbPool.Close()
		st = store.NewPostgres(dbPool)
		check = dbPool.Ping
		log.Info("Connected to database")
	} else {
		st = store.NewMemory()
		log.Warn("Using in-memory store; deliveries do not survive a restart")
	}

	// Wake-ups and dead-letter signals
	var (
		notifier queue.Notifier = queue.NewLocalNotifier(cfg.WorkerCount)
		sink     workers.DeadLetterSink
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		rn, err := queue.NewRedisNotifier(ctx, rdb, queue.DefaultRedisChannel, cfg.WorkerCount)
		if err != nil {
			return fmt.Errorf("failed to subscribe to redis: %w", err)
		}
		defer rn.Close()
		notifier = rn
		sink = workers.NewRedisDeadLetterSink(rdb, workers.DefaultDeadLetterChannel)
		log.Info("Redis wake-ups enabled", "channel", queue.DefaultRedisChannel)
	}

	// Core components
	deliveryQueue := queue.New(st, notifier)
	registry := webhooks.NewRegistry(st, cfg.Retry.Policy())
	sender := workers.NewSender(workers.SenderConfig{
		Timeout:   cfg.DeliveryTimeout,
		UserAgent: fmt.Sprintf("%s-Webhooks/%s", cfg.UserAgentProduct, version),
		RateLimit: cfg.DeliveryRateLimit,
	})
	svc := service.New(
		registry,
		dispatcher.New(st, registry, deliveryQueue, metrics),
		history.New(st, deliveryQueue),
		sender,
		metrics,
	)

	pool := workers.NewPool(
		workers.PoolConfig{Workers: cfg.WorkerCount, PollInterval: cfg.PollInterval},
		deliveryQueue, st, sender, sink, metrics,
	)
	maintainer := workers.NewMaintainer(deliveryQueue, st, cfg.DeliveryLease, cfg.HistoryRetention, sink, metrics)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	// Maintenance: River periodic jobs on Postgres, a ticker otherwise
	if dbPool != nil {
		manager, err := queue.NewManager(dbPool, maintainer, queue.ManagerConfig{
			ReapInterval:  cfg.DeliveryLease / 2,
			PruneInterval: time.Hour,
			Lease:         cfg.DeliveryLease,
			Retention:     cfg.HistoryRetention,
		})
		if err != nil {
			return err
		}
		if err := manager.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := manager.Stop(stopCtx); err != nil {
				log.Error("Failed to stop River client", "error", err)
			}
		}()
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			maintainer.Run(ctx, maintenanceInterval)
		}()
	}

	// Admin API
	connectPath, connectHandler, err := connectserver.NewHandler(connectserver.NewWebhookConnectServer(svc))
	if err != nil {
		return err
	}
	health := grpcserver.NewHealthServer(check)

	mux := http.NewServeMux()
	mux.Handle(connectPath, connectHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := health.Refresh(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("HTTP server starting", "addr", cfg.HTTPAddr, "connect_path", connectPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		log.Info("gRPC health server starting", "addr", cfg.GRPCAddr)
		if err := health.Server().Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		health.Watch(ctx, 15*time.Second)
	}()

	log.Info("Courier is running",
		"version", version,
		"store", cfg.StoreBackend,
		"workers", cfg.WorkerCount,
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case runErr = <-errCh:
		log.Error("Server failed, shutting down", "error", runErr)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down HTTP server", "error", err)
	}
	health.Server().GracefulStop()

	// Workers finish their current attempt before returning.
	wg.Wait()
	log.Info("Shutdown complete")
	return runErr
}

// openStore connects to Postgres when configured; it returns nil for the
// memory backend.
func openStore(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.StoreBackend != config.BackendPostgres {
		return nil, nil
	}
	return store.Connect(ctx, cfg.DatabaseURL)
}
