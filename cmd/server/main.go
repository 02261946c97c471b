package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/adimov-eth/vibecheck-notify/internal/config"
	"github.com/adimov-eth/vibecheck-notify/internal/ingest"
	"github.com/adimov-eth/vibecheck-notify/internal/notify"
	"github.com/adimov-eth/vibecheck-notify/internal/platform/logging"
	"github.com/adimov-eth/vibecheck-notify/internal/platform/retry"
	"github.com/adimov-eth/vibecheck-notify/internal/redis"
	"github.com/adimov-eth/vibecheck-notify/internal/server"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config) *goredis.Client {
	policy := retry.Policy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Redis connection failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	client, err := retry.Do(ctx, policy, retry.Always, func() (*goredis.Client, error) {
		return redis.NewClient(ctx, cfg.RedisURL)
	})
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupIngest(cfg *config.Config, dispatcher *notify.Dispatcher) *ingest.Consumer {
	if len(cfg.KafkaBrokers) == 0 {
		slog.Info("Kafka ingest disabled, no brokers configured")
		return nil
	}

	consumer, err := ingest.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, dispatcher)
	if err != nil {
		slog.Error("Failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}
	return consumer
}

func runGracefulShutdown(srv *server.Server, hub *notify.Hub, monitor *notify.Monitor, consumer *ingest.Consumer, cancelIngest context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if consumer != nil {
			cancelIngest()
			if err := consumer.Close(); err != nil {
				slog.Error("Kafka consumer shutdown error", "error", err)
			}
		}

		monitor.Stop()
		hub.Shutdown()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	redisClient := setupRedis(context.Background(), cfg)
	defer func() { _ = redisClient.Close() }()

	verifier := redis.NewSessionVerifier(redisClient, clock)

	registry := notify.NewRegistry(cfg.MaxConnectionsPerUser, cfg.IdleTimeout, clock)
	buffer := notify.NewBuffer(cfg.BufferMaxPerUser, cfg.BufferTTL, clock)
	dispatcher := notify.NewDispatcher(registry, buffer)
	hub := notify.NewHub(registry, dispatcher, verifier, cfg.AuthTimeout, clock)

	monitor := notify.NewMonitor(hub, buffer, clock, cfg.PingInterval, cfg.SweepInterval, cfg.IdleTimeout)
	monitor.Start()

	consumer := setupIngest(cfg, dispatcher)
	ingestCtx, cancelIngest := context.WithCancel(context.Background())
	defer cancelIngest()
	if consumer != nil {
		go consumer.Run(ingestCtx)
		slog.Info("Kafka ingest started", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	srv := server.NewServer(cfg, hub, registry, monitor, dispatcher, redisClient)

	done := runGracefulShutdown(srv, hub, monitor, consumer, cancelIngest)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
