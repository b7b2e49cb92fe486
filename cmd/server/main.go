// cmd/server is the booking server entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/backend"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/config"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/handler"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/logger"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/notify"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/repository"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/service"
	"github.com/Shivanand-hulikatti/carpool-seat-booking/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Configuration and logging ─────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.App.LogLevel, cfg.App.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	// ── 2. Connect to the document store ─────────────────────────────────
	db, closeStore, err := backend.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer closeStore()

	if _, err := backend.Preload(ctx, cfg, db, log); err != nil {
		log.Warn("seed data not preloaded", zap.String("dir", cfg.Seed.Dir), zap.Error(err))
	}

	var publisher notify.Publisher = notify.NoOp{}
	if cfg.Kafka.Enabled() {
		k, err := notify.NewKafka(ctx, notify.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		}, log)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		publisher = k
		log.Info("publishing seat changes", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer func() { _ = publisher.Close() }()

	// ── 3. Wire up layers ────────────────────────────────────────────────
	resolver := service.NewSeatResolver(
		repository.NewEventRepository(db),
		repository.NewCarRepository(db),
		repository.NewParticipantRepository(db),
		publisher,
		log,
	)
	bookingHandler, err := handler.NewBookingHandler(resolver, db, log)
	if err != nil {
		return err
	}

	// ── 4. Start server with graceful shutdown ───────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.NewRouter(bookingHandler, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		// Open event streams end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("backend", cfg.Store.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Block until SIGINT or SIGTERM.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}
