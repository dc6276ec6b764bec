package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/vedant-sarda/atorix-chat/internal/config"
	"github.com/vedant-sarda/atorix-chat/internal/domain"
	"github.com/vedant-sarda/atorix-chat/internal/logging"
	"github.com/vedant-sarda/atorix-chat/internal/pubsub"
	"github.com/vedant-sarda/atorix-chat/internal/relay"
)

func main() {
	cfg, err := config.NewRelay()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.NewWithWriter(os.Stdout, cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store relay.Store = relay.NewMemoryStore()
	if cfg.SurrealURL != "" {
		surreal, err := relay.OpenSurreal(ctx, cfg)
		if err != nil {
			slog.Error("Failed to open SurrealDB store", "error", err)
			os.Exit(1)
		}
		store = surreal
	}

	users := relay.NewUserDirectory(afero.NewOsFs(), cfg.UsersFile)
	if err := users.Load(); err != nil {
		slog.Error("Failed to load users file", "error", err)
		os.Exit(1)
	}
	if err := users.Watch(ctx); err != nil {
		slog.Warn("Users file will not be hot-reloaded", "error", err)
	}

	tracer, flush, err := pubsub.SetupOTel(ctx, pubsub.LoadTracingConfigFromEnv())
	if err != nil {
		slog.Error("Failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer flush()
	bus := pubsub.NewWatermillBridge(pubsub.WithTracer(tracer))
	defer bus.Close()

	err = pubsub.Subscribe(ctx, bus, relay.MessageStored, func(_ context.Context, m domain.Message) error {
		slog.Debug("Message stored", "id", m.ID, "conversation_id", m.ConversationID, "sender", m.Sender)
		return nil
	})
	if err != nil {
		slog.Error("Failed to subscribe to relay events", "error", err)
		os.Exit(1)
	}

	hub := relay.NewHub(store, relay.WithHubPublisher(bus), relay.WithOfflineDebounce(cfg.OfflineDebounce))
	go hub.Run(ctx)

	srv := relay.NewServer(hub, store, users, relay.WithRateLimit(rate.Limit(cfg.RateLimit)))
	go func() {
		slog.Info("Relay listening", "addr", cfg.Addr)
		if err := srv.Start(cfg.Addr); err != nil {
			slog.Error("Relay server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shut down relay server", "error", err)
	}
	if err := store.Close(shutdownCtx); err != nil {
		slog.Error("Failed to close store", "error", err)
	}
}
