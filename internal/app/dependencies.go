// Package app wires the chat core into a runnable client. Every service is
// registered with a samber/do injector so commands and tests can replace
// any single piece before the graph is resolved.
package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/vedant-sarda/atorix-chat/internal/backend"
	"github.com/vedant-sarda/atorix-chat/internal/config"
	"github.com/vedant-sarda/atorix-chat/internal/directory"
	"github.com/vedant-sarda/atorix-chat/internal/pubsub"
	"github.com/vedant-sarda/atorix-chat/internal/session"
	"github.com/vedant-sarda/atorix-chat/internal/store"
	"github.com/vedant-sarda/atorix-chat/internal/transport"
	"github.com/vedant-sarda/atorix-chat/internal/windows"
)

// Tracing holds the bus tracer and the function that flushes it.
type Tracing struct {
	Tracer  trace.Tracer
	cleanup func()
	once    sync.Once
}

// Shutdown flushes pending spans. The injector calls it on shutdown.
func (t *Tracing) Shutdown() {
	t.once.Do(func() {
		if t.cleanup != nil {
			t.cleanup()
		}
	})
}

// NewInjector registers the client services for cfg. Nothing is
// constructed until a service is invoked.
func NewInjector(cfg *config.Config) *do.RootScope {
	i := do.New()
	do.ProvideValue(i, cfg)
	do.Provide(i, provideTracing)
	do.Provide(i, provideBus)
	do.Provide(i, provideAPI)
	do.Provide(i, provideDirectory)
	do.Provide(i, provideStore)
	do.Provide(i, provideTransport)
	do.Provide(i, provideSession)
	do.Provide(i, provideWindows)
	return i
}

func provideTracing(i do.Injector) (*Tracing, error) {
	tracer, cleanup, err := pubsub.SetupOTel(context.Background(), pubsub.LoadTracingConfigFromEnv())
	if err != nil {
		return nil, err
	}
	return &Tracing{Tracer: tracer, cleanup: cleanup}, nil
}

func provideBus(i do.Injector) (*pubsub.WatermillBridge, error) {
	tracing := do.MustInvoke[*Tracing](i)
	return pubsub.NewWatermillBridge(pubsub.WithTracer(tracing.Tracer)), nil
}

func provideAPI(i do.Injector) (*backend.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	opts := []backend.Option{backend.WithTimeout(cfg.RequestTimeout)}
	if cfg.Token != "" {
		opts = append(opts, backend.WithToken(cfg.Token))
	}
	return backend.NewClient(cfg.APIURL, cfg.UserID, opts...), nil
}

func provideDirectory(i do.Injector) (*directory.Directory, error) {
	return directory.New(do.MustInvoke[*backend.Client](i)), nil
}

func provideStore(i do.Injector) (*store.Store, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return store.New(cfg.UserID), nil
}

func provideTransport(i do.Injector) (*transport.Connector, error) {
	cfg := do.MustInvoke[*config.Config](i)

	header := http.Header{}
	header.Set(backend.ActorHeader, cfg.UserID)
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	return transport.NewConnector(cfg.ServerURL,
		transport.WithDialer(transport.WebsocketDialer{Header: header}),
		transport.WithBackoff(transport.NewBackoff(cfg.ReconnectMin, cfg.ReconnectMax)),
		transport.WithBuffer(cfg.SendBuffer, cfg.SendBufferTTL),
	), nil
}

func provideSession(i do.Injector) (*session.Controller, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return session.New(cfg.UserID, do.MustInvoke[*transport.Connector](i),
		session.WithDirectory(do.MustInvoke[*directory.Directory](i)),
		session.WithStore(do.MustInvoke[*store.Store](i)),
		session.WithHistory(do.MustInvoke[*backend.Client](i)),
		session.WithPublisher(do.MustInvoke[*pubsub.WatermillBridge](i)),
		session.WithTypingExpiry(cfg.TypingExpiry),
	), nil
}

func provideWindows(i do.Injector) (*windows.Manager, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return windows.New(do.MustInvoke[*session.Controller](i),
		windows.WithTypingDebounce(cfg.TypingDebounce),
	), nil
}
