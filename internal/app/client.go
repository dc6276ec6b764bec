package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/do/v2"

	"github.com/vedant-sarda/atorix-chat/internal/backend"
	"github.com/vedant-sarda/atorix-chat/internal/pubsub"
	"github.com/vedant-sarda/atorix-chat/internal/session"
	"github.com/vedant-sarda/atorix-chat/internal/transport"
	"github.com/vedant-sarda/atorix-chat/internal/windows"
)

// Client is a fully wired chat client.
type Client struct {
	Bus       *pubsub.WatermillBridge
	API       *backend.Client
	Transport *transport.Connector
	Session   *session.Controller
	Windows   *windows.Manager

	injector *do.RootScope
	logger   *slog.Logger

	mu        sync.Mutex
	everUp    bool
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Build resolves the client services from the injector.
func Build(i *do.RootScope) (*Client, error) {
	c := &Client{injector: i, logger: slog.Default().With("service", "client")}

	var err error
	if c.Bus, err = do.Invoke[*pubsub.WatermillBridge](i); err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	if c.API, err = do.Invoke[*backend.Client](i); err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}
	if c.Transport, err = do.Invoke[*transport.Connector](i); err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	if c.Session, err = do.Invoke[*session.Controller](i); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if c.Windows, err = do.Invoke[*windows.Manager](i); err != nil {
		return nil, fmt.Errorf("failed to create window manager: %w", err)
	}
	return c, nil
}

// Start loads the user directory and begins connecting. The directory is
// best effort: a failure is logged and the client still connects.
func (c *Client) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	if users, err := c.API.ListUsers(ctx); err != nil {
		c.logger.Warn("Failed to load user directory", "error", err)
	} else {
		c.Session.SetUsers(users)
	}

	c.Transport.OnStatus(func(connected bool) { c.statusChanged(ctx, connected) })
	c.Transport.OnEvent(c.Session.HandleEvent)
	return c.Transport.Connect(ctx)
}

// statusChanged mirrors the transport status into the session and reloads
// the active conversation after a reconnect, since events sent while the
// connection was down are only recoverable from history.
func (c *Client) statusChanged(ctx context.Context, connected bool) {
	c.Session.SetConnected(connected)

	c.mu.Lock()
	reconnect := connected && c.everUp
	if connected {
		c.everUp = true
	}
	c.mu.Unlock()

	if !reconnect {
		return
	}
	go func() {
		if err := c.Session.Refresh(ctx); err != nil {
			c.logger.Warn("Failed to refresh conversation after reconnect", "error", err)
		}
	}()
}

// Close stops the client and releases every service.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()

		c.Windows.Shutdown()
		if err := c.Transport.Close(); err != nil {
			c.logger.Debug("Transport close", "error", err)
		}
		c.Session.Close()
		if err := c.Bus.Close(); err != nil {
			c.logger.Warn("Failed to close event bus", "error", err)
		}
		// Flushes the tracer and any other service implementing a shutdown hook.
		c.injector.Shutdown()
	})
}
