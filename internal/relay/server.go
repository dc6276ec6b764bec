// Package relay is a development server for the chat client. It serves the
// REST contract the client's backend package consumes and routes the
// websocket event protocol between connected users.
package relay

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/vedant-sarda/atorix-chat/internal/backend"
	"github.com/vedant-sarda/atorix-chat/internal/domain"
)

// Server wires the HTTP API and the websocket hub onto one echo instance.
type Server struct {
	E     *echo.Echo
	hub   *Hub
	store Store
	users *UserDirectory
}

// ServerOption configures a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	rateLimit rate.Limit
}

// WithRateLimit caps REST requests per client IP per second. Zero disables it.
func WithRateLimit(perSecond rate.Limit) ServerOption {
	return func(o *serverOptions) { o.rateLimit = perSecond }
}

// NewServer registers the relay routes.
func NewServer(hub *Hub, store Store, users *UserDirectory, opts ...ServerOption) *Server {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger)

	s := &Server{E: e, hub: hub, store: store, users: users}
	var limit []echo.MiddlewareFunc
	if o.rateLimit > 0 {
		limit = append(limit, rateLimiter(o.rateLimit))
	}
	e.GET("/users", s.listUsers, limit...)
	e.GET("/conversations", s.findConversations, limit...)
	e.GET("/messages/:id", s.listMessages, limit...)
	e.GET("/ws", hub.Handler())
	return s
}

// ServeHTTP lets the server be mounted in tests without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.E.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	if err := s.E.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.E.Shutdown(ctx)
}

func (s *Server) listUsers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.users.Users())
}

// findConversations answers GET /conversations?user=<counterpart> for the
// actor named in the X-User-ID header.
func (s *Server) findConversations(c echo.Context) error {
	actor := c.Request().Header.Get(backend.ActorHeader)
	counterpart := c.QueryParam("user")
	if actor == "" || counterpart == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "actor header and user parameter are required")
	}

	conv, err := s.store.FindConversation(c.Request().Context(), actor, counterpart)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusOK, []Conversation{})
	case err != nil:
		LoggerFrom(c.Request().Context()).Error("Failed to find conversation", "counterpart", counterpart, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to look up conversation")
	}
	return c.JSON(http.StatusOK, []Conversation{conv})
}

func (s *Server) listMessages(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	if _, err := s.store.Conversation(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		LoggerFrom(ctx).Error("Failed to load conversation", "conversation_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation")
	}

	msgs, err := s.store.Messages(ctx, id)
	if err != nil {
		LoggerFrom(ctx).Error("Failed to list messages", "conversation_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load messages")
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}
