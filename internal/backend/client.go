// Package backend is the REST client for the user directory and the
// conversation/message persistence API.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vedant-sarda/atorix-chat/internal/domain"
)

// ActorHeader carries the actor id on requests that are scoped to them.
const ActorHeader = "X-User-ID"

const maxErrorBody = 1024

// APIError is returned for any non-2xx response.
type APIError struct {
	// Op names the request that failed, e.g. "list users".
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// Is lets errors.Is match domain.ErrNotFound against a 404.
func (e *APIError) Is(target error) bool {
	return target == domain.ErrNotFound && e.Status == http.StatusNotFound
}

// Client talks to the chat backend. It is safe for concurrent use.
type Client struct {
	baseURL    string
	actorID    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends an Authorization bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient = &http.Client{Timeout: d} }
}

// NewClient creates a client for the API rooted at baseURL acting as actorID.
func NewClient(baseURL, actorID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		actorID:    actorID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default().With("service", "backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListUsers fetches the user directory.
func (c *Client) ListUsers(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	if err := c.get(ctx, "list users", "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// FindConversation returns the id of the conversation with counterpartID, or
// "" when none exists yet. Only the first match is used.
func (c *Client) FindConversation(ctx context.Context, counterpartID string) (string, error) {
	var convs []struct {
		ID string `json:"_id"`
	}
	query := url.Values{"user": []string{counterpartID}}
	if err := c.get(ctx, "find conversation", "/conversations", query, &convs); err != nil {
		return "", err
	}
	if len(convs) == 0 {
		return "", nil
	}
	if len(convs) > 1 {
		c.logger.Warn("Multiple conversations with one counterpart, using the first",
			"counterpart", counterpartID, "count", len(convs))
	}
	return convs[0].ID, nil
}

// Messages fetches the persisted history of a conversation.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("messages: %w: empty conversation id", domain.ErrInvalidInput)
	}
	var msgs []domain.Message
	if err := c.get(ctx, "list messages", "/messages/"+url.PathEscape(conversationID), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.actorID != "" {
		req.Header.Set(ActorHeader, c.actorID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}
