package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultTypingExpiry   = 2 * time.Second
	DefaultTypingDebounce = 1200 * time.Millisecond
	DefaultReconnectMin   = 1 * time.Second
	DefaultReconnectMax   = 30 * time.Second
	DefaultSendBuffer     = 64
	DefaultSendBufferTTL  = 2 * time.Minute
	DefaultRequestTimeout = 10 * time.Second
	DefaultRelayAddr      = ":8090"
	DefaultOfflineDelay   = 3 * time.Second
)

// Config holds all configuration for the chat client.
type Config struct {
	ServerURL string `validate:"required,url"`
	APIURL    string `validate:"required,url"`
	UserID    string `validate:"required"`
	Token     string

	TypingExpiry   time.Duration `validate:"gt=0"`
	TypingDebounce time.Duration `validate:"gt=0"`
	ReconnectMin   time.Duration `validate:"gt=0"`
	ReconnectMax   time.Duration `validate:"gtefield=ReconnectMin"`
	SendBuffer     int           `validate:"gte=0"`
	SendBufferTTL  time.Duration `validate:"gt=0"`
	RequestTimeout time.Duration `validate:"gt=0"`

	LogFormat string `validate:"omitempty,oneof=text json"`
	LogLevel  string
}

// RelayConfig holds the configuration of the development relay server.
type RelayConfig struct {
	Addr            string `validate:"required"`
	UsersFile       string
	OfflineDebounce time.Duration `validate:"gte=0"`
	RateLimit       int           `validate:"gte=0"`

	SurrealURL  string `validate:"omitempty,url"`
	SurrealNS   string `validate:"required_with=SurrealURL"`
	SurrealDB   string `validate:"required_with=SurrealURL"`
	SurrealUser string
	SurrealPass string

	LogFormat string `validate:"omitempty,oneof=text json"`
	LogLevel  string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadEnv loads a .env file into the process environment if one exists.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
}

// New loads the client configuration from environment variables.
func New() (*Config, error) {
	LoadEnv()

	cfg := &Config{
		ServerURL: os.Getenv("CHAT_WS_URL"),
		APIURL:    os.Getenv("CHAT_API_URL"),
		UserID:    os.Getenv("CHAT_USER_ID"),
		Token:     os.Getenv("CHAT_TOKEN"),
		LogFormat: os.Getenv("LOG_FORMAT"),
		LogLevel:  os.Getenv("LOG_LEVEL"),
	}

	var err error
	if cfg.TypingExpiry, err = durationEnv("CHAT_TYPING_EXPIRY", DefaultTypingExpiry); err != nil {
		return nil, err
	}
	if cfg.TypingDebounce, err = durationEnv("CHAT_TYPING_DEBOUNCE", DefaultTypingDebounce); err != nil {
		return nil, err
	}
	if cfg.ReconnectMin, err = durationEnv("CHAT_RECONNECT_MIN", DefaultReconnectMin); err != nil {
		return nil, err
	}
	if cfg.ReconnectMax, err = durationEnv("CHAT_RECONNECT_MAX", DefaultReconnectMax); err != nil {
		return nil, err
	}
	if cfg.SendBuffer, err = intEnv("CHAT_SEND_BUFFER", DefaultSendBuffer); err != nil {
		return nil, err
	}
	if cfg.SendBufferTTL, err = durationEnv("CHAT_SEND_BUFFER_TTL", DefaultSendBufferTTL); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = durationEnv("CHAT_REQUEST_TIMEOUT", DefaultRequestTimeout); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid chat configuration: %w", err)
	}
	return cfg, nil
}

// NewRelay loads the relay configuration from environment variables.
func NewRelay() (*RelayConfig, error) {
	LoadEnv()

	cfg := &RelayConfig{
		Addr:        os.Getenv("RELAY_ADDR"),
		UsersFile:   os.Getenv("RELAY_USERS_FILE"),
		SurrealURL:  os.Getenv("RELAY_SURREAL_URL"),
		SurrealNS:   os.Getenv("RELAY_SURREAL_NS"),
		SurrealDB:   os.Getenv("RELAY_SURREAL_DB"),
		SurrealUser: os.Getenv("RELAY_SURREAL_USER"),
		SurrealPass: os.Getenv("RELAY_SURREAL_PASS"),
		LogFormat:   os.Getenv("LOG_FORMAT"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultRelayAddr
	}
	var err error
	if cfg.OfflineDebounce, err = durationEnv("RELAY_OFFLINE_DEBOUNCE", DefaultOfflineDelay); err != nil {
		return nil, err
	}
	if cfg.RateLimit, err = intEnv("RELAY_RATE_LIMIT", 0); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid relay configuration: %w", err)
	}
	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
