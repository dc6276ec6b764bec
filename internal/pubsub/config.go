package pubsub

import (
	"log/slog"
	"os"
	"strconv"
)

// LoadTracingConfigFromEnv loads tracing configuration from environment variables.
// Unparseable values are logged and leave the default in place.
func LoadTracingConfigFromEnv() TracingConfig {
	config := DefaultTracingConfig()

	if enabledStr := os.Getenv("PUBSUB_TRACING_ENABLED"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			slog.Warn("Ignoring invalid PUBSUB_TRACING_ENABLED", "value", enabledStr, "error", err)
		} else {
			config.Enabled = enabled
		}
	}

	if serviceName := os.Getenv("PUBSUB_TRACING_SERVICE_NAME"); serviceName != "" {
		config.ServiceName = serviceName
	}

	if zipkinURL := os.Getenv("PUBSUB_TRACING_ZIPKIN_URL"); zipkinURL != "" {
		config.ZipkinURL = zipkinURL
	}

	return config
}
