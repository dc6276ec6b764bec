package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vedant-sarda/atorix-chat/internal/logging"
)

var logFile string

var rootCmd = &cobra.Command{
	Use:   "chat-cli",
	Short: "Terminal client for atorix chat",
	Long: `chat-cli is a terminal client for the atorix chat service.

Configuration is read from the environment (or a .env file):
  CHAT_WS_URL, CHAT_API_URL, CHAT_USER_ID and optionally CHAT_TOKEN.

Use "chat-cli [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
}

// setupLogging keeps logs out of the terminal the REPL renders into unless
// no log file was given, in which case only warnings reach stderr.
func setupLogging(format, level string) (io.Closer, error) {
	if logFile == "" {
		if level == "" {
			level = "warn"
		}
		logging.NewWithWriter(os.Stderr, format, level)
		return io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logging.NewWithWriter(f, format, level)
	return f, nil
}
