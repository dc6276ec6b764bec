package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vedant-sarda/atorix-chat/internal/app"
	"github.com/vedant-sarda/atorix-chat/internal/cli"
	"github.com/vedant-sarda/atorix-chat/internal/config"
	"github.com/vedant-sarda/atorix-chat/internal/pubsub"
	"github.com/vedant-sarda/atorix-chat/internal/session"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Start an interactive chat session",
	RunE:  runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	logs, err := setupLogging(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logs.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := app.Build(app.NewInjector(cfg))
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	printer := cli.NewPrinter(out, cfg.UserID)
	err = pubsub.Subscribe(ctx, client.Bus, session.SnapshotTopic, func(_ context.Context, snap session.Snapshot) error {
		printer.Show(snap)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to session updates: %w", err)
	}

	if err := client.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "signed in as %s\n", cfg.UserID)

	return cli.NewREPL(client.Windows, client.Session, out).Run(ctx, cmd.InOrStdin())
}
