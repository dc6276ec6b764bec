package cmd

import (
	"fmt"

	"github.com/samber/do/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/vedant-sarda/atorix-chat/internal/app"
	"github.com/vedant-sarda/atorix-chat/internal/backend"
	"github.com/vedant-sarda/atorix-chat/internal/cli"
	"github.com/vedant-sarda/atorix-chat/internal/config"
	"github.com/vedant-sarda/atorix-chat/internal/storage"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <user>",
	Short: "Write the conversation history with a user to a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}
		logs, err := setupLogging(cfg.LogFormat, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer logs.Close()

		path := exportOut
		if path == "" {
			path = args[0] + ".json"
		}

		api, err := do.Invoke[*backend.Client](app.NewInjector(cfg))
		if err != nil {
			return err
		}
		store := storage.NewAferoStore(afero.NewOsFs())

		t, err := cli.Export(cmd.Context(), api, store, cfg.UserID, args[0], path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d messages to %s\n", len(t.Messages), path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default <user>.json)")
	rootCmd.AddCommand(exportCmd)
}
