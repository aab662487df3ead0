package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Set up the query session and print session statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := loadDeps()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		app, err := agent.Build(ctx, deps)
		if err != nil {
			return err
		}
		defer func() { _ = app.Close(context.Background()) }()

		if err := app.Warm(ctx); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(app.Sessions.Stats())
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
