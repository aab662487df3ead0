package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent"
	contractx "github.com/tanpawarit/Predictive-Maintenance-Agent/agent/contract"
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and print the answer as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := loadDeps()
		if err != nil {
			return err
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		app, err := agent.Build(ctx, deps)
		if err != nil {
			return err
		}
		defer func() { _ = app.Close(context.Background()) }()

		hints := contractx.Entities{}
		hints.Dataset, _ = cmd.Flags().GetString("dataset")
		hints.Split, _ = cmd.Flags().GetString("split")
		hints.Unit, _ = cmd.Flags().GetString("unit")
		hints.TimeIndex, _ = cmd.Flags().GetString("time")
		hints.Sensor, _ = cmd.Flags().GetString("sensor")
		hints.Metric, _ = cmd.Flags().GetString("metric")
		hints.ComparisonTarget, _ = cmd.Flags().GetString("compare")

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		answer, err := app.Orchestrator.HandleRequest(ctx, strings.Join(args, " "), hints)
		if err != nil {
			var pe *contractx.PipelineError
			if errors.As(err, &pe) {
				_ = enc.Encode(map[string]any{
					"kind":     pe.Kind,
					"category": pe.Category,
					"scores":   pe.Scores,
					"entities": pe.Entities,
					"step":     pe.StepID,
				})
			}
			return err
		}
		return enc.Encode(answer)
	},
}

func init() {
	rootCmd.AddCommand(askCmd)
	f := askCmd.Flags()
	f.String("dataset", "", "Dataset hint, e.g. FD001")
	f.String("split", "", "Split hint: train or test")
	f.String("unit", "", "Engine unit hint")
	f.String("time", "", "Cycle hint")
	f.String("sensor", "", "Sensor column hint")
	f.String("metric", "", "Metric hint")
	f.String("compare", "", "Comparison target hint")
	f.Duration("timeout", 5*time.Minute, "Overall request timeout")
}
