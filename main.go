package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	configx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/config"
	logx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/logger"
	_ "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/logger/autoload"
)

var rootCmd = &cobra.Command{
	Use:   "fleet-agent",
	Short: "Answer maintenance questions about a turbofan engine fleet",
	Long: `fleet-agent classifies a natural-language question about engine telemetry,
plans the capabilities needed to answer it and executes them against the fleet database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env")
		if envFile != "" {
			configx.SetEnvFile(envFile)
		}
		conf, err := configx.New[logx.Config]("LOG")
		if err != nil {
			return err
		}
		logx.Init(*conf)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("env", "", "Path to an env file (defaults to ./.env when present)")
}
