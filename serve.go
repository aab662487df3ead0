package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanpawarit/Predictive-Maintenance-Agent/agent"
	"github.com/tanpawarit/Predictive-Maintenance-Agent/internal/api"
	configx "github.com/tanpawarit/Predictive-Maintenance-Agent/pkg/config"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := loadDeps()
		if err != nil {
			return err
		}
		httpCfg, err := configx.New[api.Config]("HTTP")
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			httpCfg.Addr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := agent.Build(ctx, deps)
		if err != nil {
			return err
		}
		workers, cancelWorkers := context.WithCancel(ctx)
		app.Start(workers)

		if warm, _ := cmd.Flags().GetBool("warm"); warm {
			if err := app.Warm(ctx); err != nil {
				log.Warn().Err(err).Msg("session warm-up failed")
			}
		}

		srv := api.New(*httpCfg, app.Orchestrator, app.Registry, app.Sessions)
		serverErrors := make(chan error, 1)
		go func() {
			serverErrors <- srv.Start()
		}()

		var runErr error
		select {
		case err := <-serverErrors:
			runErr = err
		case <-ctx.Done():
			log.Info().Msg("shutdown requested")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown did not complete")
		}
		cancelWorkers()
		if err := app.Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("close agent")
		}
		if runErr != nil {
			return fmt.Errorf("serve: %w", runErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address, overrides HTTP_ADDR")
	serveCmd.Flags().Bool("warm", true, "Set up the query session before accepting requests")
}
