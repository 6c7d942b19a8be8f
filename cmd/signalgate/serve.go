package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP API",
		Long: `Start the signal ingestion API, the sandbox and execution endpoints,
the kernel health monitor and the websocket health stream.`,
		RunE: runServe,
	}

	cmd.Flags().String("host", "", "Listen host (overrides config)")
	cmd.Flags().Int("port", 0, "Listen port (overrides config)")
	cmd.Flags().String("kernel-url", "", "Trading kernel base URL (overrides config)")
	cmd.Flags().String("redis-addr", "", "Transparency channel redis address (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Shutdown cleanup failed")
		}
	}()

	log.Info().
		Str("version", version).
		Str("addr", appConfig.Server.Addr()).
		Str("kernel", appConfig.Kernel.BaseURL).
		Msgf("%s starting", appName)

	if err := a.run(ctx); err != nil {
		log.Error().Err(err).Msg("Gateway stopped with error")
		return err
	}

	log.Info().Msg("Gateway stopped")
	return nil
}
