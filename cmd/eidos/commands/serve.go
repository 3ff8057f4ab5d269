package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/provolt/eidos/pkg/eidos/agent"
)

// newServeCmd creates the `eidos serve` command that starts the daemon.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent with messaging channels",
		Long: `Start Eidos as a daemon, connecting to the channels enabled in
config (Discord, Telegram) and processing messages.

Examples:
  eidos serve
  eidos serve --channel discord
  eidos serve --config ./eidos.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringSlice("channel", nil, "channels to enable (discord, telegram)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	// --channel narrows the configured channels instead of adding new ones.
	if filter, _ := cmd.Flags().GetStringSlice("channel"); len(filter) > 0 {
		cfg.Channels.Discord.Enabled = cfg.Channels.Discord.Enabled && containsName(filter, "discord")
		cfg.Channels.Telegram.Enabled = cfg.Channels.Telegram.Enabled && containsName(filter, "telegram")
	}

	svc, err := agent.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}
	svc.RegisterConfiguredChannels()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	logger.Info("Eidos running. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")

	// Graceful shutdown with timeout.
	done := make(chan struct{})
	go func() {
		svc.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

func containsName(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}
