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
	"github.com/provolt/eidos/pkg/eidos/channels/console"
)

// newChatCmd creates the `eidos chat` command for an interactive
// terminal conversation with the agent.
func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal conversation",
		Long: `Start an interactive conversation with the agent on the terminal.
Uses the same pipeline as the messaging channels, with history persisted
to the memory store. Exit with Ctrl+D.

Examples:
  eidos chat
  eidos chat --config ./eidos.yaml`,
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	// Chat mode is terminal-only; network channels stay out and logs go
	// to a file-less quiet default unless --verbose asked for them.
	cfg.Channels.Discord.Enabled = false
	cfg.Channels.Telegram.Enabled = false
	cfg.Scheduler.Enabled = false
	if cfg.Logging.Format == "" || cfg.Logging.Format == "json" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Level == "" || cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}
	logger := buildLogger(cmd, cfg)

	svc, err := agent.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	cns := console.New(cfg.Channels.Console, logger)
	if err := svc.Channels().Register(cns); err != nil {
		return fmt.Errorf("registering console: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("starting agent: %w", err)
	}

	fmt.Println("Chatting with the agent. Ctrl+D to exit.")

	// Run until the terminal closes or a signal arrives.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			svc.Stop()
			return nil
		case <-ticker.C:
			if !cns.IsConnected() {
				svc.Stop()
				return nil
			}
		}
	}
}
