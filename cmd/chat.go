package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/lance13c/chatgate/internal/automation"
	"github.com/lance13c/chatgate/internal/logging"
	"github.com/lance13c/chatgate/internal/ui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive prompt loop over one browser session",
	Long: `Chat keeps one browser session open and lets you send prompts from the
terminal, one at a time. Type /status for the session state and /quit to leave.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().IntP("retries", "r", 0, "max attempts per prompt (default chat.max_retries)")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	retries, _ := cmd.Flags().GetInt("retries")
	if retries <= 0 {
		retries = cfg.Chat.MaxRetries
	}

	// The TUI owns the terminal, so keep log lines in the file only
	if cfg.Logging.File != "" && cfg.Logging.Console {
		logOpts := cfg.LoggingOptions()
		logOpts.Console = false
		if err := logging.Initialize(logOpts); err == nil {
			logging.RedirectStandardLog()
		}
	}

	opts, err := cfg.AutomationOptions()
	if err != nil {
		return err
	}
	opts.Logger = logging.Named("automation")
	auto, err := automation.New(opts)
	if err != nil {
		return err
	}
	defer auto.Shutdown()

	db, err := openHistory(cfg)
	if err != nil {
		logging.Warn("History disabled: %v", err)
	}
	if db != nil {
		defer db.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	view := ui.NewChatView(ctx, auto, cfg.Target.URL, retries, func(prompt string, reply *automation.Reply, err error) {
		recordExchange(db, "repl", prompt, reply, err)
	})
	_, err = tea.NewProgram(view, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		// Interrupted by a signal
		return nil
	}
	return err
}
