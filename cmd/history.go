package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/chatgate/internal/automation"
	"github.com/lance13c/chatgate/internal/config"
	"github.com/lance13c/chatgate/internal/database"
	"github.com/lance13c/chatgate/internal/logging"
	"github.com/lance13c/chatgate/internal/ui"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent exchanges from the transcript",
	Long: `History lists the most recent prompts sent through chatgate, from any
entry point, together with their outcome.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntP("limit", "n", 10, "number of exchanges to show")
	historyCmd.Flags().Bool("stats", false, "show totals instead of exchanges")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	db, err := openHistory(cfg)
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("history is disabled (history.enabled: false)")
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	styles := ui.NewStyles()
	out := cmd.OutOrStdout()

	if stats, _ := cmd.Flags().GetBool("stats"); stats {
		s, err := db.GetStatistics(ctx)
		if err != nil {
			return err
		}
		last := "never"
		if s.Last != nil {
			last = s.Last.Local().Format(time.DateTime)
		}
		fmt.Fprintln(out, styles.KeyValues([][2]string{
			{"total", fmt.Sprint(s.Total)},
			{"succeeded", fmt.Sprint(s.Succeeded)},
			{"failed", fmt.Sprint(s.Failed)},
			{"avg duration", s.AvgDuration.Round(time.Millisecond).String()},
			{"last", last},
		}))
		return nil
	}

	limit, _ := cmd.Flags().GetInt("limit")
	exchanges, err := db.RecentExchanges(ctx, limit)
	if err != nil {
		return err
	}
	if len(exchanges) == 0 {
		fmt.Fprintln(out, styles.Muted.Render("No exchanges recorded yet."))
		return nil
	}
	for _, ex := range exchanges {
		status, detail := ui.StatusPass, truncate(ex.Response, 60)
		if !ex.Success {
			status, detail = ui.StatusFail, truncate(ex.Error, 60)
		}
		name := fmt.Sprintf("%s [%s] %s", ex.CreatedAt.Local().Format(time.DateTime), ex.Source, truncate(ex.Prompt, 40))
		fmt.Fprintln(out, styles.Check(status, name, detail))
	}
	return nil
}

// openHistory opens the transcript, or returns nil when it is disabled
func openHistory(cfg *config.Config) (*database.DB, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	db, err := database.New(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history at %s: %w", cfg.History.Path, err)
	}
	return db, nil
}

// recordExchange stores one outcome; failures are logged, never returned
func recordExchange(db *database.DB, source, prompt string, reply *automation.Reply, err error) {
	if db == nil {
		return
	}
	ex := newExchange(source, prompt, reply, err)
	if _, saveErr := db.SaveExchange(context.Background(), ex); saveErr != nil {
		logging.Warn("Failed to record exchange: %v", saveErr)
	}
}

func newExchange(source, prompt string, reply *automation.Reply, err error) *database.Exchange {
	ex := &database.Exchange{Source: source, Prompt: prompt}
	if err != nil {
		ex.Error = err.Error()
		var autoErr *automation.AutomationError
		if errors.As(err, &autoErr) {
			ex.Attempts = autoErr.Attempts
		}
		return ex
	}
	ex.TurnID = reply.TurnID
	ex.Response = reply.Text
	ex.Success = true
	ex.Attempts = reply.Attempts
	ex.Duration = reply.Elapsed
	return ex
}
