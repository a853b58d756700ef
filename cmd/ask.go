package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lance13c/chatgate/internal/automation"
	"github.com/lance13c/chatgate/internal/logging"
	"github.com/lance13c/chatgate/internal/ui"
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send one prompt and print the reply",
	Long: `Ask opens a browser session, sends a single prompt and prints the reply.
With no argument, or with "-", the prompt is read from stdin.

Examples:
  chatgate ask "What is 2+2?"
  echo "Summarize this" | chatgate ask -
  chatgate ask --raw "Write a haiku" > haiku.txt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().IntP("retries", "r", 0, "max attempts (default chat.max_retries)")
	askCmd.Flags().Bool("raw", false, "print only the reply text")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	in := cmd.InOrStdin()
	if len(args) == 0 && isTerminal(in) {
		return errors.New("no prompt given: pass it as an argument or pipe it on stdin")
	}
	prompt, err := readPrompt(in, args)
	if err != nil {
		return err
	}
	retries, _ := cmd.Flags().GetInt("retries")
	if retries <= 0 {
		retries = cfg.Chat.MaxRetries
	}
	raw, _ := cmd.Flags().GetBool("raw")

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	styles := ui.NewStyles()
	out := cmd.OutOrStdout()
	if !raw {
		fmt.Fprintln(out, styles.Prompt.Render("> "+firstLine(prompt)))
	}

	db, dbErr := openHistory(cfg)
	if dbErr != nil {
		logging.Warn("History disabled: %v", dbErr)
	}
	if db != nil {
		defer db.Close()
	}

	reply, err := auto.Submit(ctx, prompt, retries)
	recordExchange(db, "cli", prompt, reply, err)
	if err != nil {
		if !raw {
			msg := err.Error()
			var autoErr *automation.AutomationError
			if errors.As(err, &autoErr) && autoErr.Diagnostic != "" && autoErr.Diagnostic != msg {
				msg += "\n\n" + autoErr.Diagnostic
			}
			fmt.Fprintln(cmd.ErrOrStderr(), styles.ErrorBox.Render(msg))
		}
		return err
	}

	if raw {
		fmt.Fprintln(out, reply.Text)
		return nil
	}
	fmt.Fprintln(out, styles.ReplyBox.Render(reply.Text))
	fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("%d attempt(s), %s", reply.Attempts, reply.Elapsed.Round(time.Millisecond))))
	return nil
}

// readPrompt takes the prompt from args, or stdin when absent or "-"
func readPrompt(in io.Reader, args []string) (string, error) {
	var prompt string
	if len(args) == 1 && args[0] != "-" {
		prompt = args[0]
	} else {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
		}
		prompt = string(data)
	}
	if strings.TrimSpace(prompt) == "" {
		return "", automation.ErrEmptyPrompt
	}
	return prompt, nil
}

// isTerminal reports whether r is an interactive terminal
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
