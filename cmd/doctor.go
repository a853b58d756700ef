package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/chatgate/internal/browser"
	"github.com/lance13c/chatgate/internal/ui"
)

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, browser and a running server",
	Long: `Doctor runs health checks on the local setup.

This command will:
• Load and validate the configuration
• Locate a Chrome binary, or reach the configured remote DevTools endpoint
• Check the browser profile directory
• With --server, call GET /, GET /health and POST /chat on a running instance

Example:
  chatgate doctor
  chatgate doctor --server http://localhost:8000 --prompt "Hello"`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	doctorCmd.Flags().String("server", "", "base URL of a running chatgate server to probe")
	doctorCmd.Flags().String("prompt", "Hello", "prompt sent to POST /chat when probing a server (empty skips it)")
	doctorCmd.Flags().Duration("timeout", 2*time.Minute, "timeout for the server probe")
}

// checkResult is one line of doctor output
type checkResult struct {
	Name   string
	Status ui.CheckStatus
	Detail string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	styles := ui.NewStyles()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styles.Header.Render("chatgate doctor"))

	var results []checkResult
	cfg, err := requireConfig()
	switch {
	case err != nil:
		results = append(results, checkResult{"config", ui.StatusFail, err.Error()})
	case loader.LoadedFrom() == "":
		results = append(results, checkResult{"config", ui.StatusWarn, "no config file, using defaults (run 'chatgate init')"})
	default:
		results = append(results, checkResult{"config", ui.StatusPass, loader.LoadedFrom()})
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg != nil {
		results = append(results, checkBrowser(ctx, cfg.Browser.Driver, cfg.Browser.ExecPath, cfg.Browser.RemoteURL)...)
		results = append(results, checkProfile(cfg.Browser.UserDataDir))
	}

	if server, _ := cmd.Flags().GetString("server"); server != "" {
		prompt, _ := cmd.Flags().GetString("prompt")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		results = append(results, probeServer(probeCtx, http.DefaultClient, server, prompt)...)
	}

	failed := 0
	for _, r := range results {
		fmt.Fprintln(out, styles.Check(r.Status, r.Name, r.Detail))
		if r.Status == ui.StatusFail {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func checkBrowser(ctx context.Context, driver, execPath, remoteURL string) []checkResult {
	if remoteURL != "" {
		wsURL, err := browser.ResolveDebuggerURL(ctx, remoteURL)
		if err != nil {
			return []checkResult{{"remote browser", ui.StatusFail, err.Error()}}
		}
		return []checkResult{{"remote browser", ui.StatusPass, wsURL}}
	}

	if driver == browser.DriverPlaywright {
		return []checkResult{{"browser", ui.StatusPass, "playwright manages its own Chromium"}}
	}
	if execPath != "" {
		if _, err := os.Stat(execPath); err != nil {
			return []checkResult{{"chrome", ui.StatusFail, err.Error()}}
		}
		return []checkResult{{"chrome", ui.StatusPass, execPath}}
	}
	path, err := browser.FindChrome()
	if err != nil {
		return []checkResult{{"chrome", ui.StatusFail, err.Error() + " (set browser.exec_path)"}}
	}
	return []checkResult{{"chrome", ui.StatusPass, path}}
}

func checkProfile(dir string) checkResult {
	if dir == "" {
		return checkResult{"profile", ui.StatusWarn, "no browser.user_data_dir, every launch starts logged out"}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return checkResult{"profile", ui.StatusWarn, dir + " does not exist yet (run 'chatgate login')"}
	}
	if !info.IsDir() {
		return checkResult{"profile", ui.StatusFail, dir + " is not a directory"}
	}
	return checkResult{"profile", ui.StatusPass, dir}
}

// probeServer exercises a running server the way a client would
func probeServer(ctx context.Context, client *http.Client, base, prompt string) []checkResult {
	base = strings.TrimSuffix(base, "/")
	var results []checkResult

	var root map[string]string
	status, err := doJSON(ctx, client, http.MethodGet, base+"/", nil, &root)
	switch {
	case err != nil:
		return append(results, checkResult{"GET /", ui.StatusFail, err.Error()})
	case status != http.StatusOK:
		results = append(results, checkResult{"GET /", ui.StatusFail, http.StatusText(status)})
	default:
		results = append(results, checkResult{"GET /", ui.StatusPass, root["message"]})
	}

	var health map[string]any
	status, err = doJSON(ctx, client, http.MethodGet, base+"/health", nil, &health)
	switch {
	case err != nil:
		results = append(results, checkResult{"GET /health", ui.StatusFail, err.Error()})
	case status == http.StatusOK:
		results = append(results, checkResult{"GET /health", ui.StatusPass, "session ready"})
	default:
		results = append(results, checkResult{"GET /health", ui.StatusWarn,
			fmt.Sprintf("not ready (initialized=%v logged_in=%v)", health["initialized"], health["logged_in"])})
	}

	if prompt == "" {
		return results
	}

	var chat struct {
		Response     string  `json:"response"`
		Success      bool    `json:"success"`
		ErrorMessage *string `json:"error_message"`
	}
	start := time.Now()
	status, err = doJSON(ctx, client, http.MethodPost, base+"/chat", map[string]any{"prompt": prompt, "max_retries": 1}, &chat)
	switch {
	case err != nil:
		results = append(results, checkResult{"POST /chat", ui.StatusFail, err.Error()})
	case status != http.StatusOK || !chat.Success:
		detail := http.StatusText(status)
		if chat.ErrorMessage != nil {
			detail = *chat.ErrorMessage
		}
		results = append(results, checkResult{"POST /chat", ui.StatusFail, detail})
	default:
		results = append(results, checkResult{"POST /chat", ui.StatusPass,
			fmt.Sprintf("%q in %s", truncate(chat.Response, 60), time.Since(start).Round(time.Millisecond))})
	}
	return results
}

func doJSON(ctx context.Context, client *http.Client, method, url string, body, into any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil && err != io.EOF {
		return resp.StatusCode, fmt.Errorf("invalid JSON from %s: %w", url, err)
	}
	return resp.StatusCode, nil
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-3]) + "..."
}
