package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/chatgate/internal/api"
	"github.com/lance13c/chatgate/internal/automation"
	"github.com/lance13c/chatgate/internal/config"
	"github.com/lance13c/chatgate/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the chat session over HTTP",
	Long: `Serve starts the HTTP API and warms up the browser session in the
background. Requests that arrive before the session is ready bootstrap it
themselves.

Endpoints:
  GET  /        liveness
  POST /chat    {"prompt": "...", "max_retries": 3}
  GET  /health  session readiness`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "listen host (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	serveCmd.Flags().Bool("no-warmup", false, "skip background session startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if noWarmup, _ := cmd.Flags().GetBool("no-warmup"); !noWarmup {
		go func() {
			logging.Info("Starting browser session for %s", cfg.Target.URL)
			if err := auto.Start(ctx); err != nil {
				logging.Error("Session startup failed, requests will retry: %v", err)
				return
			}
			logging.Info("Session ready")
		}()
	}

	if path := loader.LoadedFrom(); path != "" {
		watchSelectors(ctx, path, auto)
	}

	apiOpts := api.Options{
		QueueTimeout:      cfg.Server.QueueTimeout,
		DefaultMaxRetries: cfg.Chat.MaxRetries,
		MaxRetriesLimit:   cfg.Chat.MaxRetriesLimit,
		Message:           "chatgate API is running",
		Logger:            logging.Named("api"),
	}
	db, err := openHistory(cfg)
	if err != nil {
		logging.Warn("History disabled: %v", err)
	}
	if db != nil {
		defer db.Close()
		apiOpts.History = db
	}
	handler := api.NewHandler(auto, apiOpts)

	// No WriteTimeout: a chat request can legitimately take minutes
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	stop()

	logging.Info("Shutting down gracefully...")
	grace := cfg.Server.ShutdownTimeout
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server forced to shutdown: %v", err)
	}
	logging.Info("Server stopped")
	return nil
}

// watchSelectors applies selector edits in the config file to the live
// session. Other settings need a restart.
func watchSelectors(ctx context.Context, path string, auto *automation.Automator) {
	w, err := config.NewWatcher(path, 500*time.Millisecond, logging.Named("config"))
	if err != nil {
		logging.Warn("Config hot reload disabled: %v", err)
		return
	}
	w.SetChangeCallback(func(cfg *config.Config) {
		candidates, err := automation.DefaultCandidates().Merge(cfg.Selectors)
		if err == nil {
			err = auto.SetCandidates(candidates)
		}
		if err != nil {
			logging.Warn("Selector reload rejected: %v", err)
			return
		}
		logging.Info("Selectors reloaded from %s", path)
	})
	go func() {
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn("Config watcher stopped: %v", err)
		}
	}()
}
