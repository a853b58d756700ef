package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lance13c/chatgate/internal/automation"
	"github.com/lance13c/chatgate/internal/config"
	"github.com/lance13c/chatgate/internal/logging"
	"github.com/lance13c/chatgate/internal/ui"
)

// defaultProfileDir is used when no browser.user_data_dir is configured
var defaultProfileDir = filepath.Join(config.ConfigDirName, "profile")

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Open a visible browser to sign in once",
	Long: `Login opens the target page in a visible browser backed by a persistent
profile and waits until the chat input appears, i.e. until you have signed in.
Later headless runs reuse the same profile and start logged in.

With --save the profile directory is written to browser.user_data_dir.`,
	RunE: runLogin,
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().String("profile", "", "browser profile directory (default browser.user_data_dir or .chatgate/profile)")
	loginCmd.Flags().Duration("wait", 0, "how long to wait for sign-in (default readiness.max_wait)")
	loginCmd.Flags().Bool("save", false, "store the profile directory in the config file")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := requireConfig()
	if err != nil {
		return err
	}

	configured := cfg.Browser.UserDataDir
	profile, _ := cmd.Flags().GetString("profile")
	if profile == "" {
		profile = configured
	}
	if profile == "" {
		profile = defaultProfileDir
	}
	if profile, err = filepath.Abs(profile); err != nil {
		return err
	}

	cfg.Browser.Headless = false
	cfg.Browser.UserDataDir = profile
	cfg.Browser.RemoteURL = ""
	cfg.Readiness.Policy = string(automation.PolicyInteractive)
	if wait, _ := cmd.Flags().GetDuration("wait"); wait > 0 {
		cfg.Readiness.MaxWait = wait
	}

	opts, err := cfg.AutomationOptions()
	if err != nil {
		return err
	}
	opts.StartupRetries = 1
	opts.Logger = logging.Named("login")
	auto, err := automation.New(opts)
	if err != nil {
		return err
	}
	defer auto.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	styles := ui.NewStyles()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styles.Header.Render("chatgate login"))
	fmt.Fprintln(out, styles.KeyValues([][2]string{
		{"target", cfg.Target.URL},
		{"profile", profile},
		{"waiting", cfg.Readiness.MaxWait.String()},
	}))
	fmt.Fprintln(out, styles.Muted.Render("Sign in in the browser window; this command returns once the chat input shows up."))

	start := time.Now()
	if err := auto.Start(ctx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), styles.ErrorBox.Render(err.Error()))
		return err
	}
	fmt.Fprintln(out, styles.Check(ui.StatusPass, "signed in", time.Since(start).Round(time.Second).String()))

	if save, _ := cmd.Flags().GetBool("save"); save {
		path := loader.LoadedFrom()
		if path == "" {
			path = loader.GetConfigPath()
		}
		persisted, err := loadForSave(path)
		if err != nil {
			return err
		}
		persisted.Browser.UserDataDir = profile
		if err := loader.Save(persisted, path); err != nil {
			return err
		}
		fmt.Fprintln(out, styles.Check(ui.StatusPass, "saved", path))
	} else if configured != profile {
		fmt.Fprintln(out, styles.Muted.Render("Set browser.user_data_dir to "+profile+" (or rerun with --save) so serve reuses this login."))
	}
	return nil
}

// loadForSave re-reads the file so the flags this command forced are not persisted
func loadForSave(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.NewLoader(filepath.Dir(path)).LoadFile(path)
}
