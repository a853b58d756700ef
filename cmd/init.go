package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lance13c/chatgate/internal/automation"
	"github.com/lance13c/chatgate/internal/browser"
	"github.com/lance13c/chatgate/internal/config"
	"github.com/lance13c/chatgate/internal/ui"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .chatgate/config.yaml",
	Long: `Init writes a configuration file with the default timings, selectors
and server settings into .chatgate/config.yaml of the project directory.`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().Bool("force", false, "overwrite an existing config file")
	initCmd.Flags().String("url", "", "chat page URL")
	initCmd.Flags().String("driver", browser.DriverChromeDP, "browser driver (chromedp or playwright)")
	initCmd.Flags().String("policy", string(automation.PolicyInteractive), "readiness policy (interactive or permissive)")
	initCmd.Flags().String("profile", "", "browser profile directory that keeps the login")
}

func runInit(cmd *cobra.Command, args []string) error {
	projectDir, _ := cmd.Root().PersistentFlags().GetString("project")
	l := config.NewLoader(projectDir)
	path := l.GetConfigPath()

	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		cfg.Target.URL = url
	}
	cfg.Browser.Driver, _ = cmd.Flags().GetString("driver")
	cfg.Readiness.Policy, _ = cmd.Flags().GetString("policy")
	cfg.Browser.UserDataDir, _ = cmd.Flags().GetString("profile")
	// Spell the selectors out so they can be edited in place
	cfg.Selectors = make(map[string][]string, len(automation.Targets))
	for target, list := range automation.DefaultCandidates() {
		cfg.Selectors[string(target)] = list
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := l.Save(cfg, path); err != nil {
		return err
	}

	styles := ui.NewStyles()
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styles.Check(ui.StatusPass, "created", path))
	fmt.Fprintln(out, styles.KeyValues([][2]string{
		{"target", cfg.Target.URL},
		{"driver", cfg.Browser.Driver},
		{"policy", cfg.Readiness.Policy},
		{"listen", cfg.Addr()},
	}))
	fmt.Fprintln(out, styles.Muted.Render("Next: 'chatgate login' to sign in, then 'chatgate serve'."))
	return nil
}
