package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lance13c/chatgate/internal/config"
	"github.com/lance13c/chatgate/internal/logging"
)

var (
	cfgFile   string
	appConfig *config.Config
	configErr error
	loader    *config.Loader
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatgate",
	Short: "Chatgate - a programmatic gateway to a web chat UI",
	Long: `Chatgate drives a real browser session against a web chat interface and
exposes it as a prompt-in, reply-out call.

Run 'chatgate login' once to sign in with a persistent browser profile,
then 'chatgate serve' to expose the session over HTTP or 'chatgate ask'
for a single prompt.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .chatgate/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().StringP("project", "p", ".", "project directory")
}

// initConfig reads in .env, the config file and CHATGATE_* variables.
func initConfig() {
	startTime := time.Now()
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	projectDir, _ := rootCmd.PersistentFlags().GetString("project")

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to read .env: %v\n", err)
	}

	loader = config.NewLoader(projectDir)
	if cfgFile != "" {
		appConfig, configErr = loader.LoadFile(cfgFile)
	} else {
		appConfig, configErr = loader.Load()
	}

	logOpts := logging.DefaultOptions()
	if appConfig != nil {
		logOpts = appConfig.LoggingOptions()
	}
	if err := logging.Initialize(logOpts); err != nil {
		// Fall back to stderr if logging fails to initialize
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logging: %v\n", err)
	} else {
		// Redirect standard log to our logger
		logging.RedirectStandardLog()
	}

	// Set log level based on verbose flag
	if verbose {
		logging.GetLogger().SetLevel(logging.DEBUG)
	}

	if configErr != nil {
		logging.Warn("Failed to load config: %v", configErr)
		return
	}
	if from := loader.LoadedFrom(); from != "" {
		logging.Debug("Config loaded from %s in %v", from, time.Since(startTime))
	} else {
		logging.Debug("No config file found, using defaults")
	}
}

// requireConfig returns the loaded config or the error that prevented loading it
func requireConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	if appConfig == nil {
		return nil, errors.New("configuration not loaded")
	}
	return appConfig, nil
}
