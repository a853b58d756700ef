package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/lance13c/chatgate/internal/automation"
	"github.com/lance13c/chatgate/internal/browser"
	"github.com/lance13c/chatgate/internal/logging"
)

// Config represents the complete chatgate configuration
type Config struct {
	Target    TargetConfig        `yaml:"target"`
	Browser   BrowserConfig       `yaml:"browser"`
	Readiness ReadinessConfig     `yaml:"readiness"`
	Chat      ChatConfig          `yaml:"chat"`
	Selectors map[string][]string `yaml:"selectors,omitempty"` // overrides per target, see automation.Targets
	Server    ServerConfig        `yaml:"server"`
	Logging   LoggingConfig       `yaml:"logging"`
	History   HistoryConfig       `yaml:"history"`
	Meta      MetaConfig          `yaml:"meta"`
}

// TargetConfig describes the chat page to drive
type TargetConfig struct {
	URL               string        `yaml:"url"`
	UserAgent         string        `yaml:"user_agent,omitempty"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

// BrowserConfig holds browser launch settings
type BrowserConfig struct {
	Driver       string   `yaml:"driver"` // chromedp or playwright
	Headless     bool     `yaml:"headless"`
	ExecPath     string   `yaml:"exec_path,omitempty"`
	RemoteURL    string   `yaml:"remote_url,omitempty"`    // attach to a running Chrome
	UserDataDir  string   `yaml:"user_data_dir,omitempty"` // profile that keeps the login
	ExtraArgs    []string `yaml:"extra_args,omitempty"`
	WindowWidth  int      `yaml:"window_width"`
	WindowHeight int      `yaml:"window_height"`
}

// ReadinessConfig controls login detection
type ReadinessConfig struct {
	Policy               string        `yaml:"policy"` // interactive or permissive
	PollInterval         time.Duration `yaml:"poll_interval"`
	MaxWait              time.Duration `yaml:"max_wait"`
	AuthRedirectPatterns []string      `yaml:"auth_redirect_patterns,omitempty"`
}

// ChatConfig holds submission timings and retry settings
type ChatConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	MaxRetriesLimit   int           `yaml:"max_retries_limit"` // cap on a request's max_retries
	StartupRetries    int           `yaml:"startup_retries"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
	FallbackTimeout   time.Duration `yaml:"fallback_timeout"`
	ReplyPollInterval time.Duration `yaml:"reply_poll_interval"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	TypingDelay       time.Duration `yaml:"typing_delay"`
	Backoff           time.Duration `yaml:"backoff"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	QueueTimeout    time.Duration `yaml:"queue_timeout"` // how long a request waits for the session
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds log sink settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console or json
	Dir        string `yaml:"dir"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
}

// HistoryConfig controls the SQLite transcript of exchanges
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MetaConfig holds metadata about the configuration
type MetaConfig struct {
	Version   string    `yaml:"version"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// DefaultConfig returns a new config with sensible defaults
func DefaultConfig() *Config {
	now := time.Now()
	defaults := automation.DefaultOptions()
	return &Config{
		Target: TargetConfig{
			URL:               defaults.TargetURL,
			NavigationTimeout: defaults.NavigationTimeout,
		},
		Browser: BrowserConfig{
			Driver:       browser.DriverChromeDP,
			Headless:     true,
			WindowWidth:  1920,
			WindowHeight: 1080,
		},
		Readiness: ReadinessConfig{
			Policy:               string(defaults.Policy),
			PollInterval:         defaults.LoginPollInterval,
			MaxWait:              defaults.LoginMaxWait,
			AuthRedirectPatterns: defaults.AuthRedirectPatterns,
		},
		Chat: ChatConfig{
			MaxRetries:        3,
			MaxRetriesLimit:   10,
			StartupRetries:    defaults.StartupRetries,
			ResponseTimeout:   defaults.ResponseTimeout,
			FallbackTimeout:   defaults.FallbackTimeout,
			ReplyPollInterval: defaults.ReplyPollInterval,
			SettleDelay:       defaults.SettleDelay,
			TypingDelay:       defaults.TypingDelay,
			Backoff:           defaults.Backoff,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			QueueTimeout:    2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Dir:        ".chatgate/logs",
			File:       "chatgpt_api.log",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 7,
			Console:    true,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    ".chatgate/history.db",
		},
		Meta: MetaConfig{
			Version:   "1.0.0",
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Target.URL == "" {
		return NewValidationError("target.url is required")
	}
	u, err := url.Parse(c.Target.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewValidationError("target.url must be an absolute http(s) URL: " + c.Target.URL)
	}

	if _, err := browser.NewDriver(c.Browser.Driver); err != nil {
		return NewValidationError("browser.driver: " + err.Error())
	}

	if _, err := automation.ParsePolicy(c.Readiness.Policy); err != nil {
		return NewValidationError("readiness.policy: " + err.Error())
	}

	if c.Chat.MaxRetries < 1 {
		return NewValidationError("chat.max_retries must be at least 1")
	}
	if c.Chat.MaxRetriesLimit < c.Chat.MaxRetries {
		return NewValidationError(fmt.Sprintf("chat.max_retries_limit must be at least chat.max_retries (%d)", c.Chat.MaxRetries))
	}
	if c.Chat.ResponseTimeout <= 0 {
		return NewValidationError("chat.response_timeout must be positive")
	}
	for name, d := range map[string]time.Duration{
		"target.navigation_timeout": c.Target.NavigationTimeout,
		"readiness.poll_interval":   c.Readiness.PollInterval,
		"readiness.max_wait":        c.Readiness.MaxWait,
		"chat.fallback_timeout":     c.Chat.FallbackTimeout,
		"chat.reply_poll_interval":  c.Chat.ReplyPollInterval,
		"chat.settle_delay":         c.Chat.SettleDelay,
		"chat.typing_delay":         c.Chat.TypingDelay,
		"chat.backoff":              c.Chat.Backoff,
		"server.queue_timeout":      c.Server.QueueTimeout,
	} {
		if d < 0 {
			return NewValidationError(name + " must not be negative")
		}
	}

	if _, err := automation.DefaultCandidates().Merge(c.Selectors); err != nil {
		return NewValidationError("selectors: " + err.Error())
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return NewValidationError(fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}

	if c.History.Enabled && c.History.Path == "" {
		return NewValidationError("history.path is required when history is enabled")
	}

	return nil
}

// Addr returns the host:port the HTTP server listens on
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// AutomationOptions maps the configuration onto the automation core
func (c *Config) AutomationOptions() (automation.Options, error) {
	driver, err := browser.NewDriver(c.Browser.Driver)
	if err != nil {
		return automation.Options{}, err
	}
	policy, err := automation.ParsePolicy(c.Readiness.Policy)
	if err != nil {
		return automation.Options{}, err
	}
	candidates, err := automation.DefaultCandidates().Merge(c.Selectors)
	if err != nil {
		return automation.Options{}, err
	}

	opts := automation.DefaultOptions()
	opts.TargetURL = c.Target.URL
	opts.Driver = driver
	opts.Launch = browser.LaunchOptions{
		Headless:     c.Browser.Headless,
		ExecPath:     c.Browser.ExecPath,
		RemoteURL:    c.Browser.RemoteURL,
		UserDataDir:  c.Browser.UserDataDir,
		Args:         c.Browser.ExtraArgs,
		WindowWidth:  c.Browser.WindowWidth,
		WindowHeight: c.Browser.WindowHeight,
	}
	if c.Target.UserAgent != "" {
		opts.UserAgent = c.Target.UserAgent
	}
	if c.Target.NavigationTimeout > 0 {
		opts.NavigationTimeout = c.Target.NavigationTimeout
	}

	opts.Policy = policy
	if c.Readiness.PollInterval > 0 {
		opts.LoginPollInterval = c.Readiness.PollInterval
	}
	if c.Readiness.MaxWait > 0 {
		opts.LoginMaxWait = c.Readiness.MaxWait
	}
	if len(c.Readiness.AuthRedirectPatterns) > 0 {
		opts.AuthRedirectPatterns = c.Readiness.AuthRedirectPatterns
	}

	opts.ResponseTimeout = c.Chat.ResponseTimeout
	opts.FallbackTimeout = c.Chat.FallbackTimeout
	if c.Chat.ReplyPollInterval > 0 {
		opts.ReplyPollInterval = c.Chat.ReplyPollInterval
	}
	opts.SettleDelay = c.Chat.SettleDelay
	opts.TypingDelay = c.Chat.TypingDelay
	opts.Backoff = c.Chat.Backoff
	if c.Chat.StartupRetries > 0 {
		opts.StartupRetries = c.Chat.StartupRetries
	}
	opts.Candidates = candidates
	return opts, nil
}

// LoggingOptions maps the logging section onto the logger settings
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Dir:        c.Logging.Dir,
		File:       c.Logging.File,
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
		Console:    c.Logging.Console,
	}
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "config validation error: " + e.Message
}

// NewValidationError creates a new validation error
func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}
