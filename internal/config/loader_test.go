package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lance13c/chatgate/internal/automation"
	"github.com/lance13c/chatgate/internal/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at an empty directory and clears CHATGATE_* variables
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"TARGET_URL", "DRIVER", "HEADLESS", "USER_DATA_DIR", "REMOTE_URL",
		"READINESS_POLICY", "MAX_RETRIES", "RESPONSE_TIMEOUT", "HOST", "PORT", "LOG_LEVEL", "HISTORY_PATH",
	} {
		t.Setenv(envPrefix+key, "")
	}
	return home
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigDirName, ConfigFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	isolate(t)
	l := NewLoader(t.TempDir())

	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Empty(t, l.LoadedFrom())
	assert.False(t, l.IsInitialized())
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
	assert.Equal(t, 3, cfg.Chat.MaxRetries)
	assert.Equal(t, 10, cfg.Chat.MaxRetriesLimit)
	assert.Equal(t, 30*time.Second, cfg.Chat.ResponseTimeout)
	assert.Equal(t, "interactive", cfg.Readiness.Policy)
	assert.Equal(t, browser.DriverChromeDP, cfg.Browser.Driver)
	assert.Equal(t, "chatgpt_api.log", cfg.Logging.File)
	assert.True(t, cfg.History.Enabled)
}

func TestLoad_SearchesUpward(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	path := writeConfig(t, root, `
target:
  url: https://chat.example.test/
readiness:
  policy: permissive
  max_wait: 90s
chat:
  response_timeout: 45s
selectors:
  send_button:
    - "#send"
server:
  port: 9000
`)
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	l := NewLoader(nested)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, path, l.LoadedFrom())
	assert.True(t, l.IsInitialized())
	assert.Equal(t, "https://chat.example.test/", cfg.Target.URL)
	assert.Equal(t, "permissive", cfg.Readiness.Policy)
	assert.Equal(t, 90*time.Second, cfg.Readiness.MaxWait)
	assert.Equal(t, 45*time.Second, cfg.Chat.ResponseTimeout)
	assert.Equal(t, 9000, cfg.Server.Port)
	// Keys absent from the file keep their defaults
	assert.Equal(t, 3, cfg.Chat.MaxRetries)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoad_GlobalConfig(t *testing.T) {
	home := isolate(t)
	require.NoError(t, os.MkdirAll(filepath.Join(home, GlobalConfigDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(home, GlobalConfigDir, ConfigFileName), []byte("server:\n  port: 8123\n"), 0644))

	cfg, err := NewLoader(t.TempDir()).Load()
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("CHATGATE_TARGET_URL", "https://other.example.test/")
	t.Setenv("CHATGATE_DRIVER", "playwright")
	t.Setenv("CHATGATE_HEADLESS", "false")
	t.Setenv("CHATGATE_READINESS_POLICY", "permissive")
	t.Setenv("CHATGATE_PORT", "8088")
	t.Setenv("CHATGATE_RESPONSE_TIMEOUT", "60")
	t.Setenv("CHATGATE_USER_DATA_DIR", "/tmp/profile")

	cfg, err := NewLoader(t.TempDir()).Load()
	require.NoError(t, err)

	assert.Equal(t, "https://other.example.test/", cfg.Target.URL)
	assert.Equal(t, browser.DriverPlaywright, cfg.Browser.Driver)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "permissive", cfg.Readiness.Policy)
	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Chat.ResponseTimeout)
	assert.Equal(t, "/tmp/profile", cfg.Browser.UserDataDir)
}

func TestLoad_BadEnvOverride(t *testing.T) {
	isolate(t)
	t.Setenv("CHATGATE_PORT", "eighty")

	_, err := NewLoader(t.TempDir()).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHATGATE_PORT")
}

func TestLoad_InvalidFile(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	writeConfig(t, root, "readiness:\n  policy: optimistic\n")

	_, err := NewLoader(root).Load()

	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "got %v", err)
	assert.Contains(t, vErr.Message, "readiness.policy")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing url", func(c *Config) { c.Target.URL = "" }, "target.url is required"},
		{"relative url", func(c *Config) { c.Target.URL = "chat.example.test" }, "target.url must be"},
		{"bad driver", func(c *Config) { c.Browser.Driver = "selenium" }, "browser.driver"},
		{"zero retries", func(c *Config) { c.Chat.MaxRetries = 0 }, "chat.max_retries"},
		{"limit below retries", func(c *Config) { c.Chat.MaxRetriesLimit = 2 }, "chat.max_retries_limit"},
		{"no timeout", func(c *Config) { c.Chat.ResponseTimeout = 0 }, "chat.response_timeout"},
		{"negative backoff", func(c *Config) { c.Chat.Backoff = -time.Second }, "chat.backoff"},
		{"unknown selector target", func(c *Config) { c.Selectors = map[string][]string{"footer": {"x"}} }, "selectors"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"history without path", func(c *Config) { c.History.Path = "" }, "history.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestSave_RoundTrip(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	l := NewLoader(root)

	cfg := DefaultConfig()
	cfg.Target.URL = "https://chat.example.test/"
	cfg.Chat.TypingDelay = 20 * time.Millisecond
	require.NoError(t, l.Save(cfg, l.GetConfigPath()))

	loaded, err := NewLoader(root).Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Target.URL, loaded.Target.URL)
	assert.Equal(t, 20*time.Millisecond, loaded.Chat.TypingDelay)
	assert.Equal(t, cfg.Readiness.MaxWait, loaded.Readiness.MaxWait)
}

func TestAutomationOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Readiness.Policy = "permissive"
	cfg.Browser.ExtraArgs = []string{"--lang=en-US"}
	cfg.Chat.FallbackTimeout = 0
	cfg.Selectors = map[string][]string{"chat_input": {"#composer"}}

	opts, err := cfg.AutomationOptions()
	require.NoError(t, err)

	assert.Equal(t, automation.PolicyPermissive, opts.Policy)
	assert.Equal(t, browser.DriverChromeDP, opts.Driver.Name())
	assert.Equal(t, []string{"--lang=en-US"}, opts.Launch.Args)
	assert.True(t, opts.Launch.Headless)
	assert.Equal(t, []string{"#composer"}, opts.Candidates[automation.TargetChatInput])
	assert.Equal(t, browser.DefaultUserAgent, opts.UserAgent)

	// Zero fallback timeout is filled in by the automator as half the response timeout
	a, err := automation.New(opts)
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestLoggingOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	opts := cfg.LoggingOptions()
	assert.Equal(t, "debug", opts.Level)
	assert.Equal(t, ".chatgate/logs", opts.Dir)
	assert.True(t, opts.Console)
}
