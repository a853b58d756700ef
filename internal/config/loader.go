package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName  = "config.yaml"
	ConfigDirName   = ".chatgate"
	GlobalConfigDir = ".config/chatgate"

	envPrefix = "CHATGATE_"
)

// Loader handles configuration loading and discovery
type Loader struct {
	startDir   string
	loadedFrom string
}

// NewLoader creates a new config loader starting from the given directory
func NewLoader(startDir string) *Loader {
	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			startDir = "."
		}
	}

	return &Loader{
		startDir: startDir,
	}
}

// Load reads the config file if one exists, falls back to defaults when none
// does, then applies environment overrides and validates the result
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	configPath, err := l.findConfigFile()
	if err == nil {
		if err := l.loadFromFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		l.loadedFrom = configPath
	}

	return l.finish(config)
}

// LoadFile loads an explicit config file, which must exist
func (l *Loader) LoadFile(configPath string) (*Config, error) {
	config := DefaultConfig()
	if err := l.loadFromFile(configPath, config); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	l.loadedFrom = configPath
	return l.finish(config)
}

func (l *Loader) finish(config *Config) (*Config, error) {
	// Apply environment variable overrides
	if err := l.applyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadedFrom returns the file the last Load read, empty when defaults were used
func (l *Loader) LoadedFrom() string {
	return l.loadedFrom
}

// findConfigFile searches upward from the start directory for a config file
func (l *Loader) findConfigFile() (string, error) {
	dir := l.startDir

	for {
		// Check for local .chatgate/config.yaml
		configPath := filepath.Join(dir, ConfigDirName, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Move up one directory
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	// Try global config
	homeDir, err := os.UserHomeDir()
	if err == nil {
		globalConfig := filepath.Join(homeDir, GlobalConfigDir, ConfigFileName)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched upward from %s)", l.startDir)
}

// loadFromFile decodes YAML over config, so keys missing from the file keep
// their defaults
func (l *Loader) loadFromFile(configPath string, config *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// applyEnvOverrides applies CHATGATE_* environment variables to the config
func (l *Loader) applyEnvOverrides(config *Config) error {
	if v := getEnv("TARGET_URL"); v != "" {
		config.Target.URL = v
	}
	if v := getEnv("DRIVER"); v != "" {
		config.Browser.Driver = v
	}
	if v := getEnv("HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sHEADLESS: %w", envPrefix, err)
		}
		config.Browser.Headless = b
	}
	if v := getEnv("USER_DATA_DIR"); v != "" {
		config.Browser.UserDataDir = v
	}
	if v := getEnv("REMOTE_URL"); v != "" {
		config.Browser.RemoteURL = v
	}
	if v := getEnv("READINESS_POLICY"); v != "" {
		config.Readiness.Policy = v
	}
	if v := getEnv("MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_RETRIES: %w", envPrefix, err)
		}
		config.Chat.MaxRetries = n
	}
	if v := getEnv("RESPONSE_TIMEOUT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%sRESPONSE_TIMEOUT: %w", envPrefix, err)
		}
		config.Chat.ResponseTimeout = d
	}

	// Server configuration overrides
	if v := getEnv("HOST"); v != "" {
		config.Server.Host = v
	}
	if v := getEnv("PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPORT: %w", envPrefix, err)
		}
		config.Server.Port = n
	}

	if v := getEnv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := getEnv("HISTORY_PATH"); v != "" {
		config.History.Path = v
	}

	return nil
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

// parseSeconds accepts a Go duration ("45s") or a bare number of seconds
func parseSeconds(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Save saves the configuration to the specified path
func (l *Loader) Save(config *Config, configPath string) error {
	// Update the metadata
	config.Meta.UpdatedAt = time.Now()

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the path where a config file should be created
func (l *Loader) GetConfigPath() string {
	return filepath.Join(l.startDir, ConfigDirName, ConfigFileName)
}

// IsInitialized checks if a config file exists in the project hierarchy
func (l *Loader) IsInitialized() bool {
	_, err := l.findConfigFile()
	return err == nil
}
