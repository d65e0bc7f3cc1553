package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ============================================================================
// Config types
// ============================================================================

// Config represents the CLI configuration stored in ~/.gatherly/config.toml.
type Config struct {
	Default ConfigDefault `toml:"default" yaml:"default"`
	Storage ConfigStorage `toml:"storage" yaml:"storage"`
	Sync    ConfigSync    `toml:"sync" yaml:"sync"`
	Log     ConfigLog     `toml:"log" yaml:"log"`
}

// ConfigDefault holds server endpoints.
type ConfigDefault struct {
	BaseURL string `toml:"base_url" yaml:"base_url"`
	WSURL   string `toml:"ws_url" yaml:"ws_url"`
	Timeout string `toml:"timeout" yaml:"timeout"`
}

// ConfigStorage selects where tokens, the events cache and the outbox live.
type ConfigStorage struct {
	Driver string `toml:"driver" yaml:"driver"`
	Path   string `toml:"path" yaml:"path"`
}

type ConfigSync struct {
	Schedule string `toml:"schedule" yaml:"schedule"`
	ProbeURL string `toml:"probe_url" yaml:"probe_url"`
}

type ConfigLog struct {
	Level string `toml:"level" yaml:"level"`
}

// ============================================================================
// Config helpers
// ============================================================================

var (
	configFile string
	verbose    bool
)

// configDir returns the path to ~/.gatherly, creating it if needed.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".gatherly")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

// configPath returns --config if given, otherwise ~/.gatherly/config.toml.
func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// loadConfig reads and parses the config file.
// If the file does not exist, it returns a zero-value Config.
func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	var cfg Config
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	return &cfg, nil
}

// saveConfig writes the config struct back to disk in the format its path
// implies.
func saveConfig(cfg *Config) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	var data []byte
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// setConfigValue sets a config field using dot notation (e.g. "default.base_url").
func setConfigValue(cfg *Config, key, value string) error {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("key must use dot notation: section.field (e.g. default.base_url)")
	}
	section, field := parts[0], parts[1]

	switch section {
	case "default":
		switch field {
		case "base_url":
			cfg.Default.BaseURL = value
		case "ws_url":
			cfg.Default.WSURL = value
		case "timeout":
			cfg.Default.Timeout = value
		default:
			return fmt.Errorf("unknown field %q in section [default]", field)
		}
	case "storage":
		switch field {
		case "driver":
			switch value {
			case "file", "sqlite", "memory":
			default:
				return fmt.Errorf("unknown storage driver %q (valid: file, sqlite, memory)", value)
			}
			cfg.Storage.Driver = value
		case "path":
			cfg.Storage.Path = value
		default:
			return fmt.Errorf("unknown field %q in section [storage]", field)
		}
	case "sync":
		switch field {
		case "schedule":
			cfg.Sync.Schedule = value
		case "probe_url":
			cfg.Sync.ProbeURL = value
		default:
			return fmt.Errorf("unknown field %q in section [sync]", field)
		}
	case "log":
		switch field {
		case "level":
			cfg.Log.Level = value
		default:
			return fmt.Errorf("unknown field %q in section [log]", field)
		}
	default:
		return fmt.Errorf("unknown config section %q (valid: default, storage, sync, log)", section)
	}
	return nil
}

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:          "gatherly",
	Short:        "Gatherly events CLI",
	Long:         "Command-line client for Gatherly.\nBrowse, create, join and leave events, work offline, and chat in event rooms.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.gatherly/config.toml; .yaml/.yml read as YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
