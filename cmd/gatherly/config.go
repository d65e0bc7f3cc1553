package main

import (
	"fmt"
	"os"
	"strings"

	gatherly "github.com/gatherly-app/gatherly/sdk/golang"
	"github.com/spf13/cobra"
)

var configShowRaw bool

func init() {
	configShowCmd.Flags().BoolVar(&configShowRaw, "raw", false, "Print the file as stored, without defaults")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Gatherly configuration",
	Long: `View or modify the CLI configuration. The file is ~/.gatherly/config.toml
unless --config points elsewhere; a .yaml or .yml path is read and written as YAML.`,
}

// effectiveConfig fills unset fields with the values commands fall back to.
func effectiveConfig(cfg Config) Config {
	cfg.Default.BaseURL = valueOrDefault(cfg.Default.BaseURL, gatherly.DefaultBaseURL)
	cfg.Default.Timeout = valueOrDefault(cfg.Default.Timeout, gatherly.DefaultTimeout.String())
	cfg.Storage.Driver = valueOrDefault(cfg.Storage.Driver, "file")
	cfg.Sync.Schedule = valueOrDefault(cfg.Sync.Schedule, gatherly.DefaultSyncSchedule)
	cfg.Log.Level = strings.ToLower(parseLevel(cfg.Log.Level).String())
	return cfg
}

// describeConfig renders cfg section by section, one key per line.
func describeConfig(cfg Config) string {
	var b strings.Builder
	section := func(name string, kv ...string) {
		fmt.Fprintf(&b, "[%s]\n", name)
		for i := 0; i+1 < len(kv); i += 2 {
			fmt.Fprintf(&b, "  %-10s %s\n", kv[i], valueOrDefault(kv[i+1], "(unset)"))
		}
	}
	section("default",
		"base_url", cfg.Default.BaseURL,
		"ws_url", cfg.Default.WSURL,
		"timeout", cfg.Default.Timeout)
	section("storage",
		"driver", cfg.Storage.Driver,
		"path", cfg.Storage.Path)
	section("sync",
		"schedule", cfg.Sync.Schedule,
		"probe_url", cfg.Sync.ProbeURL)
	section("log",
		"level", cfg.Log.Level)
	return b.String()
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}

		if configShowRaw {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("cannot read config file: %w", err)
			}
			fmt.Print(string(data))
			return nil
		}

		format := "toml"
		if isYAML(path) {
			format = "yaml"
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Printf("# %s (%s, not created yet; run 'gatherly init')\n", path, format)
		} else {
			fmt.Printf("# %s (%s)\n", path, format)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Print(describeConfig(effectiveConfig(*cfg)))
		if os.Getenv(passphraseEnv) != "" {
			fmt.Printf("# store key derived from $%s\n", passphraseEnv)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value using dot notation.\nExample: gatherly config set storage.driver sqlite",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := setConfigValue(cfg, key, value); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Set %s = %s in %s\n", key, value, path)
		return nil
	},
}
