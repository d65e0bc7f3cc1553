package main

import (
	"fmt"
	"net/url"

	gatherly "github.com/gatherly-app/gatherly/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [base-url]",
	Short: "Write ~/.gatherly/config.toml",
	Long:  "Initialize the Gatherly CLI with the API base URL (default " + gatherly.DefaultBaseURL + ").",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		baseURL := gatherly.DefaultBaseURL
		if len(args) == 1 {
			baseURL = args[0]
		}
		if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid base URL %q", baseURL)
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.BaseURL = baseURL
		if cfg.Storage.Driver == "" {
			cfg.Storage.Driver = "file"
		}
		if cfg.Sync.Schedule == "" {
			cfg.Sync.Schedule = gatherly.DefaultSyncSchedule
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Configuration saved to %s\n", path)
		return nil
	},
}
