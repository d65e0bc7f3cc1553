package main

import (
	"fmt"

	gatherly "github.com/gatherly-app/gatherly/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, session and offline queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", a.client.BaseURL())
		if a.cfg.Default.WSURL != "" {
			fmt.Printf("  Chat URL: %s\n", a.cfg.Default.WSURL)
		}
		fmt.Printf("  Storage:  %s\n", valueOrDefault(a.cfg.Storage.Driver, "file"))
		fmt.Printf("  Schedule: %s\n", valueOrDefault(a.cfg.Sync.Schedule, gatherly.DefaultSyncSchedule))

		online := a.probe.Reachable(ctx)
		fmt.Println()
		fmt.Println("Network:")
		if online {
			fmt.Println("  Reachable: yes")
		} else {
			fmt.Println("  Reachable: no (membership changes will be queued)")
		}

		fmt.Println()
		fmt.Println("Session:")
		token, user, err := gatherly.LoadSession(ctx, a.store)
		if err != nil {
			fmt.Printf("  Error reading session: %v\n", err)
		}
		switch {
		case token == "":
			fmt.Println("  Signed in: no")
		case user != nil:
			fmt.Printf("  Signed in: %s (id %d)\n", user.Email, user.ID)
		default:
			fmt.Println("  Signed in: yes (profile not cached)")
		}

		if token != "" && online {
			if me, err := a.client.Me(ctx); err != nil {
				fmt.Printf("  Live check: %v\n", err)
			} else {
				fmt.Printf("  Live check: ok (%s)\n", me.Email)
			}
		}

		pending, err := a.core.PendingActions(ctx)
		if err != nil {
			return err
		}
		fmt.Println()
		fmt.Printf("Offline queue: %d pending action(s)\n", len(pending))
		return nil
	},
}
