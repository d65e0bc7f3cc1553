package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	gatherly "github.com/gatherly-app/gatherly/sdk/golang"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// events list
	eventsListJSON bool

	// events create
	eventsCreateTitle       string
	eventsCreateDescription string
	eventsCreateLocation    string
	eventsCreateCapacity    int
	eventsCreateStart       string
	eventsCreateEnd         string
	eventsCreateJSON        bool

	// events pending
	eventsPendingJSON bool

	// events export
	eventsExportOutput string
)

func init() {
	eventsListCmd.Flags().BoolVar(&eventsListJSON, "json", false, "Output raw JSON")

	eventsCreateCmd.Flags().StringVar(&eventsCreateTitle, "title", "", "Event title (required)")
	eventsCreateCmd.Flags().StringVar(&eventsCreateDescription, "description", "", "Event description")
	eventsCreateCmd.Flags().StringVar(&eventsCreateLocation, "location", "", "Event location (required)")
	eventsCreateCmd.Flags().IntVar(&eventsCreateCapacity, "capacity", 0, "Maximum attendees (0 for unlimited)")
	eventsCreateCmd.Flags().StringVar(&eventsCreateStart, "start", "", "Start time, RFC 3339 or 2006-01-02T15:04 in UTC (required)")
	eventsCreateCmd.Flags().StringVar(&eventsCreateEnd, "end", "", "End time, same formats as --start (required)")
	eventsCreateCmd.Flags().BoolVar(&eventsCreateJSON, "json", false, "Output raw JSON")

	eventsPendingCmd.Flags().BoolVar(&eventsPendingJSON, "json", false, "Output raw JSON")

	eventsExportCmd.Flags().StringVarP(&eventsExportOutput, "output", "o", "", "Write to file instead of stdout")

	eventsCmd.AddCommand(eventsListCmd)
	eventsCmd.AddCommand(eventsCreateCmd)
	eventsCmd.AddCommand(eventsJoinCmd)
	eventsCmd.AddCommand(eventsLeaveCmd)
	eventsCmd.AddCommand(eventsSyncCmd)
	eventsCmd.AddCommand(eventsPendingCmd)
	eventsCmd.AddCommand(eventsExportCmd)
	rootCmd.AddCommand(eventsCmd)
}

// ============================================================================
// Root events command
// ============================================================================

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Browse and manage events",
	Long:  "List, create, join and leave events. Membership changes made offline are queued and replayed by 'events sync'.",
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printEvents(events []gatherly.Event) {
	if len(events) == 0 {
		fmt.Println("No events.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tLOCATION\tSTART\tEND\tCAPACITY")
	for _, e := range events {
		capacity := "-"
		if e.Capacity != nil {
			capacity = strconv.Itoa(*e.Capacity)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", e.ID, e.Title, e.Location,
			formatTime(e.StartTime), formatTime(e.EndTime), capacity)
	}
	w.Flush()
}

func formatTime(t gatherly.Timestamp) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func parseEventID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid event id %q", s)
	}
	return id, nil
}

// ============================================================================
// events list
// ============================================================================

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show events, replaying queued actions first when online",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		if err := a.core.FetchEvents(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Showing cached events: %v\n", err)
		}
		_ = a.core.SyncPendingActions(ctx)

		snap := a.core.Snapshot()
		if eventsListJSON {
			return printJSON(snap.Events)
		}
		printEvents(snap.Events)
		return nil
	},
}

// ============================================================================
// events create
// ============================================================================

func buildDraft() (gatherly.EventDraft, error) {
	draft := gatherly.EventDraft{
		Title:    eventsCreateTitle,
		Location: eventsCreateLocation,
	}
	if eventsCreateDescription != "" {
		desc := eventsCreateDescription
		draft.Description = &desc
	}
	if eventsCreateCapacity != 0 {
		capacity := eventsCreateCapacity
		draft.Capacity = &capacity
	}
	if eventsCreateStart != "" {
		ts, err := gatherly.ParseTimestamp(eventsCreateStart)
		if err != nil {
			return draft, fmt.Errorf("--start: %w", err)
		}
		draft.StartTime = ts.Time
	}
	if eventsCreateEnd != "" {
		ts, err := gatherly.ParseTimestamp(eventsCreateEnd)
		if err != nil {
			return draft, fmt.Errorf("--end: %w", err)
		}
		draft.EndTime = ts.Time
	}
	return draft, draft.Validate()
}

var eventsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an event (requires network)",
	RunE: func(cmd *cobra.Command, args []string) error {
		draft, err := buildDraft()
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		created, err := a.core.CreateEvent(ctx, draft)
		if err != nil {
			return fmt.Errorf("create failed: %w", err)
		}
		if eventsCreateJSON {
			return printJSON(created)
		}
		fmt.Printf("Created event %d: %s\n", created.ID, created.Title)
		return nil
	},
}

// ============================================================================
// events join / leave
// ============================================================================

func membershipCommand(use, short string, kind gatherly.ActionKind) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <event-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEventID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := commandContext()
			defer cancel()

			before, err := a.core.PendingActions(ctx)
			if err != nil {
				return err
			}
			if kind == gatherly.ActionJoin {
				err = a.core.JoinEvent(ctx, id)
			} else {
				err = a.core.LeaveEvent(ctx, id)
			}
			if err != nil {
				return fmt.Errorf("%s failed: %w", kind, err)
			}

			after, err := a.core.PendingActions(ctx)
			if err != nil {
				return err
			}
			if len(after) > len(before) {
				fmt.Printf("Offline: %s for event %d queued (%d pending)\n", kind, id, len(after))
				return nil
			}
			fmt.Printf("Done: %s event %d\n", kind, id)
			return nil
		},
	}
}

var (
	eventsJoinCmd  = membershipCommand("join", "Join an event, or queue the join when offline", gatherly.ActionJoin)
	eventsLeaveCmd = membershipCommand("leave", "Leave an event, or queue the leave when offline", gatherly.ActionLeave)
)

// ============================================================================
// events sync / pending
// ============================================================================

var eventsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued membership changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		var result *gatherly.SyncResult
		a.core.On("sync.complete", func(_ string, payload any) {
			if r, ok := payload.(gatherly.SyncResult); ok {
				result = &r
			}
		})

		if !a.probe.Reachable(ctx) {
			fmt.Println("Offline: nothing replayed.")
			return nil
		}
		if err := a.core.SyncPendingActions(ctx); err != nil {
			return err
		}
		if result == nil {
			fmt.Println("Nothing to sync.")
			return nil
		}
		fmt.Printf("Replayed %d action(s), %d still pending.\n", result.Replayed, result.Failed)
		return nil
	},
}

var eventsPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List queued membership changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		actions, err := a.core.PendingActions(ctx)
		if err != nil {
			return err
		}
		if eventsPendingJSON {
			return printJSON(actions)
		}
		if len(actions) == 0 {
			fmt.Println("No pending actions.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "#\tACTION\tEVENT\tQUEUED AT")
		for i, act := range actions {
			queued := time.UnixMilli(act.Timestamp).Local().Format("2006-01-02 15:04:05")
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", i+1, act.Kind, act.EventID, queued)
		}
		w.Flush()
		return nil
	},
}

// ============================================================================
// events export
// ============================================================================

var eventsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export events as an iCalendar file",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := commandContext()
		defer cancel()

		if err := a.core.FetchEvents(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Exporting cached events: %v\n", err)
		}

		host := "gatherly"
		if u, err := url.Parse(a.client.BaseURL()); err == nil && u.Hostname() != "" {
			host = u.Hostname()
		}
		out := gatherly.ExportICS(a.core.Snapshot().Events, host)

		if eventsExportOutput == "" {
			fmt.Print(out)
			return nil
		}
		if err := os.WriteFile(eventsExportOutput, []byte(out), 0o644); err != nil {
			return fmt.Errorf("cannot write %s: %w", eventsExportOutput, err)
		}
		fmt.Fprintf(os.Stderr, "Wrote %d event(s) to %s\n", len(a.core.Snapshot().Events), eventsExportOutput)
		return nil
	},
}
