package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gatherly "github.com/gatherly-app/gatherly/sdk/golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var daemonListen string

func init() {
	daemonCmd.Flags().StringVar(&daemonListen, "listen", ":9464", "Address for the /metrics endpoint (empty to disable)")
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Replay the offline queue on a schedule and expose metrics",
	Long: `Run in the foreground, replaying queued joins and leaves on the schedule
in sync.schedule (default "@every 1m"). Prometheus metrics are served on --listen.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		metrics, err := gatherly.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}

		a, err := openApp(gatherly.WithMetrics(metrics))
		if err != nil {
			return err
		}
		defer a.close()

		sched, err := gatherly.NewScheduler(a.core, a.cfg.Sync.Schedule, a.logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.core.On("outbox.failed", func(_ string, payload any) {
			a.logger.Warn("queued action rejected", "detail", payload)
		})

		if err := a.core.FetchEvents(ctx); err != nil {
			a.logger.Warn("initial fetch failed", "err", err)
		}
		_ = a.core.SyncPendingActions(ctx)

		sched.Start()
		defer sched.Stop()

		var srv *http.Server
		serveErr := make(chan error, 1)
		if daemonListen != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv = &http.Server{
				Addr:              daemonListen,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			}()
			fmt.Fprintf(os.Stderr, "Serving metrics on %s/metrics\n", daemonListen)
		}
		fmt.Fprintf(os.Stderr, "Sync schedule: %s\n", valueOrDefault(a.cfg.Sync.Schedule, gatherly.DefaultSyncSchedule))

		select {
		case <-ctx.Done():
		case err := <-serveErr:
			return fmt.Errorf("metrics server: %w", err)
		}

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("metrics server shutdown", "err", err)
			}
		}
		return nil
	},
}
