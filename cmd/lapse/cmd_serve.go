package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/yairfalse/lapse/internal/config"
	"github.com/yairfalse/lapse/internal/daemon"
)

var (
	serveMetricsAddr string
	serveDryRun      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run expiration passes continuously in-process",
	Long: `Run lapse as a long-lived process instead of a Lambda function.

The next-check record is kept in a local bbolt file (--store). After every
pass the daemon sleeps until the stored fire time, and never longer than the
backup interval. SIGHUP forces an immediate pass.

Endpoints:
  /metrics   Prometheus metrics
  /health    Daemon health as JSON`,
	Example: `  lapse serve --store ./lapse.db
  lapse serve --store ./lapse.db --metrics-addr :2112
  lapse serve --store ./lapse.db --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "Metrics and health listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveDryRun, "dry-run", false, "Evaluate and verify without acting")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if cfg.Schedule.Backend != config.BackendLocal {
		return fmt.Errorf("serve needs the %s schedule backend: pass --store or set IX_SCHEDULE_BACKEND=local", config.BackendLocal)
	}
	addr := cfg.Serve.MetricsAddr
	if serveMetricsAddr != "" {
		addr = serveMetricsAddr
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, appOptions{dryRun: serveDryRun, readers: []sdkmetric.Reader{exporter}})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	metrics, err := daemon.NewDaemonMetrics(a.telemetry.Meter())
	if err != nil {
		return fmt.Errorf("create daemon metrics: %w", err)
	}
	d := daemon.NewDaemon(a.reconciler, a.store, daemon.Config{BackupInterval: cfg.Schedule.BackupInterval},
		daemon.WithLogger(log.Logger),
		daemon.WithMetrics(metrics),
		daemon.WithHistory(a.store),
	)

	server := &http.Server{
		Addr:              addr,
		Handler:           newServeMux(d),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var g run.Group
	{
		daemonCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			log.Info().
				Str("store", cfg.Schedule.StorePath).
				Dur("backup_interval", cfg.Schedule.BackupInterval).
				Msg("Daemon started")
			return d.Start(daemonCtx)
		}, func(error) {
			cancel()
		})
	}
	{
		g.Add(func() error {
			log.Info().Str("addr", addr).Msg("Serving metrics and health")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}
	{
		signals := make(chan os.Signal, 1)
		done := make(chan struct{})
		g.Add(func() error {
			signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
			for {
				select {
				case sig := <-signals:
					if sig == syscall.SIGHUP {
						log.Info().Msg("SIGHUP received; triggering pass")
						d.Trigger()
						continue
					}
					log.Info().Str("signal", sig.String()).Msg("Shutting down")
					return nil
				case <-ctx.Done():
					return ctx.Err()
				case <-done:
					return nil
				}
			}
		}, func(error) {
			signal.Stop(signals)
			close(done)
		})
	}

	return g.Run()
}

// healthReporter is implemented by *daemon.Daemon.
type healthReporter interface {
	Health() daemon.HealthStatus
}

func newServeMux(h healthReporter) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", handleHealth(h))
	return mux
}

// handleHealth reports daemon health as JSON, with 503 once a pass has failed.
func handleHealth(h healthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := h.Health()
		w.Header().Set("Content-Type", "application/json")
		if status.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
