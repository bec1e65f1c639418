package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"corvid/internal/errors"
	"corvid/internal/registry"
)

func newServeCommand(cli *rootState) *cobra.Command {
	var metricsAddr string
	var skipDiscover bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the corvid MCP server core",
		Long: `Boots the Content Store, Process Registry, Binary Locator, Session
Supervisor, Checkpoint Manager, and MCP Frontend, then blocks until SIGINT
or SIGTERM. Wire transport (stdio/SSE/HTTP framing of MCP requests) is an
external collaborator; this command only boots the core and exposes
/metrics for scraping.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.loadConfig()
			if err != nil {
				return &ExitCodeError{Code: exitConfigError, Err: err}
			}

			container, err := buildContainer(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := container.Close(); cerr != nil {
					container.Log.Error("error closing storage handles: %v", cerr)
				}
			}()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := container.Reconcile(ctx); err != nil {
				return &ExitCodeError{Code: exitInternal, Err: err}
			}

			if !skipDiscover {
				if _, err := container.Frontend.DiscoverExecutable(ctx, false); err != nil {
					if errors.KindOf(err) == errors.NotFound {
						return &ExitCodeError{Code: exitBinaryUnavailable, Err: err}
					}
					return &ExitCodeError{Code: exitInternal, Err: err}
				}
			}

			var wg sync.WaitGroup
			runLoop(ctx, &wg, cfg.GCInterval, cfg.DisableAutoGC, func() {
				if _, _, err := container.Checkpoint.GC(ctx, false); err != nil {
					container.Log.Warn("scheduled gc failed: %v", err)
				}
			})
			runLoop(ctx, &wg, 5*time.Second, false, func() {
				container.Supervisor.Sweep(ctx)
			})

			srv := &http.Server{Addr: metricsAddr, Handler: metricsHandler(container)}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					container.Log.Error("metrics server stopped: %v", err)
				}
			}()

			container.Log.Info("corvid serving (state_root=%s, metrics=%s)", cfg.StateRoot, metricsAddr)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case sig := <-sigCh:
				container.Log.Info("received %s, draining sessions", sig)
			case <-ctx.Done():
			}

			drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer drainCancel()
			if err := drainSessions(drainCtx, container); err != nil {
				container.Log.Warn("drain did not complete cleanly: %v", err)
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)

			cancel()
			wg.Wait()
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address the Prometheus /metrics endpoint listens on")
	cmd.Flags().BoolVar(&skipDiscover, "skip-discover", false, "don't resolve the external executable at boot")
	return cmd
}

func metricsHandler(c *Container) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Metrics.Gatherer(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// runLoop starts a background ticker goroutine that calls fn every interval
// until ctx is cancelled, unless disabled is set or interval is zero (§6:
// "disable automatic GC" honored as a full no-op, not a zero-length ticker).
func runLoop(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, disabled bool, fn func()) {
	if disabled || interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// drainSessions cancels every non-terminal session and waits (up to ctx's
// deadline) for the registry to report them all terminal or orphaned,
// spec §7's "drains in-flight sessions where possible" fatal-path behavior
// applied here to the ordinary shutdown path too.
func drainSessions(ctx context.Context, c *Container) error {
	records, err := c.Registry.List(registry.Filter{State: registry.StateRunning})
	if err != nil {
		return err
	}
	for _, rec := range records {
		if cerr := c.Frontend.CancelSession(ctx, rec.SessionID); cerr != nil {
			c.Log.Warn("cancel session %s during drain: %v", rec.SessionID, cerr)
		}
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		remaining, err := c.Registry.List(registry.Filter{State: registry.StateRunning})
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d session(s) still running at drain deadline", len(remaining))
		case <-ticker.C:
		}
	}
}
