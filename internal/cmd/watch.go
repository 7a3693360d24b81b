package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/possum-survey/possumctl/internal/observability"
	"github.com/possum-survey/possumctl/internal/server"
	"github.com/possum-survey/possumctl/pkg/canfar"
	"github.com/possum-survey/possumctl/pkg/launch"
	"github.com/possum-survey/possumctl/pkg/supervise"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically reconcile, optionally launching new work",
	Long: `Run reconciliation passes on a fixed interval. With --job, each cycle also
launches and supervises one session from the given manifest, unless too many
headless sessions are already pending (backpressure gate).

With --listen, a small HTTP endpoint serves /healthz and the result of the
last pass at /status.

Example:
  possumctl watch --every 10m
  possumctl watch --every 10m --job run.yaml --listen 127.0.0.1:8780`,
	RunE: runWatch,
}

var (
	watchEvery   time.Duration
	watchMaxRuns int
	watchJobPath string
	watchListen  string
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchEvery, "every", 0, "Override interval between cycles")
	watchCmd.Flags().IntVar(&watchMaxRuns, "max-runs", 0, "Stop after this many cycles (0 = run forever)")
	watchCmd.Flags().StringVarP(&watchJobPath, "job", "j", "", "Launch manifest to supervise each cycle")
	watchCmd.Flags().StringVar(&watchListen, "listen", "", "Override status endpoint address, e.g. 127.0.0.1:8780")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := observability.CLILogger

	interval := cfg.Watch.Interval
	if watchEvery > 0 {
		interval = watchEvery
	}
	listen := cfg.Watch.Listen
	if watchListen != "" {
		listen = watchListen
	}

	var m *launch.Manifest
	if watchJobPath != "" {
		var err error
		if m, err = launch.Load(watchJobPath); err != nil {
			return err
		}
	}

	r, err := newReconciler()
	if err != nil {
		return err
	}
	client, err := newCANFARClient()
	if err != nil {
		return err
	}

	var status *server.StatusServer
	if listen != "" {
		status = server.New(listen, versionInfo.Version)
		go func() {
			if err := status.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Status endpoint failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = status.Shutdown(shutdownCtx)
		}()
		log.Info("Serving status endpoint", zap.String("addr", listen))
	}

	for run := 1; ; run++ {
		res, err := r.Run(ctx)
		if status != nil {
			status.RecordPass(res, err)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A failed pass does not stop the loop; the next cycle retries.
			log.Error("Reconciliation pass failed", zap.Error(err))
		}

		if m != nil && err == nil {
			if err := maybeLaunch(ctx, log, client, m); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Error("Supervised launch failed", zap.Error(err))
			}
		}

		if watchMaxRuns > 0 && run >= watchMaxRuns {
			log.Info("Reached max runs, stopping", zap.Int("runs", run))
			return nil
		}

		log.Info("Sleeping until next cycle", zap.Duration("interval", interval))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// maybeLaunch supervises one session from the manifest unless the pending
// headless backlog says the cluster is saturated.
func maybeLaunch(ctx context.Context, log *zap.Logger, client *canfar.Client, m *launch.Manifest) error {
	sessions, err := client.List(ctx)
	if err != nil {
		return err
	}

	pending, running := countHeadless(sessions)
	log.Info("Headless session backlog",
		zap.Int("pending", pending), zap.Int("running", running))

	if pending >= cfg.Watch.MaxPending {
		log.Info("Too many pending headless sessions, skipping launch this cycle",
			zap.Int("pending", pending), zap.Int("max_pending", cfg.Watch.MaxPending))
		return nil
	}

	s, err := supervise.New(client, supervise.Config{
		PollInterval:   cfg.Supervise.PollInterval,
		MaxRetries:     cfg.Supervise.MaxRetries,
		PollErrorLimit: cfg.Supervise.PollErrorLimit,
	}, log)
	if err != nil {
		return err
	}
	return s.Run(ctx, m.Launcher(client))
}

func countHeadless(sessions []canfar.Session) (pending, running int) {
	for _, s := range sessions {
		if !strings.EqualFold(s.Type, "headless") {
			continue
		}
		switch {
		case s.Status.Equals(canfar.StatusPending):
			pending++
		case s.Status.Equals(canfar.StatusRunning):
			running++
		}
	}
	return pending, running
}
