package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/possum-survey/possumctl/internal/observability"
	"github.com/possum-survey/possumctl/pkg/launch"
	"github.com/possum-survey/possumctl/pkg/supervise"
)

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Launch a headless session and babysit it to a terminal outcome",
	Long: `Launch the session described by a YAML manifest, poll its status until it
finishes, and retry failed attempts up to the configured budget. Session
logs are captured for every attempt before the session is abandoned.

Exits non-zero once the attempt budget is exhausted.

Example:
  possumctl supervise --job run.yaml
  possumctl supervise --job run.yaml --max-retries 4 --poll-interval 30s`,
	RunE: runSupervise,
}

var (
	superviseJobPath      string
	supervisePollInterval time.Duration
	superviseMaxRetries   int
)

func init() {
	rootCmd.AddCommand(superviseCmd)

	superviseCmd.Flags().StringVarP(&superviseJobPath, "job", "j", "", "Path to launch manifest (required)")
	superviseCmd.Flags().DurationVar(&supervisePollInterval, "poll-interval", 0, "Override polling interval")
	superviseCmd.Flags().IntVar(&superviseMaxRetries, "max-retries", -1, "Override retry budget")

	_ = superviseCmd.MarkFlagRequired("job")
}

func runSupervise(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, err := launch.Load(superviseJobPath)
	if err != nil {
		observability.CLILogger.Error("Failed to load launch manifest",
			zap.String("path", superviseJobPath), zap.Error(err))
		return err
	}

	client, err := newCANFARClient()
	if err != nil {
		return err
	}

	scfg := supervise.Config{
		PollInterval:   cfg.Supervise.PollInterval,
		MaxRetries:     cfg.Supervise.MaxRetries,
		PollErrorLimit: cfg.Supervise.PollErrorLimit,
	}
	if supervisePollInterval > 0 {
		scfg.PollInterval = supervisePollInterval
	}
	if superviseMaxRetries >= 0 {
		scfg.MaxRetries = superviseMaxRetries
	}

	s, err := supervise.New(client, scfg, observability.CLILogger)
	if err != nil {
		return err
	}

	observability.CLILogger.Info("Supervising launch manifest",
		zap.String("path", superviseJobPath),
		zap.String("image", m.Image),
		zap.String("name", launch.SanitizeName(m.Name)))

	return s.Run(ctx, m.Launcher(client))
}
