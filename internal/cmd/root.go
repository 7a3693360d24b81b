// Package cmd implements the possumctl command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/possum-survey/possumctl/internal/config"
	"github.com/possum-survey/possumctl/internal/observability"
	"github.com/possum-survey/possumctl/pkg/canfar"
	"github.com/possum-survey/possumctl/pkg/orchestrator"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build-time version metadata for the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile  string
	envFile  string
	logLevel string

	// cfg is resolved once in the persistent pre-run and read by subcommands.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "possumctl",
	Short: "Control loops for POSSUM pipeline runs on CANFAR",
	Long: `possumctl keeps the workflow orchestrator honest about jobs running as
CANFAR headless sessions.

It reconciles RUNNING job records against the sessions CANFAR actually
reports, supervises a launched session to a terminal outcome with bounded
retries, and offers small operational helpers around the session service.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(cfgFile, envFile)
		if err != nil {
			return err
		}
		cfg = c

		level := c.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		return observability.Init(level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "config.env", "Path to env file loaded before config resolution")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug|info|warn|error)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Fprintf(os.Stdout, "possumctl %s (commit %s, built %s)\n",
			versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	},
}

// Execute runs the command tree.
func Execute() error {
	defer observability.Sync()
	return rootCmd.Execute()
}

func newCANFARClient() (*canfar.Client, error) {
	return canfar.NewClient(canfar.Config{
		BaseURL:   cfg.CANFAR.BaseURL,
		Token:     cfg.CANFAR.Token,
		Timeout:   cfg.CANFAR.Timeout,
		RateLimit: cfg.CANFAR.RateLimit,
	})
}

func newOrchestratorClient() (orchestrator.Client, error) {
	return orchestrator.NewRESTClient(orchestrator.Config{
		APIURL:  cfg.Orchestrator.APIURL,
		AuthKey: cfg.Orchestrator.AuthKey,
		Timeout: cfg.Orchestrator.Timeout,
	})
}
