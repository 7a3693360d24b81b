package cmd

import (
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/possum-survey/possumctl/internal/observability"
	"github.com/possum-survey/possumctl/pkg/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass against CANFAR",
	Long: `Cross-check RUNNING job records against the sessions CANFAR confirms as
running, and mark records FAILED when their session is missing or dead.

If CANFAR cannot be queried the pass degrades to counts-only and mutates
nothing. Orchestrator errors abort the pass.

Example:
  possumctl reconcile
  possumctl reconcile --limit 50 --json`,
	RunE: runReconcile,
}

var (
	reconcileLimit int
	reconcileJSON  bool
)

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileCmd.Flags().IntVar(&reconcileLimit, "limit", 0, "Override max RUNNING records fetched per pass")
	reconcileCmd.Flags().BoolVar(&reconcileJSON, "json", false, "Print the pass result as JSON")
}

func newReconciler() (*reconcile.Reconciler, error) {
	directory, err := newCANFARClient()
	if err != nil {
		return nil, err
	}
	orch, err := newOrchestratorClient()
	if err != nil {
		return nil, err
	}

	rcfg := reconcile.Config{
		Limit:         cfg.Reconcile.Limit,
		TagFilter:     cfg.Reconcile.TagFilter,
		MissThreshold: cfg.Reconcile.MissThreshold,
	}
	if reconcileLimit > 0 {
		rcfg.Limit = reconcileLimit
	}

	var misses *reconcile.MissStore
	if rcfg.MissThreshold > 1 {
		misses = reconcile.NewMissStore(filepath.Join(cfg.Reconcile.StateDir, "misses.json"))
	}

	return reconcile.New(directory, orch, misses, rcfg, observability.CLILogger)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := newReconciler()
	if err != nil {
		return err
	}

	res, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if reconcileJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return nil
}
