package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/possum-survey/possumctl/internal/observability"
	"github.com/possum-survey/possumctl/pkg/canfar"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and manage CANFAR sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all open sessions",
	RunE:  runSessionsList,
}

var sessionsLogsCmd = &cobra.Command{
	Use:   "logs <session_id>",
	Short: "Print the logs of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsLogs,
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Destroy running headless sessions",
	Long: `Destroy all running headless sessions, optionally including pending ones.
Non-headless (interactive) sessions are never touched.

A glob on the session name narrows the selection:
  possumctl sessions prune --name '50413-*'`,
	RunE: runSessionsPrune,
}

var (
	sessionsListJSON         bool
	sessionsPruneAlsoPending bool
	sessionsPruneName        string
	sessionsPrunePause       time.Duration
	sessionsPruneDryRun      bool
)

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsLogsCmd)
	sessionsCmd.AddCommand(sessionsPruneCmd)

	sessionsListCmd.Flags().BoolVar(&sessionsListJSON, "json", false, "Output as JSON")
	sessionsPruneCmd.Flags().BoolVar(&sessionsPruneAlsoPending, "also-pending", false, "Also destroy pending headless sessions")
	sessionsPruneCmd.Flags().StringVar(&sessionsPruneName, "name", "", "Only destroy sessions whose name matches this glob")
	sessionsPruneCmd.Flags().DurationVar(&sessionsPrunePause, "pause", time.Second, "Pause between destroy calls")
	sessionsPruneCmd.Flags().BoolVar(&sessionsPruneDryRun, "dry-run", false, "Show what would be destroyed")
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	client, err := newCANFARClient()
	if err != nil {
		return err
	}

	sessions, err := client.List(cmd.Context())
	if err != nil {
		return err
	}
	sortSessionsNewestFirst(sessions)

	if sessionsListJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}

	if len(sessions) == 0 {
		fmt.Fprintln(os.Stdout, "No open sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	fmt.Fprintln(w, "ID\tTYPE\tNAME\tSTATUS\tSTART TIME")
	for _, s := range sessions {
		start := s.StartTime
		if start == "" {
			start = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Type, s.Name, s.Status, start)
	}
	return nil
}

func runSessionsLogs(cmd *cobra.Command, args []string) error {
	client, err := newCANFARClient()
	if err != nil {
		return err
	}

	logs, err := client.Logs(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, logs)
	return nil
}

func runSessionsPrune(cmd *cobra.Command, _ []string) error {
	client, err := newCANFARClient()
	if err != nil {
		return err
	}

	sessions, err := client.List(cmd.Context())
	if err != nil {
		return err
	}

	targets, err := selectPrunable(sessions, sessionsPruneAlsoPending, sessionsPruneName)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(os.Stdout, "No matching headless sessions to destroy")
		return nil
	}

	for i, s := range targets {
		if sessionsPruneDryRun {
			fmt.Fprintf(os.Stdout, "would destroy %s (%s, %s)\n", s.ID, s.Name, s.Status)
			continue
		}
		if err := client.Destroy(cmd.Context(), s.ID); err != nil {
			observability.CLILogger.Warn("Failed to destroy session",
				zap.String("session_id", s.ID), zap.Error(err))
			continue
		}
		observability.CLILogger.Info("Destroyed headless session",
			zap.String("session_id", s.ID), zap.String("name", s.Name))
		if sessionsPrunePause > 0 && i < len(targets)-1 {
			time.Sleep(sessionsPrunePause)
		}
	}
	return nil
}

// selectPrunable picks the headless sessions eligible for destruction:
// running (plus pending when alsoPending), name-matched when nameGlob is set.
func selectPrunable(sessions []canfar.Session, alsoPending bool, nameGlob string) ([]canfar.Session, error) {
	if nameGlob != "" {
		if !doublestar.ValidatePattern(nameGlob) {
			return nil, fmt.Errorf("invalid name glob: %s", nameGlob)
		}
	}

	var out []canfar.Session
	for _, s := range sessions {
		if !strings.EqualFold(s.Type, "headless") {
			continue
		}
		if !s.Status.Equals(canfar.StatusRunning) &&
			!(alsoPending && s.Status.Equals(canfar.StatusPending)) {
			continue
		}
		if nameGlob != "" {
			ok, err := doublestar.Match(nameGlob, s.Name)
			if err != nil {
				return nil, fmt.Errorf("match name glob: %w", err)
			}
			if !ok {
				continue
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// sortSessionsNewestFirst orders by start time descending; sessions without a
// start time (still pending) sort last.
func sortSessionsNewestFirst(sessions []canfar.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i].StartTime, sessions[j].StartTime
		if a == "" || b == "" {
			return b == "" && a != ""
		}
		return a > b
	})
}
