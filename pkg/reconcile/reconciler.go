// Package reconcile keeps the orchestrator's belief about job liveness
// consistent with the ground truth reported by the session service.
//
// A session that dies unexpectedly (service outage, manual kill) leaves its
// job record RUNNING forever unless something notices. One reconciliation
// pass cross-checks every RUNNING record carrying a session tag against the
// set of sessions the service confirms as running, and escalates records
// whose session is missing or no longer running to FAILED.
//
// The pass is fail-safe: if the session service cannot be trusted as ground
// truth, nothing is mutated and only counts are reported.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/possum-survey/possumctl/pkg/canfar"
	"github.com/possum-survey/possumctl/pkg/orchestrator"
)

// SessionDirectory is the read-only session service surface a pass needs.
type SessionDirectory interface {
	List(ctx context.Context) ([]canfar.Session, error)
}

// Config configures a Reconciler.
type Config struct {
	// Limit caps how many RUNNING job records are fetched per pass.
	// Default: 200
	Limit int

	// TagFilter restricts the fetch to records carrying all of these tags.
	// Empty means all RUNNING records.
	TagFilter []string

	// MissThreshold is the number of consecutive passes a session must be
	// missing before its record is escalated. 1 escalates immediately.
	// Values above 1 require a MissStore.
	// Default: 1
	MissThreshold int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{Limit: 200, MissThreshold: 1}
}

// Reconciler runs one-shot consistency passes.
//
// Reconciler is safe for sequential reuse; concurrent passes from separate
// processes are arbitrated by the orchestrator's write API.
type Reconciler struct {
	directory SessionDirectory
	orch      orchestrator.Client
	misses    *MissStore
	cfg       Config
	log       *zap.Logger
}

// New creates a Reconciler. misses may be nil when cfg.MissThreshold <= 1.
func New(directory SessionDirectory, orch orchestrator.Client, misses *MissStore, cfg Config, log *zap.Logger) (*Reconciler, error) {
	if directory == nil {
		return nil, fmt.Errorf("session directory is required")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator client is required")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultConfig().Limit
	}
	if cfg.MissThreshold <= 0 {
		cfg.MissThreshold = DefaultConfig().MissThreshold
	}
	if cfg.MissThreshold > 1 && misses == nil {
		return nil, fmt.Errorf("miss threshold %d requires a miss store", cfg.MissThreshold)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{directory: directory, orch: orch, misses: misses, cfg: cfg, log: log}, nil
}

// Run executes one reconciliation pass.
//
// Session service failures of a remote kind (unreachable, auth, throttled,
// malformed) degrade the pass to counts-only. Orchestrator failures and
// context cancellation propagate and abort the pass.
func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	res := Result{PassID: uuid.New().String()}
	log := r.log.With(zap.String("pass_id", res.PassID))

	log.Info("Starting reconciliation of RUNNING job records with CANFAR sessions")

	confirmedRunning, truthAvailable, err := r.fetchRemoteTruth(ctx, log)
	if err != nil {
		return Result{}, err
	}
	res.TruthAvailable = truthAvailable

	records, err := r.orch.ListRunning(ctx, r.cfg.TagFilter, r.cfg.Limit)
	if err != nil {
		return Result{}, fmt.Errorf("fetch running job records: %w", err)
	}
	res.RunningTotal = len(records)

	tagged := make(map[string]bool, len(records))
	for _, rec := range records {
		if rec.SessionID == "" {
			res.SkippedUntagged++
			continue
		}
		res.CheckedTaggedRunning++
		tagged[rec.ID] = true

		if !truthAvailable {
			continue
		}

		if confirmedRunning[rec.SessionID] {
			if r.misses != nil {
				if err := r.misses.Clear(rec.ID); err != nil {
					log.Warn("Failed to clear miss counter", zap.String("job_id", rec.ID), zap.Error(err))
				}
			}
			continue
		}

		escalate, count, err := r.recordMiss(rec.ID, rec.SessionID)
		if err != nil {
			return Result{}, err
		}
		if !escalate {
			log.Info("Session missing, below escalation threshold",
				zap.String("job_id", rec.ID),
				zap.String("session_id", rec.SessionID),
				zap.Int("consecutive_misses", count),
				zap.Int("threshold", r.cfg.MissThreshold))
			continue
		}

		reason := fmt.Sprintf(
			"CANFAR session missing or not RUNNING while job record is RUNNING. session_id=%s.",
			rec.SessionID)
		if err := r.orch.SetFailed(ctx, rec.ID, reason); err != nil {
			return Result{}, fmt.Errorf("escalate job record %s: %w", rec.ID, err)
		}
		res.MissingOrNotRunning++
		res.FailedMarked++
		log.Info("Escalated job record to FAILED",
			zap.String("job_id", rec.ID),
			zap.String("session_id", rec.SessionID))

		if r.misses != nil {
			if err := r.misses.Clear(rec.ID); err != nil {
				log.Warn("Failed to clear miss counter", zap.String("job_id", rec.ID), zap.Error(err))
			}
		}
	}

	// Counters for records that left the RUNNING set must not linger.
	if r.misses != nil && truthAvailable {
		if err := r.misses.Prune(tagged); err != nil {
			log.Warn("Failed to prune miss counters", zap.Error(err))
		}
	}

	log.Info("Reconciliation summary",
		zap.Bool("truth_available", res.TruthAvailable),
		zap.Int("running_total", res.RunningTotal),
		zap.Int("checked_tagged_running", res.CheckedTaggedRunning),
		zap.Int("failed_marked", res.FailedMarked),
		zap.Int("skipped_untagged", res.SkippedUntagged),
		zap.Int("missing_or_not_running", res.MissingOrNotRunning))

	return res, nil
}

// fetchRemoteTruth returns the set of session ids confirmed running. A remote
// outage yields an empty set and truthAvailable=false; other errors (context
// cancellation, defects) propagate.
func (r *Reconciler) fetchRemoteTruth(ctx context.Context, log *zap.Logger) (map[string]bool, bool, error) {
	sessions, err := r.directory.List(ctx)
	if err != nil {
		if canfar.IsRemoteOutage(err) {
			log.Warn("CANFAR session fetch failed; degrading to counts-only pass", zap.Error(err))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fetch sessions: %w", err)
	}

	confirmed := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			continue
		}
		if s.Status.Equals(canfar.StatusRunning) {
			confirmed[id] = true
		}
	}
	return confirmed, true, nil
}

func (r *Reconciler) recordMiss(jobID, sessionID string) (escalate bool, count int, err error) {
	if r.cfg.MissThreshold <= 1 || r.misses == nil {
		return true, 1, nil
	}
	count, err = r.misses.Record(jobID, sessionID)
	if err != nil {
		return false, 0, fmt.Errorf("record miss for job %s: %w", jobID, err)
	}
	return count >= r.cfg.MissThreshold, count, nil
}
