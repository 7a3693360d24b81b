// Package supervise drives one remote session to a terminal outcome.
//
// A supervisor launches a session through a caller-supplied launch function,
// polls the session service until the session reaches a terminal status, and
// retries failed attempts up to a configured bound. The orchestrator on its
// own cannot see a session die out from under it, so the supervisor is the
// piece that converts a flaky remote run into either a clean return or a
// single, explicit failure.
//
// Every failed attempt has its session logs captured before the session is
// abandoned; logs are forensic only and never drive control decisions.
package supervise

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/possum-survey/possumctl/pkg/canfar"
)

// Launcher submits a remote job and returns its session id. An empty id or an
// error both count as a failed launch and consume one attempt.
type Launcher func(ctx context.Context) (sessionID string, err error)

// SessionWatcher is the session service surface the supervisor needs.
// *canfar.Client satisfies it.
type SessionWatcher interface {
	Info(ctx context.Context, sessionID string) (*canfar.Session, error)
	Logs(ctx context.Context, sessionID string) (string, error)
}

// Config configures a Supervisor.
type Config struct {
	// PollInterval is the fixed delay between status polls. No backoff.
	// Default: 60s
	PollInterval time.Duration

	// MaxRetries is the number of retries after the first attempt, so the
	// total attempt budget is MaxRetries+1.
	// Default: 2
	MaxRetries int

	// PollErrorLimit is the number of consecutive status-poll errors after
	// which the attempt is abandoned as failed. Transient poll errors below
	// the limit are retried on the next tick.
	// Default: 5
	PollErrorLimit int
}

// DefaultConfig returns the default supervisor configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:   60 * time.Second,
		MaxRetries:     2,
		PollErrorLimit: 5,
	}
}

// ExhaustedError is returned when every attempt in the budget failed.
type ExhaustedError struct {
	// Attempts is the total number of attempts made.
	Attempts int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("remote job failed after %d attempts", e.Attempts)
}

// Supervisor launches and babysits one remote job at a time.
//
// The calling goroutine blocks for the lifetime of the remote job; cancel the
// context to bound the worst-case wait.
type Supervisor struct {
	watcher SessionWatcher
	cfg     Config
	log     *zap.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Supervisor.
func New(watcher SessionWatcher, cfg Config, log *zap.Logger) (*Supervisor, error) {
	if watcher == nil {
		return nil, fmt.Errorf("session watcher is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.PollErrorLimit <= 0 {
		cfg.PollErrorLimit = DefaultConfig().PollErrorLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{watcher: watcher, cfg: cfg, log: log, sleep: sleepContext}, nil
}

// Run launches the job and polls it to completion, retrying failed attempts.
//
// Returns nil once one attempt reaches a successful terminal status. Returns
// *ExhaustedError after the attempt budget is spent. Context cancellation
// propagates immediately and never consumes an attempt.
func (s *Supervisor) Run(ctx context.Context, launch Launcher) error {
	if launch == nil {
		return fmt.Errorf("launch function is required")
	}

	total := s.cfg.MaxRetries + 1
	for i := 1; i <= total; i++ {
		log := s.log.With(zap.Int("attempt", i), zap.Int("total_attempts", total))
		if i > 1 {
			log.Info("Retrying remote job")
		}

		sessionID, err := launch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A flaky launcher consumes an attempt, it does not abort the run.
			log.Warn("Failed to launch remote job", zap.Error(err))
			continue
		}
		sessionID = strings.TrimSpace(sessionID)
		if sessionID == "" {
			log.Warn("Launcher returned no session id")
			continue
		}
		log = log.With(zap.String("session_id", sessionID))
		log.Info("Launched session, polling until terminal")

		ok, terminal, err := s.poll(ctx, log, sessionID)
		if err != nil {
			return err
		}

		// Retain session output before the session is lost to us.
		s.captureLogs(ctx, log, sessionID)

		if ok {
			log.Info("Remote job succeeded", zap.String("terminal_status", terminal))
			return nil
		}
		log.Warn("Attempt failed", zap.String("terminal_status", terminal))
	}

	return &ExhaustedError{Attempts: total}
}

// poll queries the session until it leaves the active statuses. ok reports
// whether the terminal status was a success. A non-nil error aborts the whole
// run (cancellation only); everything else resolves into an attempt outcome.
func (s *Supervisor) poll(ctx context.Context, log *zap.Logger, sessionID string) (ok bool, terminal string, err error) {
	pollErrors := 0
	for {
		sess, err := s.watcher.Info(ctx, sessionID)
		switch {
		case canfar.IsNotFound(err):
			// Deleted or expired mid-flight: a valid terminal failure.
			log.Warn("Session vanished while polling")
			return false, "Not Found", nil
		case err != nil:
			if ctx.Err() != nil {
				return false, "", ctx.Err()
			}
			pollErrors++
			if pollErrors >= s.cfg.PollErrorLimit {
				log.Warn("Giving up on attempt after consecutive poll errors",
					zap.Int("poll_errors", pollErrors), zap.Error(err))
				return false, "Poll Errors", nil
			}
			log.Warn("Status poll failed, will retry next tick",
				zap.Int("poll_errors", pollErrors), zap.Error(err))
		default:
			pollErrors = 0
			status := sess.Status
			log.Info("Polled session", zap.String("status", string(status)))
			if status.IsSuccess() {
				return true, string(status), nil
			}
			if status.IsFailure() {
				return false, string(status), nil
			}
			// Pending, Running, Terminating, or anything unrecognized:
			// keep polling until the service makes up its mind.
		}

		if err := s.sleep(ctx, s.cfg.PollInterval); err != nil {
			return false, "", err
		}
	}
}

// captureLogs retains the session's output before the session is abandoned.
// Retrieval failures are logged and ignored.
func (s *Supervisor) captureLogs(ctx context.Context, log *zap.Logger, sessionID string) {
	logs, err := s.watcher.Logs(ctx, sessionID)
	if err != nil {
		log.Warn("Failed to retrieve session logs", zap.Error(err))
		return
	}
	log.Info("Session logs", zap.String("logs", logs))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
