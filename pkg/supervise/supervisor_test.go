package supervise

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/possum-survey/possumctl/pkg/canfar"
)

type pollStep struct {
	status canfar.Status
	err    error
}

// scriptedWatcher replays a fixed sequence of poll results per session id.
// The last step repeats if polled past the end of its script.
type scriptedWatcher struct {
	scripts     map[string][]pollStep
	infoCalls   int
	logCaptures []string
	logsErr     error
}

func (w *scriptedWatcher) Info(_ context.Context, sessionID string) (*canfar.Session, error) {
	w.infoCalls++
	script, ok := w.scripts[sessionID]
	if !ok || len(script) == 0 {
		return nil, &canfar.APIError{Op: "Info", SessionID: sessionID, Err: canfar.ErrSessionNotFound}
	}
	step := script[0]
	if len(script) > 1 {
		w.scripts[sessionID] = script[1:]
	}
	if step.err != nil {
		return nil, step.err
	}
	return &canfar.Session{ID: sessionID, Status: step.status}, nil
}

func (w *scriptedWatcher) Logs(_ context.Context, sessionID string) (string, error) {
	if w.logsErr != nil {
		return "", w.logsErr
	}
	w.logCaptures = append(w.logCaptures, sessionID)
	return "log output for " + sessionID, nil
}

func newSupervisor(t *testing.T, w SessionWatcher, cfg Config) *Supervisor {
	t.Helper()
	s, err := New(w, cfg, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

// sequentialLauncher hands out one scripted result per attempt.
type sequentialLauncher struct {
	results []struct {
		id  string
		err error
	}
	calls int
}

func (l *sequentialLauncher) launch(context.Context) (string, error) {
	if l.calls >= len(l.results) {
		return "", fmt.Errorf("launcher called more than %d times", len(l.results))
	}
	r := l.results[l.calls]
	l.calls++
	return r.id, r.err
}

func launchResults(pairs ...any) *sequentialLauncher {
	l := &sequentialLauncher{}
	for i := 0; i < len(pairs); i += 2 {
		l.results = append(l.results, struct {
			id  string
			err error
		}{pairs[i].(string), toErr(pairs[i+1])})
	}
	return l
}

func toErr(v any) error {
	if v == nil {
		return nil
	}
	return v.(error)
}

func TestRun_SucceedsFirstAttempt(t *testing.T) {
	w := &scriptedWatcher{scripts: map[string][]pollStep{
		"s1": {{status: canfar.StatusPending}, {status: canfar.StatusRunning}, {status: canfar.StatusCompleted}},
	}}
	l := launchResults("s1", nil)

	s := newSupervisor(t, w, Config{MaxRetries: 2})
	if err := s.Run(context.Background(), l.launch); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if l.calls != 1 {
		t.Fatalf("expected exactly 1 launch, got %d", l.calls)
	}
	if w.infoCalls != 3 {
		t.Fatalf("expected 3 polls, got %d", w.infoCalls)
	}
}

func TestRun_ExhaustsAfterRepeatedFailure(t *testing.T) {
	w := &scriptedWatcher{scripts: map[string][]pollStep{
		"s1": {{status: canfar.StatusRunning}, {status: canfar.StatusFailed}},
		"s2": {{status: canfar.StatusFailed}},
		"s3": {{status: canfar.StatusError}},
	}}
	l := launchResults("s1", nil, "s2", nil, "s3", nil)

	s := newSupervisor(t, w, Config{MaxRetries: 2})
	err := s.Run(context.Background(), l.launch)

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got: %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", exhausted.Attempts)
	}
	if l.calls != 3 {
		t.Fatalf("expected 3 launches, got %d", l.calls)
	}
	if len(w.logCaptures) != 3 {
		t.Fatalf("expected forensic logs for all 3 attempts, got %d", len(w.logCaptures))
	}
}

func TestRun_FlakyLauncherConsumesBudgetWithoutAborting(t *testing.T) {
	boom := errors.New("submit rejected")
	w := &scriptedWatcher{scripts: map[string][]pollStep{}}
	l := launchResults("", boom, "", boom, "", boom)

	s := newSupervisor(t, w, Config{MaxRetries: 2})
	err := s.Run(context.Background(), l.launch)

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got: %v", err)
	}
	if l.calls != 3 {
		t.Fatalf("launcher exceptions must be consumed, not propagated early: %d calls", l.calls)
	}
	if w.infoCalls != 0 {
		t.Fatal("no session id means no polling")
	}
}

func TestRun_RecoversAfterFailedLaunch(t *testing.T) {
	w := &scriptedWatcher{scripts: map[string][]pollStep{
		"s2": {{status: canfar.StatusSucceeded}},
	}}
	l := launchResults("", errors.New("transient"), "s2", nil)

	s := newSupervisor(t, w, Config{MaxRetries: 2})
	if err := s.Run(context.Background(), l.launch); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if l.calls != 2 {
		t.Fatalf("expected exactly 2 launches, got %d", l.calls)
	}
}

func TestRun_EmptySessionIDCountsAsFailedLaunch(t *testing.T) {
	w := &scriptedWatcher{scripts: map[string][]pollStep{
		"s2": {{status: canfar.StatusCompleted}},
	}}
	l := launchResults("   ", nil, "s2", nil)

	s := newSupervisor(t, w, Config{MaxRetries: 2})
	if err := s.Run(context.Background(), l.launch); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if l.calls != 2 {
		t.Fatalf("expected 2 launches, got %d", l.calls)
	}
}

func TestRun_VanishedSessionFailsAttempt(t *testing.T) {
	// s1 has no script, so Info reports not found.
	w := &scriptedWatcher{scripts: map[string][]pollStep{
		"s2": {{status: canfar.StatusCompleted}},
	}}
	l := launchResults("s1", nil, "s2", nil)

	s := newSupervisor(t, w, Config{MaxRetries: 2})
	if err := s.Run(context.Background(), l.launch); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if l.calls != 2 {
		t.Fatalf("expected vanished session to trigger retry, got %d launches", l.calls)
	}
}

func TestRun_PollErrorsBelowLimitAreRetried(t *testing.T) {
	transient := &canfar.APIError{Op: "Info", Err: canfar.ErrUnavailable}
	w := &scriptedWatcher{scripts: map[string][]pollStep{
		"s1": {{err: transient}, {err: transient}, {status: canfar.StatusCompleted}},
	}}
	l := launchResults("s1", nil)

	s := newSupervisor(t, w, Config{MaxRetries: 0, PollErrorLimit: 5})
	if err := s.Run(context.Background(), l.launch); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestRun_PollErrorLimitFailsAttempt(t *testing.T) {
	transient := &canfar.APIError{Op: "Info", Err: canfar.ErrUnavailable}
	w := &scriptedWatcher{scripts: map[string][]pollStep{
		"s1": {{err: transient}},
	}}
	l := launchResults("s1", nil)

	s := newSupervisor(t, w, Config{MaxRetries: 0, PollErrorLimit: 2})
	err := s.Run(context.Background(), l.launch)

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got: %v", err)
	}
	if w.infoCalls != 2 {
		t.Fatalf("expected exactly PollErrorLimit polls, got %d", w.infoCalls)
	}
}

func TestRun_CancellationPropagates(t *testing.T) {
	w := &scriptedWatcher{scripts: map[string][]pollStep{
		"s1": {{status: canfar.StatusRunning}},
	}}
	l := launchResults("s1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	s := newSupervisor(t, w, Config{MaxRetries: 2})
	s.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	if err := s.Run(ctx, l.launch); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got: %v", err)
	}
	if l.calls != 1 {
		t.Fatalf("cancellation must not trigger retries, got %d launches", l.calls)
	}
}

func TestRun_LogRetrievalFailureDoesNotChangeOutcome(t *testing.T) {
	w := &scriptedWatcher{
		scripts: map[string][]pollStep{"s1": {{status: canfar.StatusCompleted}}},
		logsErr: errors.New("logs gone"),
	}
	l := launchResults("s1", nil)

	s := newSupervisor(t, w, Config{MaxRetries: 0})
	if err := s.Run(context.Background(), l.launch); err != nil {
		t.Fatalf("log retrieval failure must stay diagnostic: %v", err)
	}
}
