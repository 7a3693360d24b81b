package orchestrator

import "strings"

// SessionTagPrefix is the wire format for linking a job record to a remote
// session: a single tag "canfar_session:<id>". The id is the only foreign
// key between the orchestrator and the session service.
const SessionTagPrefix = "canfar_session:"

// StateType is the lifecycle state of an orchestrated job record.
type StateType string

const (
	StateScheduled StateType = "SCHEDULED"
	StatePending   StateType = "PENDING"
	StateRunning   StateType = "RUNNING"
	StateCompleted StateType = "COMPLETED"
	StateFailed    StateType = "FAILED"
	StateCancelled StateType = "CANCELLED"
	StateCrashed   StateType = "CRASHED"
)

// JobRecord is one tracked execution of an orchestrated workflow.
//
// SessionID is resolved from Tags exactly once when the record is loaded so
// downstream code never re-parses the tag format ad hoc. An empty SessionID
// means the record carries no usable session reference.
type JobRecord struct {
	ID        string
	Name      string
	State     StateType
	Tags      []string
	SessionID string
}

// ExtractSessionID returns the session id referenced by tags, or "" if no
// well-formed session tag is present. The first matching tag wins; the id
// portion is trimmed, and an id that is empty after trimming counts as no tag.
func ExtractSessionID(tags []string) string {
	for _, t := range tags {
		if strings.HasPrefix(t, SessionTagPrefix) {
			return strings.TrimSpace(t[len(SessionTagPrefix):])
		}
	}
	return ""
}

// SessionTag formats the tag that links a job record to a session.
func SessionTag(sessionID string) string {
	return SessionTagPrefix + sessionID
}
