package canfar

import "strings"

// Status is the lifecycle status reported by the session service.
//
// The wire value is an open string set; the constants below cover the values
// the service is known to emit. Comparisons are case-insensitive because the
// service has historically been inconsistent about casing.
type Status string

const (
	StatusPending     Status = "Pending"
	StatusRunning     Status = "Running"
	StatusTerminating Status = "Terminating"
	StatusSucceeded   Status = "Succeeded"
	StatusCompleted   Status = "Completed"
	StatusError       Status = "Error"
	StatusFailed      Status = "Failed"
)

// Equals reports whether s matches other, ignoring case.
func (s Status) Equals(other Status) bool {
	return strings.EqualFold(string(s), string(other))
}

// IsActive reports whether the session is still making progress and should
// continue to be polled.
func (s Status) IsActive() bool {
	return s.Equals(StatusPending) || s.Equals(StatusRunning) || s.Equals(StatusTerminating)
}

// IsSuccess reports whether the session finished successfully.
func (s Status) IsSuccess() bool {
	return s.Equals(StatusCompleted) || s.Equals(StatusSucceeded)
}

// IsFailure reports whether the session reached a failed terminal status.
// An absent session is also a failure signal but is reported via
// ErrSessionNotFound, not a status value.
func (s Status) IsFailure() bool {
	return s.Equals(StatusError) || s.Equals(StatusFailed)
}

// Session is one unit of remote compute as reported by the session service.
type Session struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Name      string `json:"name"`
	Status    Status `json:"status"`
	StartTime string `json:"startTime,omitempty"`
	Image     string `json:"image,omitempty"`
}

// Spec describes a headless session to be created.
type Spec struct {
	Name     string
	Image    string
	Cores    int
	RAM      int
	Kind     string
	Cmd      string
	Args     string
	Env      map[string]string
	Replicas int
}
