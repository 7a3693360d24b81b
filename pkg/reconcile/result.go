package reconcile

// Result is an immutable snapshot of one reconciliation pass.
type Result struct {
	// PassID correlates log lines from a single pass.
	PassID string `json:"pass_id"`

	// TruthAvailable reports whether the session service could be queried.
	// When false the pass was counts-only and nothing was mutated.
	TruthAvailable bool `json:"truth_available"`

	// RunningTotal is the number of RUNNING job records fetched.
	RunningTotal int `json:"running_total"`

	// CheckedTaggedRunning is the number of RUNNING records carrying a
	// well-formed session tag.
	CheckedTaggedRunning int `json:"checked_tagged_running"`

	// SkippedUntagged is the number of RUNNING records without a usable
	// session tag. These are never mutated.
	SkippedUntagged int `json:"skipped_untagged"`

	// MissingOrNotRunning is the number of tagged records whose session was
	// confirmed missing or not running and that were escalated this pass.
	// Always equal to FailedMarked when TruthAvailable is true.
	MissingOrNotRunning int `json:"missing_or_not_running"`

	// FailedMarked is the number of records transitioned to FAILED.
	// Always zero when TruthAvailable is false.
	FailedMarked int `json:"failed_marked"`
}
