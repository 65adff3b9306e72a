package types

import "time"

// Task is the primary entity the pulse loop drives through its lifecycle.
//
// ID format is opaque to the core; a dotted suffix (e.g. "t400.2") indicates
// a subtask/parent relation — see invariant (e) in spec.md §3.
type Task struct {
	ID   string
	Repo string // owning repository path

	Description string
	Status      State

	BatchID string

	RequestedTier ModelTier // requested before resolution
	ResolvedModel string    // the concrete model string actually dispatched

	Retries    int
	MaxRetries int

	EscalationDepth int
	MaxEscalation   int

	WorkerSession string // session handle, e.g. "<id>-retry2"
	WorktreePath  string
	BranchPath    string
	LogPath       string
	PID           int // OS pid of the spawned wrapper process, 0 if none is live

	PRURL          string // real URL, or one of the PR sentinels
	ExternalIssue  string // upstream tracking-issue URL
	DiagnosticOf   string // non-empty => this task diagnoses another
	LiveDiagnostic string // id of this task's own in-flight diagnostic, if any

	LastFailureAt          time.Time
	ConsecutiveFailures    int
	LastFailureKey         string // normalized error key (prefix before first colon)
	PromptRepeatDone       bool
	PreDispatchMainSHA     string // main-branch SHA observed just before dispatch

	CreatedAt        time.Time
	StartedAt        time.Time
	EvaluatingAt     time.Time
	CompletedAt      time.Time
	EvaluationDur    time.Duration

	// Claim fields mirror the backlog's assignee:/started: markers once synced.
	Assignee  string
	ClaimedAt time.Time

	BlockedBy []string // dependency task IDs, from the backlog's blocked-by: field

	Tags []string // #auto-dispatch, #plan, #investigation, #trivial, ...
}

// IsSubtask reports whether the task ID carries a dotted parent suffix.
func IsSubtask(id string) bool {
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			return true
		}
	}
	return false
}

// ParentID returns the portion of a dotted task ID before the last dot, and
// ok=false if id has no dotted suffix.
func ParentID(id string) (parent string, ok bool) {
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '.' {
			return id[:i], true
		}
	}
	return "", false
}

// Eligible reports whether the task currently satisfies the
// retries-under-cap precondition for dispatch (spec.md §4.3 Selection).
func (t *Task) Eligible() bool {
	return t.Retries < t.MaxRetries
}

// HasRealPR reports whether the task's PRURL is a genuine upstream PR
// rather than one of the synthetic sentinels.
func (t *Task) HasRealPR() bool {
	return !IsSentinelPR(t.PRURL)
}

// Batch is an ordered group of tasks sharing dispatch and release policy.
type Batch struct {
	ID string

	TargetConcurrency int
	MaxConcurrency    int // 0 => auto-derived from CPU count
	LoadFactor        float64

	TriggerRelease bool
	ReleaseType    string // major | minor | patch
	SkipQualityGate bool
}
