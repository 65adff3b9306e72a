package types

import "time"

// StateLogEntry is one append-only row recording a transition.
type StateLogEntry struct {
	ID        int64
	TaskID    string
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// ProofLogEntry is an immutable audit record written on significant
// lifecycle transitions.
type ProofLogEntry struct {
	ID          int64
	TaskID      string
	Event       string
	Stage       string
	Decision    string
	Evidence    string
	DecisionBy  string // "supervisor" | "ai:<model>" | human handle
	PRURL       string
	Duration    time.Duration
	MetadataRaw string // JSON object text, stored and returned as-is rather than as a struct
	Timestamp   time.Time
}

// DedupStatus is the outcome of an action-dedup check.
type DedupStatus string

const (
	DedupExecuted  DedupStatus = "executed"
	DedupSuppressed DedupStatus = "dedup_suppressed"
)

// ActionDedupEntry is one row in the rolling-window action dedup log.
type ActionDedupEntry struct {
	ID         int64
	CycleID    string
	ActionType string
	Target     string
	Status     DedupStatus
	StateHash  string
	Timestamp  time.Time
}

// StaleRecoveryEntry records a task force-transitioned out of a stale state.
type StaleRecoveryEntry struct {
	ID               int64
	TaskID           string
	DetectedByPhase  string
	From             State
	To               State
	StaleSeconds     int64
	RootCause        string
	HadPR            bool
	HadLiveWorker    bool
	RetriesAtRecover int
	WorkerCompletedAt time.Time
	EvalStartedAt     time.Time
	EvalLagSeconds    int64
	Timestamp         time.Time
}
