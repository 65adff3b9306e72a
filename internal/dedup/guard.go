// Package dedup implements the repeated-failure cooldown guard (spec.md
// §4.7): a task that keeps failing the same way is deferred, then blocked
// for a human, instead of being redispatched into the same wall over and
// over.
package dedup

import (
	"strings"
	"time"

	"github.com/pulseforge/supervisor/internal/types"
)

// Verdict is the guard's answer for a task about to be dispatched.
type Verdict string

const (
	VerdictProceed  Verdict = "proceed"
	VerdictCooldown Verdict = "cooldown"
	VerdictBlock    Verdict = "block"
)

// Guard holds the two tunables spec.md §4.7 names.
type Guard struct {
	Cooldown          time.Duration // default 10 min
	MaxConsecutive    int           // default 2
}

// New returns a Guard with spec.md's defaults.
func New() Guard {
	return Guard{Cooldown: 10 * time.Minute, MaxConsecutive: 2}
}

// NormalizeFailureKey reduces an error string to the portion before its
// first colon, the stable key the guard compares successive failures by.
func NormalizeFailureKey(errText string) string {
	if i := strings.IndexByte(errText, ':'); i >= 0 {
		return strings.TrimSpace(errText[:i])
	}
	return strings.TrimSpace(errText)
}

// Check evaluates the dedup guard against a task's recorded failure state
// (LastFailureAt and ConsecutiveFailures). The failure-key comparison
// happens earlier, in RecordFailure, so ConsecutiveFailures already counts
// only identical consecutive failures. now is passed in rather than read
// from time.Now so callers can test deterministically.
func (g Guard) Check(t *types.Task, now time.Time) Verdict {
	if t.LastFailureAt.IsZero() {
		return VerdictProceed
	}
	if now.Sub(t.LastFailureAt) >= g.Cooldown {
		return VerdictProceed
	}
	if t.ConsecutiveFailures >= g.MaxConsecutive {
		return VerdictBlock
	}
	return VerdictCooldown
}

// RecordFailure updates last_failure_at and consecutive_failure_count in
// place on t, following spec.md §4.7's same-key-increments / new-key-resets
// rule. failureKey should already be normalized via NormalizeFailureKey.
func RecordFailure(t *types.Task, failureKey string, now time.Time) {
	if t.LastFailureKey == failureKey && !t.LastFailureAt.IsZero() {
		t.ConsecutiveFailures++
	} else {
		t.ConsecutiveFailures = 1
	}
	t.LastFailureKey = failureKey
	t.LastFailureAt = now
}

// RecordSuccess clears the failure-tracking fields so a later legitimate
// retry is never suppressed by a stale failure streak.
func RecordSuccess(t *types.Task) {
	t.LastFailureAt = time.Time{}
	t.LastFailureKey = ""
	t.ConsecutiveFailures = 0
}
