// Package dispatch selects queued tasks under fair, adaptive concurrency,
// resolves each one's model tier, and spawns its worker subprocess (spec.md
// §4.3).
package dispatch

import (
	"context"
	"math"
	"runtime"
	"sort"

	"github.com/pulseforge/supervisor/internal/types"
)

// Candidate returns true for queued tasks eligible for selection: under
// their retry cap, and with every earlier-numbered dotted sibling terminal.
func Candidate(t *types.Task, siblingsTerminal func(id string) bool) bool {
	if t.Status != types.StateQueued || !t.Eligible() {
		return false
	}
	if parent, ok := types.ParentID(t.ID); ok {
		_ = parent // dotted subtasks are ordered against their numeric siblings, not the parent itself
	}
	return siblingsTerminal(t.ID)
}

// Select picks up to n candidates from pool using spec.md's fair cross-repo
// interleaving: each repo present in pool is guaranteed one slot, then
// remaining slots are distributed in proportion to each repo's queued
// count, rounded up, capped at that repo's candidate count.
func Select(pool []*types.Task, n int) []*types.Task {
	if n <= 0 || len(pool) == 0 {
		return nil
	}

	byRepo := map[string][]*types.Task{}
	var repoOrder []string
	for _, t := range pool {
		if _, ok := byRepo[t.Repo]; !ok {
			repoOrder = append(repoOrder, t.Repo)
		}
		byRepo[t.Repo] = append(byRepo[t.Repo], t)
	}
	for _, repo := range repoOrder {
		sortByRetriesThenAge(byRepo[repo])
	}

	if len(repoOrder) >= n {
		// Not enough slots even for one-per-repo: take the first n repos'
		// lead candidate each, in stable repo-name order for determinism.
		sort.Strings(repoOrder)
		out := make([]*types.Task, 0, n)
		for _, repo := range repoOrder[:n] {
			out = append(out, byRepo[repo][0])
		}
		return out
	}

	total := len(pool)
	quota := map[string]int{}
	used := 1 * len(repoOrder) // one guaranteed slot per repo
	remaining := n - used
	if remaining < 0 {
		remaining = 0
	}
	for _, repo := range repoOrder {
		quota[repo] = 1
	}
	if remaining > 0 && total > 0 {
		// Distribute leftover slots proportional to each repo's queued
		// count, rounded up, capped at that repo's candidate count.
		for _, repo := range repoOrder {
			share := int(math.Ceil(float64(len(byRepo[repo])) / float64(total) * float64(remaining)))
			room := len(byRepo[repo]) - quota[repo]
			if share > room {
				share = room
			}
			if share < 0 {
				share = 0
			}
			quota[repo] += share
		}
	}

	var out []*types.Task
	for _, repo := range repoOrder {
		take := quota[repo]
		if take > len(byRepo[repo]) {
			take = len(byRepo[repo])
		}
		out = append(out, byRepo[repo][:take]...)
	}
	sortByRetriesThenAge(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func sortByRetriesThenAge(tasks []*types.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Retries != tasks[j].Retries {
			return tasks[i].Retries < tasks[j].Retries
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// EffectiveConcurrency computes spec.md's adaptive concurrency cap:
// min(base * loadFactor, hardCap). hardCap of 0 means machine-derived
// (runtime.NumCPU()).
func EffectiveConcurrency(base int, loadFactor float64, hardCap int) int {
	if hardCap <= 0 {
		hardCap = runtime.NumCPU()
	}
	eff := int(math.Round(float64(base) * loadFactor))
	if eff < 1 {
		eff = 1
	}
	if eff > hardCap {
		eff = hardCap
	}
	return eff
}

// LoadFactor derives a 0..1-ish scaling factor from recent running-task
// saturation, the adaptive signal EffectiveConcurrency consumes. A
// dedicated load-sensor is out of core scope; this uses the simplest
// observable proxy, current-running over current-cap, inverted so a
// saturated system scales future batches down.
func LoadFactor(running, concurrencyCap int) float64 {
	if concurrencyCap <= 0 {
		return 1.0
	}
	saturation := float64(running) / float64(concurrencyCap)
	factor := 1.0 - 0.5*saturation
	if factor < 0.25 {
		factor = 0.25
	}
	return factor
}

// RecountRunning is the dispatch-time concurrency recheck (spec.md §4.3
// step 5): callers pass a fresh count of currently-running tasks in scope
// (global or batch) obtained immediately before spawning, not the stale
// count from selection time.
func RecountRunning(ctx context.Context, countRunning func(ctx context.Context) (int, error), concurrencyCap int) (ok bool, running int, err error) {
	running, err = countRunning(ctx)
	if err != nil {
		return false, 0, err
	}
	return running < concurrencyCap, running, nil
}
