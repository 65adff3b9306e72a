// Package pulse drives one reconciliation cycle end to end (spec.md §4.9):
// the ordered, atomic pass every other package's pieces are assembled into.
package pulse

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pulseforge/supervisor/internal/breaker"
	"github.com/pulseforge/supervisor/internal/dedup"
	"github.com/pulseforge/supervisor/internal/dispatch"
	"github.com/pulseforge/supervisor/internal/evaluator"
	"github.com/pulseforge/supervisor/internal/sanity"
	"github.com/pulseforge/supervisor/internal/selfheal"
	"github.com/pulseforge/supervisor/internal/store"
	"github.com/pulseforge/supervisor/internal/tasktemplate"
	"github.com/pulseforge/supervisor/internal/types"
	"github.com/pulseforge/supervisor/internal/worker"
)

// hungKillGrace is how long hangCheckRunning's hang-kill waits after SIGTERM
// before escalating to SIGKILL (internal/worker.KillHung), kept short since
// it runs synchronously inside a pulse cycle.
const hungKillGrace = 5 * time.Second

// Reconciler is the external-signal sync step (backlog -> DB, completed
// worker detection), implemented by internal/backlog.
type Reconciler interface {
	Reconcile(ctx context.Context) error
	DetectCompletedWorkers(ctx context.Context) ([]*types.Task, error)
}

// PostPipeline advances pr_review -> merged -> deployed -> verified via
// external collaborators (CI, code-forge) outside the core's direct control.
type PostPipeline interface {
	Advance(ctx context.Context, t *types.Task) error
}

// BatchFlush runs a batch's deferred completion actions exactly once per
// pulse, for every batch that has at least one task in the store (spec.md
// §4.9 step 10).
type BatchFlush interface {
	Flush(ctx context.Context, batchID string) error
}

// Maintenance is the routine scheduling / periodic cleanup step (spec.md
// §4.9 step 9): stale worktree GC, log pruning.
type Maintenance interface {
	Run(ctx context.Context) error
}

// Deps bundles every collaborator one pulse needs.
type Deps struct {
	Store        store.Store
	Reconciler   Reconciler
	Backlog      sanity.Backlog
	DedupGuard   dedup.Guard
	Breaker      *breaker.Breaker
	Decider      selfheal.Decider
	DispatchDeps dispatch.Deps
	PostPipeline PostPipeline
	BatchFlush   BatchFlush
	Maintenance  Maintenance
	Templates    *tasktemplate.Catalog // defaults applied to supervisor-spawned tasks (diagnostics); nil uses built-ins only
	Host         string

	ConcurrencyBase    int
	ConcurrencyHardCap int
	DispatchBatchSize  int

	// Spawn configures the worker subprocess dispatch.Spawn starts for each
	// task that proceeds through the eligibility pipeline.
	Spawn dispatch.SpawnConfig
}

// Result summarizes what one pulse did, for logging.
type Result struct {
	Reconciled        bool
	StallReport       *sanity.Report
	SanityFixed       int
	Evaluated         int
	SelfHealed        int
	Dispatched        int
	PostPipelineMoved int
	BreakerTripped    bool
	BatchesFlushed    []string
}

// Run executes exactly one pulse, in the ten-step order spec.md §4.9
// specifies. A failure at any step aborts the remaining steps for this
// pulse. Each store call (Transition, UpdateTask, CreateTask) is atomic on
// its own; a step that makes several store calls for one task does not
// wrap them in a single transaction.
func Run(ctx context.Context, d Deps, now time.Time) (Result, error) {
	var res Result

	// 1. Reconcile external signals.
	if d.Reconciler != nil {
		if err := d.Reconciler.Reconcile(ctx); err != nil {
			return res, fmt.Errorf("reconciling backlog: %w", err)
		}
		res.Reconciled = true
	}

	// 2. Sanity check if stalled.
	dispatchable, err := d.Store.ListTasks(ctx, store.TaskFilter{Status: types.StateQueued})
	if err != nil {
		return res, fmt.Errorf("listing queued tasks: %w", err)
	}
	if len(dispatchable) == 0 {
		anyOpen, err := hasOpenTasks(ctx, d.Store)
		if err != nil {
			return res, err
		}
		if anyOpen {
			fixed, report, err := sanity.Run(ctx, d.Store, d.Backlog, sanity.Host(d.Host))
			if err != nil {
				return res, fmt.Errorf("running sanity sweep: %w", err)
			}
			res.SanityFixed = fixed
			res.StallReport = report
		}
	}

	// 3. Hang-detect running workers, then evaluate exited ones; classify
	// outcomes; apply dedup-guard updates.
	if d.Reconciler != nil {
		if err := hangCheckRunning(ctx, d.Store, now); err != nil {
			return res, fmt.Errorf("hang-checking running workers: %w", err)
		}
		exited, err := d.Reconciler.DetectCompletedWorkers(ctx)
		if err != nil {
			return res, fmt.Errorf("detecting completed workers: %w", err)
		}
		for _, t := range exited {
			hung := workerHung(t, now)
			if err := evaluateAndRecord(ctx, d, t, now, hung); err != nil {
				return res, fmt.Errorf("evaluating %s: %w", t.ID, err)
			}
			res.Evaluated++
		}
	}

	// 4. Apply self-heal on fresh failures.
	failed, err := d.Store.ListTasks(ctx, store.TaskFilter{Status: types.StateFailed})
	if err != nil {
		return res, fmt.Errorf("listing failed tasks: %w", err)
	}
	for _, t := range failed {
		healed, err := applySelfHeal(ctx, d, t)
		if err != nil {
			return res, fmt.Errorf("self-healing %s: %w", t.ID, err)
		}
		if healed {
			res.SelfHealed++
		}
	}

	// 5. Handle completed diagnostics: re-queue parents.
	if err := requeueParentsOfCompletedDiagnostics(ctx, d.Store); err != nil {
		return res, fmt.Errorf("requeuing diagnosed parents: %w", err)
	}

	// 6. Circuit-breaker check.
	if d.Breaker != nil {
		tripped, err := d.Breaker.Check(now)
		if err != nil {
			return res, fmt.Errorf("checking circuit breaker: %w", err)
		}
		res.BreakerTripped = tripped
		if tripped {
			return res, nil
		}
	}

	// 7. Dispatch new workers up to adaptive cap.
	n, err := runDispatch(ctx, d, now)
	if err != nil {
		return res, fmt.Errorf("dispatching: %w", err)
	}
	res.Dispatched = n

	// 8. Advance post-dispatch pipeline states.
	if d.PostPipeline != nil {
		moved, err := advancePostPipeline(ctx, d)
		if err != nil {
			return res, fmt.Errorf("advancing post-dispatch pipeline: %w", err)
		}
		res.PostPipelineMoved = moved
	}

	// 9. Routine scheduling and periodic maintenance.
	if d.Maintenance != nil {
		if err := d.Maintenance.Run(ctx); err != nil {
			return res, fmt.Errorf("running maintenance: %w", err)
		}
	}

	// 10. Flush deferred batch-completion actions.
	batches, err := touchedBatches(ctx, d.Store)
	if err != nil {
		return res, fmt.Errorf("listing touched batches: %w", err)
	}
	if d.BatchFlush != nil {
		for _, b := range batches {
			if err := d.BatchFlush.Flush(ctx, b); err != nil {
				return res, fmt.Errorf("flushing batch %s: %w", b, err)
			}
			res.BatchesFlushed = append(res.BatchesFlushed, b)
		}
	}

	return res, nil
}

func hasOpenTasks(ctx context.Context, st store.Store) (bool, error) {
	for _, s := range []types.State{types.StateQueued, types.StateDispatched, types.StateRunning, types.StateEvaluating, types.StateRetrying} {
		tasks, err := st.ListTasks(ctx, store.TaskFilter{Status: s})
		if err != nil {
			return false, err
		}
		if len(tasks) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// hangCheckRunning signals (TERM then, if still alive, KILL) the wrapper
// process of every running task whose heartbeat has gone stale past its
// hung-timeout (spec.md §4.3 Heartbeat and hang detection). Once the
// wrapper's dispatch step returns under the TERM, the wrapper script body
// writes the log's EXIT: sentinel, so the following DetectCompletedWorkers
// call picks it up in this same cycle or the next one. A wrapper that only
// dies to the KILL escalation writes no EXIT: line.
func hangCheckRunning(ctx context.Context, st store.Store, now time.Time) error {
	running, err := st.ListTasks(ctx, store.TaskFilter{Status: types.StateRunning})
	if err != nil {
		return err
	}
	for _, t := range running {
		if t.PID == 0 || !workerHung(t, now) {
			continue
		}
		if err := worker.KillHung(t.PID, hungKillGrace, worker.ProcessAlive); err != nil {
			return fmt.Errorf("killing hung worker for %s (pid %d): %w", t.ID, t.PID, err)
		}
	}
	return nil
}

// workerHung reports whether t's wrapper log shows a heartbeat staler than
// its hung-timeout, the same check cmd/supervisor's worker-status reports
// manually.
func workerHung(t *types.Task, now time.Time) bool {
	if t.LogPath == "" {
		return false
	}
	lastBeat, err := worker.LastHeartbeat(t.LogPath)
	if err != nil {
		return false
	}
	return worker.IsHung(lastBeat, worker.HungTimeout(t.EvaluationDur), now)
}

func evaluateAndRecord(ctx context.Context, d Deps, t *types.Task, now time.Time, hangDetected bool) error {
	if err := d.Store.Transition(ctx, t.ID, types.StateEvaluating, "worker exited, scanning log", nil); err != nil {
		return err
	}

	sig, err := evaluator.ScanLog(t.LogPath)
	if err != nil {
		return fmt.Errorf("scanning log: %w", err)
	}
	outcome := evaluator.Classify(evaluator.Input{Log: sig, HangDetected: hangDetected})

	switch outcome {
	case types.OutcomeComplete:
		stat := evaluator.GitDiffStat(t.WorktreePath, t.LogPath)
		if verdict := evaluator.Check(stat); !verdict.Pass {
			key := dedup.NormalizeFailureKey("needs_escalation: " + verdict.Reason)
			dedup.RecordFailure(t, key, now)
			if err := d.Store.UpdateTask(ctx, t); err != nil {
				return err
			}
			if d.Breaker != nil {
				if err := d.Breaker.RecordFailure(now); err != nil {
					return err
				}
			}
			return d.Store.Transition(ctx, t.ID, types.StateFailed, "quality gate failed, needs escalation: "+verdict.Reason, nil)
		}
		fallthrough
	case types.OutcomeVerifyComplete:
		dedup.RecordSuccess(t)
		if err := d.Store.UpdateTask(ctx, t); err != nil {
			return err
		}
		if d.Breaker != nil {
			if err := d.Breaker.RecordSuccess(); err != nil {
				return err
			}
		}
		return d.Store.Transition(ctx, t.ID, types.StateComplete, "evaluator: "+string(outcome), nil)
	default:
		key := dedup.NormalizeFailureKey(string(outcome))
		dedup.RecordFailure(t, key, now)
		if err := d.Store.UpdateTask(ctx, t); err != nil {
			return err
		}
		if d.Breaker != nil {
			if err := d.Breaker.RecordFailure(now); err != nil {
				return err
			}
		}
		return d.Store.Transition(ctx, t.ID, types.StateFailed, "evaluator: "+string(outcome), nil)
	}
}

func applySelfHeal(ctx context.Context, d Deps, t *types.Task) (bool, error) {
	if d.Decider == nil {
		return false, nil
	}
	// The failure key normalizes to the outcome string itself whenever the
	// evaluator's outcome carried no colon-qualified detail (see
	// evaluateAndRecord / dedup.NormalizeFailureKey), so it doubles as the
	// outcome the decider needs for its infrastructure-class check.
	outcome := types.OutcomeKind(t.LastFailureKey)
	decision, err := d.Decider.Decide(ctx, t, outcome, t.LastFailureKey)
	if err != nil {
		return false, err
	}
	switch decision.Action {
	case selfheal.ActionRetry:
		return true, d.Store.Transition(ctx, t.ID, types.StateQueued, "self-heal: "+decision.Reason, nil)
	case selfheal.ActionEscalate:
		t.EscalationDepth++
		t.RequestedTier = decision.NextTier
		t.Retries = 0
		if err := d.Store.UpdateTask(ctx, t); err != nil {
			return false, err
		}
		return true, d.Store.Transition(ctx, t.ID, types.StateQueued, "self-heal: escalate to "+string(decision.NextTier), nil)
	case selfheal.ActionDiagnose:
		return true, spawnDiagnostic(ctx, d.Store, d.Templates, t, decision.Reason)
	case selfheal.ActionBlock:
		return true, d.Store.Transition(ctx, t.ID, types.StateBlocked, "self-heal: "+decision.Reason, nil)
	default:
		return false, nil
	}
}

func spawnDiagnostic(ctx context.Context, st store.Store, templates *tasktemplate.Catalog, parent *types.Task, reason string) error {
	if parent.LiveDiagnostic != "" {
		return nil
	}
	diag := &types.Task{
		ID:           parent.ID + ".diag",
		Repo:         parent.Repo,
		Description:  "Diagnose failure of " + parent.ID + ": " + reason,
		Status:       types.StateQueued,
		BatchID:      parent.BatchID,
		MaxRetries:   parent.MaxRetries,
		DiagnosticOf: parent.ID,
	}
	if templates != nil {
		templates.Apply(diag, "diagnostic")
	}
	if err := st.CreateTask(ctx, diag); err != nil {
		return fmt.Errorf("creating diagnostic task: %w", err)
	}
	parent.LiveDiagnostic = diag.ID
	return st.UpdateTask(ctx, parent)
}

func requeueParentsOfCompletedDiagnostics(ctx context.Context, st store.Store) error {
	diagnostics, err := st.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return err
	}
	for _, diag := range diagnostics {
		if diag.DiagnosticOf == "" || !diag.Status.Terminal() {
			continue
		}
		if diag.Status != types.StateComplete && diag.Status != types.StateVerified {
			continue
		}
		parent, err := st.GetTask(ctx, diag.DiagnosticOf)
		if err != nil {
			continue
		}
		if parent.LiveDiagnostic != diag.ID {
			continue
		}
		parent.LiveDiagnostic = ""
		if err := st.UpdateTask(ctx, parent); err != nil {
			return err
		}
		if err := st.Transition(ctx, parent.ID, types.StateQueued, "diagnostic "+diag.ID+" completed", nil); err != nil {
			return err
		}
	}
	return nil
}

func runDispatch(ctx context.Context, d Deps, now time.Time) (int, error) {
	queued, err := d.Store.ListTasks(ctx, store.TaskFilter{Status: types.StateQueued})
	if err != nil {
		return 0, err
	}
	all, err := d.Store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return 0, err
	}
	siblingsTerminal := func(id string) bool {
		parent, ok := types.ParentID(id)
		if !ok {
			return true
		}
		k, err := strconv.Atoi(id[len(parent)+1:])
		if err != nil {
			return true
		}
		for _, s := range all {
			sp, ok := types.ParentID(s.ID)
			if !ok || sp != parent {
				continue
			}
			if n, err := strconv.Atoi(s.ID[len(sp)+1:]); err == nil && n < k && !s.Status.Terminal() {
				return false
			}
		}
		return true
	}

	var candidates []*types.Task
	for _, t := range queued {
		if dispatch.Candidate(t, siblingsTerminal) {
			candidates = append(candidates, t)
		}
	}

	running, err := d.Store.ListTasks(ctx, store.TaskFilter{Status: types.StateRunning})
	if err != nil {
		return 0, err
	}
	// LoadFactor's saturation denominator is the hard cap when one's
	// configured; with no hard cap (machine-derived) the base concurrency is
	// the best available reference point for "how loaded are we".
	loadRef := d.ConcurrencyHardCap
	if loadRef <= 0 {
		loadRef = d.ConcurrencyBase
	}
	loadFactor := dispatch.LoadFactor(len(running), loadRef)
	concurrencyCap := dispatch.EffectiveConcurrency(d.ConcurrencyBase, loadFactor, d.ConcurrencyHardCap)
	selected := dispatch.Select(candidates, d.DispatchBatchSize)

	dispatched := 0
	for _, t := range selected {
		result, err := dispatch.Evaluate(ctx, d.DispatchDeps, t, t.Repo, d.Host, concurrencyCap, now)
		if err != nil {
			return dispatched, err
		}
		switch {
		case result.Cancel:
			if err := d.Store.Transition(ctx, t.ID, types.StateCancelled, result.CancelReason, nil); err != nil {
				return dispatched, err
			}
		case result.BlockReason != "":
			if err := d.Store.Transition(ctx, t.ID, types.StateBlocked, result.BlockReason, nil); err != nil {
				return dispatched, err
			}
		case result.Defer != types.DeferNone:
			// left queued, nothing to persist
		case result.Proceed:
			if err := d.Store.Transition(ctx, t.ID, types.StateDispatched, "dispatched", nil); err != nil {
				return dispatched, err
			}
			t.ResolvedModel = string(dispatch.Resolve(dispatch.ResolveInput{Task: t}))
			pid, pair, err := dispatch.Spawn(d.Spawn, t, now)
			if err != nil {
				if transErr := d.Store.Transition(ctx, t.ID, types.StateFailed, "spawn failed: "+err.Error(), nil); transErr != nil {
					return dispatched, transErr
				}
				continue
			}
			t.PID = pid
			t.LogPath = pair.LogPath
			if err := d.Store.UpdateTask(ctx, t); err != nil {
				return dispatched, err
			}
			if err := d.Store.Transition(ctx, t.ID, types.StateRunning, "worker spawned", nil); err != nil {
				return dispatched, err
			}
			dispatched++
		}
	}
	return dispatched, nil
}

func advancePostPipeline(ctx context.Context, d Deps) (int, error) {
	moved := 0
	for _, s := range []types.State{types.StatePRReview, types.StateReviewTriage, types.StateMerging, types.StateMerged, types.StateDeploying, types.StateDeployed, types.StateVerifying} {
		tasks, err := d.Store.ListTasks(ctx, store.TaskFilter{Status: s})
		if err != nil {
			return moved, err
		}
		for _, t := range tasks {
			if err := d.PostPipeline.Advance(ctx, t); err != nil {
				return moved, err
			}
			moved++
		}
	}
	return moved, nil
}

func touchedBatches(ctx context.Context, st store.Store) ([]string, error) {
	tasks, err := st.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, t := range tasks {
		if t.BatchID == "" || seen[t.BatchID] {
			continue
		}
		seen[t.BatchID] = true
		out = append(out, t.BatchID)
	}
	return out, nil
}
