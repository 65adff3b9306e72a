package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/pulseforge/supervisor/internal/backlog"
	"github.com/pulseforge/supervisor/internal/breaker"
	"github.com/pulseforge/supervisor/internal/config"
	"github.com/pulseforge/supervisor/internal/dedup"
	"github.com/pulseforge/supervisor/internal/dispatch"
	"github.com/pulseforge/supervisor/internal/forge"
	"github.com/pulseforge/supervisor/internal/git"
	"github.com/pulseforge/supervisor/internal/lockfile"
	"github.com/pulseforge/supervisor/internal/pulse"
	"github.com/pulseforge/supervisor/internal/sanity"
	"github.com/pulseforge/supervisor/internal/selfheal"
	"github.com/pulseforge/supervisor/internal/store"
	"github.com/pulseforge/supervisor/internal/store/sqlite"
	"github.com/pulseforge/supervisor/internal/supervisorlog"
	"github.com/pulseforge/supervisor/internal/tasktemplate"
	"github.com/pulseforge/supervisor/internal/types"
)

// app bundles the collaborators a command needs, built lazily so that
// commands which don't touch the database (e.g. a bare --help) never open
// one.
type app struct {
	db          *sql.DB
	store       store.Store
	sync        *backlog.Sync
	breaker     *breaker.Breaker
	lock        *lockfile.Lock
	lockTimeout time.Duration
	logger      *supervisorlog.Logger
	forge       *forge.CLI
	wt          *git.WorktreeManager
	catalog     *tasktemplate.Catalog
	identity    string
	pulseDir    string
}

func pulseDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ".pulse"
	}
	return filepath.Join(cwd, ".pulse")
}

func dbPath() string {
	if p := config.GetString("db"); p != "" {
		return p
	}
	return filepath.Join(pulseDir(), "supervisor.db")
}

func newApp(ctx context.Context) (*app, error) {
	pd := pulseDir()
	if err := os.MkdirAll(pd, 0o755); err != nil {
		return nil, fmt.Errorf("creating pulse dir: %w", err)
	}

	db, err := sqlite.Open(dbPath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := sqlite.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	st := sqlite.New(db, dbPath())
	repo, _ := os.Getwd()
	sync := backlog.New(config.GetString("backlog-path"), repo, st)

	br := breaker.New(config.GetString("breaker.state-path"))

	lockTimeout := config.GetDuration("lock-timeout")
	if lockTimeout <= 0 {
		lockTimeout = 30 * time.Second
	}
	lock := lockfile.New(filepath.Join(pd, "supervisor.lock"))

	catalog := tasktemplate.NewCatalog()
	if _, err := catalog.LoadAll(pd); err != nil {
		debugf("loading task templates: %v", err)
	}

	logger, err := supervisorlog.New(supervisorlog.Config{
		Path: filepath.Join(pd, "logs", "supervisor.log"),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	return &app{
		db:          db,
		store:       st,
		sync:        sync,
		breaker:     br,
		lock:        lock,
		lockTimeout: lockTimeout,
		logger:      logger,
		forge:       forge.New(),
		wt:          git.NewWorktreeManager(repo),
		catalog:     catalog,
		identity:    config.GetIdentity(""),
		pulseDir:    pd,
	}, nil
}

func (a *app) Close() {
	if a.logger != nil {
		a.logger.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func debugf(format string, args ...interface{}) {
	if os.Getenv("SUPERVISOR_DEBUG") != "" {
		fmt.Fprintf(os.Stderr, "[debug] "+format+"\n", args...)
	}
}

// buildPulseDeps assembles the full pulse.Deps graph for a live reconciliation
// cycle (`watch`, cron-invoked runs), wiring every collaborator this command
// layer owns.
func (a *app) buildPulseDeps(host string) pulse.Deps {
	concurrencyHard := config.GetInt("dispatch.concurrency-hard-cap")
	if concurrencyHard <= 0 {
		concurrencyHard = runtime.NumCPU()
	}

	var decider selfheal.Decider = selfheal.StaticDecider{}
	if config.GetBool("selfheal.ai-enabled") {
		if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
			if ai, err := selfheal.NewAnthropicDecider(apiKey); err == nil {
				decider = ai
			} else {
				debugf("self-heal AI decider unavailable: %v", err)
			}
		}
	}

	dispatchDeps := dispatch.Deps{
		DedupGuard: dedup.New(),
		TaskDelivered: func(ctx context.Context, repo, taskID string) (bool, error) {
			return a.forge.TaskDelivered(ctx, repo, taskID)
		},
		RegisteredRepo: func(ctx context.Context, taskID string) (string, error) {
			t, err := a.store.GetTask(ctx, taskID)
			if err != nil {
				return "", err
			}
			return t.Repo, nil
		},
		AcquireClaim: func(ctx context.Context, taskID, host string) (granted, stale bool, err error) {
			if assignee, held := a.sync.HasClaim(taskID); held && assignee != host {
				return false, false, nil
			}
			return true, false, nil
		},
		CountRunning: func(ctx context.Context) (int, error) {
			running, err := a.store.ListTasks(ctx, store.TaskFilter{})
			if err != nil {
				return 0, err
			}
			n := 0
			for _, t := range running {
				if t.Status == types.StateRunning || t.Status == types.StateDispatched {
					n++
				}
			}
			return n, nil
		},
		// ProbeProvider has no live provider-health endpoint to call against
		// in this core; it reports healthy unconditionally so dispatch
		// eligibility falls through to the other checks. A real health
		// probe is the natural place to plug in a provider status API.
		ProbeProvider: func(ctx context.Context, model string) (types.ProviderHealth, error) {
			return types.ProviderHealthy, nil
		},
		AcquireWorktree: func(ctx context.Context, t *types.Task) (string, error) {
			branch := t.BranchPath
			if branch == "" {
				branch = "supervisor/" + t.ID
			}
			return a.wt.Acquire(t.ID, branch)
		},
	}

	return pulse.Deps{
		Store:        a.store,
		Reconciler:   a.sync,
		Backlog:      a.sync,
		DedupGuard:   dedup.New(),
		Breaker:      a.breaker,
		Decider:      decider,
		DispatchDeps: dispatchDeps,
		PostPipeline: &forgePostPipeline{forge: a.forge, store: a.store},
		BatchFlush:   &logBatchFlush{store: a.store, logger: a.logger},
		Maintenance:  &routineMaintenance{store: a.store, wt: a.wt},
		Templates:    a.catalog,
		Host:         host,

		ConcurrencyBase:    config.GetInt("dispatch.concurrency-base"),
		ConcurrencyHardCap: concurrencyHard,
		DispatchBatchSize:  config.GetInt("dispatch.batch-size"),

		Spawn: dispatch.SpawnConfig{
			CLIBinary:        config.GetString("worker.cli-binary"),
			HeartbeatSeconds: config.GetInt("dispatch.heartbeat-seconds"),
		},
	}
}

var _ sanity.Backlog = (*backlog.Sync)(nil)
