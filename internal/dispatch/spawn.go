package dispatch

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"text/template"
	"time"

	"github.com/pulseforge/supervisor/internal/types"
)

// ScriptPair is the pair of generated files for one dispatch attempt
// (spec.md §4.3 Worker spawn). Filenames carry a timestamp suffix so a
// rapid second dispatch of the same task never overwrites the first
// wrapper's files while it still needs them.
type ScriptPair struct {
	WrapperPath  string
	DispatchPath string
	LogPath      string
}

// WrapperData is the template input for the wrapper script: it starts the
// dispatch script with its output appended to the log, forks a heartbeat
// child, and kills its descendant process tree on exit.
type WrapperData struct {
	DispatchPath     string
	LogPath          string
	HeartbeatSeconds int
}

// DispatchData is the template input for the dispatch script: the literal
// CLI invocation that execs the worker's LLM CLI with its prompt.
type DispatchData struct {
	CLIBinary string
	Model     string
	PromptFile string
}

// PIDDir returns the directory dispatch writes its per-attempt scripts and
// logs into: .pulse/run/<taskID> under baseDir (the task's worktree).
func PIDDir(baseDir, taskID string) string {
	return filepath.Join(baseDir, ".pulse", "run", strings.ReplaceAll(taskID, "/", "_"))
}

// WriteScripts renders and writes the wrapper and dispatch scripts for one
// dispatch attempt, returning their paths. now disambiguates concurrent
// attempts for the same task.
func WriteScripts(pidDir string, taskID string, now time.Time, wd WrapperData, dd DispatchData) (ScriptPair, error) {
	if err := os.MkdirAll(pidDir, 0o755); err != nil {
		return ScriptPair{}, fmt.Errorf("creating pid dir %s: %w", pidDir, err)
	}
	suffix := now.UTC().Format("20060102T150405.000000000")
	pair := ScriptPair{
		WrapperPath:  filepath.Join(pidDir, fmt.Sprintf("wrapper-%s-%s.sh", taskID, suffix)),
		DispatchPath: filepath.Join(pidDir, fmt.Sprintf("dispatch-%s-%s.sh", taskID, suffix)),
		LogPath:      filepath.Join(pidDir, fmt.Sprintf("%s-%s.log", taskID, suffix)),
	}
	wd.DispatchPath = pair.DispatchPath
	wd.LogPath = pair.LogPath
	if wd.HeartbeatSeconds == 0 {
		wd.HeartbeatSeconds = 300
	}

	if err := renderScript(pair.DispatchPath, dispatchScriptTemplate, dd); err != nil {
		return ScriptPair{}, err
	}
	if err := renderScript(pair.WrapperPath, wrapperScriptTemplate, wd); err != nil {
		return ScriptPair{}, err
	}
	return pair, nil
}

// WritePrompt writes a task's prompt content into pidDir, returning the
// file's path for the dispatch script to read on stdin.
func WritePrompt(pidDir, taskID string, now time.Time, content string) (string, error) {
	if err := os.MkdirAll(pidDir, 0o755); err != nil {
		return "", fmt.Errorf("creating pid dir %s: %w", pidDir, err)
	}
	suffix := now.UTC().Format("20060102T150405.000000000")
	path := filepath.Join(pidDir, fmt.Sprintf("prompt-%s-%s.txt", taskID, suffix))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing prompt %s: %w", path, err)
	}
	return path, nil
}

// SpawnConfig is what Spawn needs beyond the task itself to start a worker.
type SpawnConfig struct {
	CLIBinary        string
	HeartbeatSeconds int
}

// Spawn writes the prompt, dispatch, and wrapper scripts for t and starts
// the wrapper as a detached subprocess leading its own process group, so a
// later hang-kill's group signal (internal/worker.Signal) reaches every
// descendant it forks (spec.md §4.3 Worker spawn). It returns the wrapper's
// OS pid, which the caller records on the task for hang detection and
// cleanup, and the script pair's log path, which becomes the task's LogPath.
func Spawn(cfg SpawnConfig, t *types.Task, now time.Time) (pid int, pair ScriptPair, err error) {
	pidDir := PIDDir(t.WorktreePath, t.ID)
	promptFile, err := WritePrompt(pidDir, t.ID, now, t.Description)
	if err != nil {
		return 0, ScriptPair{}, fmt.Errorf("writing prompt for %s: %w", t.ID, err)
	}

	pair, err = WriteScripts(pidDir, t.ID, now,
		WrapperData{HeartbeatSeconds: cfg.HeartbeatSeconds},
		DispatchData{CLIBinary: cfg.CLIBinary, Model: string(t.ResolvedModel), PromptFile: promptFile},
	)
	if err != nil {
		return 0, ScriptPair{}, fmt.Errorf("writing scripts for %s: %w", t.ID, err)
	}

	cmd := exec.Command(pair.WrapperPath)
	if t.WorktreePath != "" {
		cmd.Dir = t.WorktreePath
	}
	// Setpgid with a zero Pgid makes the wrapper its own process-group
	// leader, so internal/worker.Signal's group kill (-pid) reaches its
	// entire forked tree even after the supervisor process exits.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, pair, fmt.Errorf("starting wrapper for %s: %w", t.ID, err)
	}
	// The wrapper is fully detached once started; the supervisor tracks its
	// liveness through the log's sentinel lines and the recorded pid, not
	// through this process's exit status, so reap it in the background to
	// avoid leaking a zombie.
	go cmd.Wait()

	return cmd.Process.Pid, pair, nil
}

func renderScript(path, tmplText string, data any) error {
	tmpl, err := template.New(filepath.Base(path)).Parse(tmplText)
	if err != nil {
		return fmt.Errorf("parsing template for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("creating script %s: %w", path, err)
	}
	defer f.Close()
	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("rendering script %s: %w", path, err)
	}
	return nil
}

// dispatchScriptTemplate writes WORKER_STARTED then execs the CLI, per
// spec.md §4.3. exec replaces the shell so the wrapper's process-tree kill
// reaches the worker directly, with no intermediate shell to reap.
const dispatchScriptTemplate = `#!/usr/bin/env bash
set -euo pipefail
echo "WORKER_STARTED $(date -u +%Y-%m-%dT%H:%M:%SZ)"
exec {{.CLIBinary}} --model "{{.Model}}" < "{{.PromptFile}}"
`

// wrapperScriptTemplate is the supervisor-owned process-tree guardian
// (spec.md §4.3 Worker spawn). It writes WRAPPER_STARTED, runs the dispatch
// script with output redirected to the log, forks a heartbeat child, and
// on its own exit recursively kills its descendant tree.
const wrapperScriptTemplate = `#!/usr/bin/env bash
set -u
LOG="{{.LogPath}}"
echo "WRAPPER_STARTED $(date -u +%Y-%m-%dT%H:%M:%SZ)" >> "$LOG"

heartbeat() {
	while true; do
		sleep {{.HeartbeatSeconds}}
		echo "HEARTBEAT $(date -u +%Y-%m-%dT%H:%M:%SZ)" >> "$LOG"
	done
}
heartbeat &
HEARTBEAT_PID=$!

kill_tree() {
	local parent="$1"
	local children
	children=$(pgrep -P "$parent" || true)
	for child in $children; do
		kill_tree "$child"
	done
	kill -TERM "$parent" 2>/dev/null || true
}

cleanup() {
	kill "$HEARTBEAT_PID" 2>/dev/null || true
	kill_tree $$
	sleep 1
	kill -KILL "$HEARTBEAT_PID" 2>/dev/null || true
}
trap cleanup EXIT INT TERM

bash "{{.DispatchPath}}" >> "$LOG" 2>&1
rc=$?
echo "EXIT:$rc" >> "$LOG"
exit $rc
`
