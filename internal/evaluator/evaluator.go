// Package evaluator classifies a worker's exit into an OutcomeKind by
// reading its log file's sentinel lines, the worktree diff, and (if a PR
// URL was recorded) the upstream PR state (spec.md §4.4).
package evaluator

import (
	"bufio"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pulseforge/supervisor/internal/types"
	"github.com/pulseforge/supervisor/internal/worker"
)

// LogSignals is everything the disambiguation rules need, pre-extracted
// from one pass over the log file.
type LogSignals struct {
	WrapperStarted     bool
	WorkerStarted      bool
	FullLoopComplete   bool
	ExitCode           int
	HasExitCode        bool
	PRURL              string
	SizeBytes          int64
	TailMatchesQuota   bool
	TailMatchesAuth    bool
	TailMatchesRate    bool
	TailMatchesKeyBad  bool
}

var (
	reQuota   = regexp.MustCompile(`(?i)(quota exceeded|credits? (exhausted|depleted)|insufficient.?(credits|balance))`)
	reAuth    = regexp.MustCompile(`(?i)(unauthorized|invalid api key|authentication failed|401)`)
	reRate    = regexp.MustCompile(`(?i)(rate.?limit|429 too many requests)`)
	reKeyBad  = regexp.MustCompile(`(?i)(api key invalid|key.?invalid|revoked key)`)
)

const tailScanBytes = 8 * 1024

// ScanLog reads path once and extracts the sentinel signals the
// disambiguation rules consume.
func ScanLog(path string) (LogSignals, error) {
	info, err := os.Stat(path)
	if err != nil {
		return LogSignals{}, err
	}
	var sig LogSignals
	sig.SizeBytes = info.Size()

	f, err := os.Open(path)
	if err != nil {
		return LogSignals{}, err
	}
	defer f.Close()

	var tail strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, worker.SentinelWrapperStarted):
			sig.WrapperStarted = true
		case strings.HasPrefix(line, worker.SentinelWorkerStarted):
			sig.WorkerStarted = true
		case strings.HasPrefix(line, worker.SentinelFullLoopComplete):
			sig.FullLoopComplete = true
		case strings.HasPrefix(line, worker.SentinelExitPrefix):
			if n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, worker.SentinelExitPrefix))); err == nil {
				sig.ExitCode = n
				sig.HasExitCode = true
			}
		case strings.HasPrefix(line, worker.SentinelPRURLPrefix):
			sig.PRURL = strings.TrimSpace(strings.TrimPrefix(line, worker.SentinelPRURLPrefix))
		}
		tail.WriteString(line)
		tail.WriteByte('\n')
		if tail.Len() > tailScanBytes*2 {
			s := tail.String()
			tail.Reset()
			tail.WriteString(s[len(s)-tailScanBytes:])
		}
	}
	if err := scanner.Err(); err != nil {
		return LogSignals{}, err
	}

	tailStr := tail.String()
	sig.TailMatchesQuota = reQuota.MatchString(tailStr)
	sig.TailMatchesAuth = reAuth.MatchString(tailStr)
	sig.TailMatchesRate = reRate.MatchString(tailStr)
	sig.TailMatchesKeyBad = reKeyBad.MatchString(tailStr)
	return sig, nil
}

// Input bundles the three evidence sources the classifier reads (spec.md
// §4.4): the log, the worktree diff, and the upstream PR state.
type Input struct {
	Log          LogSignals
	HasFileDiff  bool
	PRMergedUpstream bool
	HangDetected bool
}

// Classify applies the first-match-wins disambiguation rules from spec.md
// §4.4, in the documented order.
func Classify(in Input) types.OutcomeKind {
	switch {
	case !in.Log.WrapperStarted:
		return types.OutcomeWorkerNeverStarted
	case !in.Log.WorkerStarted:
		return types.OutcomeWorkerDispatchError
	case in.Log.FullLoopComplete && in.PRMergedUpstream:
		return types.OutcomeComplete
	case in.Log.FullLoopComplete && in.Log.PRURL == "" && !in.HasFileDiff:
		return types.OutcomeCompleteNoPR
	case in.Log.HasExitCode && in.Log.ExitCode == 0 && !in.Log.FullLoopComplete:
		return types.OutcomeCleanExitNoSignal
	case in.Log.SizeBytes < 2*1024 && !in.Log.FullLoopComplete:
		return types.OutcomeTrivialOutput
	case in.Log.TailMatchesKeyBad:
		return types.OutcomeAuthError
	case in.Log.TailMatchesQuota:
		return types.OutcomeQuotaError
	case in.Log.TailMatchesRate:
		return types.OutcomeRateLimited
	case in.Log.TailMatchesAuth:
		return types.OutcomeAuthError
	case in.HangDetected:
		return types.OutcomeTimeout
	case in.Log.FullLoopComplete:
		return types.OutcomeComplete
	default:
		return types.OutcomeWorkInProgress
	}
}
