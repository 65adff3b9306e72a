package evaluator

import (
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var rePanicFatal = regexp.MustCompile(`(?im)^(panic:|fatal error:|fatal:)`)

// DiffStat is the shape of evidence the quality gate needs about a
// completed task's diff.
type DiffStat struct {
	FilesChanged   int
	LinesChanged   int
	ShellFiles     []string // changed files with a .sh extension, for syntax-checking
	LogTail        string
	LogSizeBytes   int64
}

// Verdict is the quality gate's pass/fail result with the specific reason,
// so the caller can log why a result was upgraded to needs-escalation.
type Verdict struct {
	Pass   bool
	Reason string
}

const (
	minDiffLines      = 3
	largeLogThreshold = 64 * 1024
	minSubstanceRatio = 0.05 // non-blank, non-log-noise fraction of a large log
)

// Check runs the quality gate a `complete` classification gets (spec.md
// §4.4): non-trivial diff size, no panic/fatal markers, shell-script
// syntax-check for changed files, and a minimum substance ratio for large
// logs.
func Check(stat DiffStat) Verdict {
	if stat.FilesChanged == 0 || stat.LinesChanged < minDiffLines {
		return Verdict{Pass: false, Reason: "diff too small to be a real change"}
	}
	if rePanicFatal.MatchString(stat.LogTail) {
		return Verdict{Pass: false, Reason: "panic or fatal marker found in log"}
	}
	for _, f := range stat.ShellFiles {
		if err := shellSyntaxCheck(f); err != nil {
			return Verdict{Pass: false, Reason: "shell syntax check failed for " + f + ": " + err.Error()}
		}
	}
	if stat.LogSizeBytes > largeLogThreshold {
		if substanceRatio(stat.LogTail) < minSubstanceRatio {
			return Verdict{Pass: false, Reason: "large log with insufficient substantive content"}
		}
	}
	return Verdict{Pass: true}
}

// GitDiffStat gathers the evidence Check needs from a completed task's
// worktree and log file: files/lines changed (via `git diff --shortstat`),
// which changed files are shell scripts, and the log's size and tail.
// Errors reading the worktree are swallowed into a zero DiffStat -- a
// worktree that's already been released reads as "nothing changed", which
// Check correctly treats as a gate failure rather than a crash.
func GitDiffStat(worktreePath, logPath string) DiffStat {
	var stat DiffStat
	if worktreePath == "" {
		return stat
	}

	if out, err := exec.Command("git", "-C", worktreePath, "diff", "--shortstat", "HEAD").Output(); err == nil {
		stat.FilesChanged, stat.LinesChanged = parseShortstat(string(out))
	}

	if out, err := exec.Command("git", "-C", worktreePath, "diff", "--name-only", "HEAD").Output(); err == nil {
		for _, f := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if f == "" {
				continue
			}
			if strings.HasSuffix(f, ".sh") {
				stat.ShellFiles = append(stat.ShellFiles, worktreePath+"/"+f)
			}
		}
	}

	if logPath != "" {
		if info, err := os.Stat(logPath); err == nil {
			stat.LogSizeBytes = info.Size()
			stat.LogTail = readTail(logPath, tailScanBytes)
		}
	}
	return stat
}

// parseShortstat extracts the file and line counts from a `git diff
// --shortstat` line, e.g. "2 files changed, 14 insertions(+), 3 deletions(-)".
func parseShortstat(s string) (files, lines int) {
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		parts := strings.SplitN(field, " ", 2)
		if len(parts) != 2 {
			continue
		}
		n, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		switch {
		case strings.Contains(parts[1], "file"):
			files = n
		case strings.Contains(parts[1], "insertion"), strings.Contains(parts[1], "deletion"):
			lines += n
		}
	}
	return files, lines
}

// readTail returns the last n bytes of path, or its full content if shorter.
func readTail(path string, n int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ""
	}
	size := info.Size()
	if size > n {
		if _, err := f.Seek(size-n, 0); err != nil {
			return ""
		}
	}
	buf := make([]byte, size)
	if size > n {
		buf = make([]byte, n)
	}
	read, _ := f.Read(buf)
	return string(buf[:read])
}

func shellSyntaxCheck(path string) error {
	cmd := exec.Command("bash", "-n", path)
	return cmd.Run()
}

// substanceRatio estimates the fraction of non-blank, non-repeating lines
// in text, a cheap proxy for "mostly heartbeat/noise" vs. real output.
func substanceRatio(text string) float64 {
	lines := strings.Split(text, "\n")
	if len(lines) == 0 {
		return 0
	}
	seen := map[string]bool{}
	substantive := 0
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "HEARTBEAT") {
			continue
		}
		if seen[l] {
			continue
		}
		seen[l] = true
		substantive++
	}
	return float64(substantive) / float64(len(lines))
}
