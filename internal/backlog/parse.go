// Package backlog parses and synchronizes the Markdown backlog file
// (spec.md §6): task lines of the form
// "- [ ] <id> <title> … #tag … key:value … — notes", mirrored into the
// SQLite store. The core only ever reads the backlog through this
// package's narrow interface; worker processes never touch it directly.
package backlog

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Line is one parsed backlog task line.
type Line struct {
	ID        string
	Title     string
	Checked   bool
	Assignee  string
	Started   time.Time
	BlockedBy []string
	Model     string
	Estimate  time.Duration
	PR        string
	ExternalIssue string
	Tags      []string
	Proposed  bool
	ProposedModel string
	Notes     string
	Raw       string
}

var (
	reTaskLine   = regexp.MustCompile(`^-\s*\[( |x|X)\]\s*(\S+)\s+(.*)$`)
	reField      = regexp.MustCompile(`(\w[\w-]*):(\S+)`)
	reTag        = regexp.MustCompile(`#([a-zA-Z_-]+)`)
	reEstimate   = regexp.MustCompile(`~(\d+h)?(\d+m)?`)
	reProposed   = regexp.MustCompile(`\[proposed:auto-dispatch model:(\S+)\]`)
	reNotesSplit = regexp.MustCompile(`\s+—\s+`)
)

var whenParser *when.Parser

func init() {
	whenParser = when.New(nil)
	whenParser.Add(en.All...)
	whenParser.Add(common.All...)
}

// ParseLine parses one backlog task line. ok is false if raw is not a task
// line (e.g. a heading or blank line).
func ParseLine(raw string) (Line, bool) {
	m := reTaskLine.FindStringSubmatch(raw)
	if m == nil {
		return Line{}, false
	}
	l := Line{
		Raw:     raw,
		Checked: strings.EqualFold(m[1], "x"),
		ID:      m[2],
	}
	rest := m[3]

	if parts := reNotesSplit.Split(rest, 2); len(parts) == 2 {
		rest = parts[0]
		l.Notes = strings.TrimSpace(parts[1])
	}

	if pm := reProposed.FindStringSubmatch(rest); pm != nil {
		l.Proposed = true
		l.ProposedModel = pm[1]
		rest = reProposed.ReplaceAllString(rest, "")
	}

	for _, tm := range reTag.FindAllStringSubmatch(rest, -1) {
		l.Tags = append(l.Tags, "#"+tm[1])
	}
	rest = reTag.ReplaceAllString(rest, "")

	if em := reEstimate.FindStringSubmatch(rest); em != nil && (em[1] != "" || em[2] != "") {
		l.Estimate = parseEstimate(em[1], em[2])
		rest = reEstimate.ReplaceAllString(rest, "")
	}

	for _, fm := range reField.FindAllStringSubmatch(rest, -1) {
		key, val := fm[1], fm[2]
		switch key {
		case "assignee":
			l.Assignee = val
		case "started":
			if t, err := parseTimestamp(val); err == nil {
				l.Started = t
			}
		case "blocked-by":
			l.BlockedBy = strings.Split(val, ",")
		case "model":
			l.Model = val
		case "pr":
			l.PR = val
		case "ref":
			l.ExternalIssue = val
		}
	}
	rest = reField.ReplaceAllString(rest, "")
	l.Title = strings.TrimSpace(rest)
	return l, true
}

func parseEstimate(hoursPart, minsPart string) time.Duration {
	var d time.Duration
	if hoursPart != "" {
		var h int
		fmt.Sscanf(hoursPart, "%dh", &h)
		d += time.Duration(h) * time.Hour
	}
	if minsPart != "" {
		var m int
		fmt.Sscanf(minsPart, "%dm", &m)
		d += time.Duration(m) * time.Minute
	}
	return d
}

// parseTimestamp accepts ISO8601 first, falling back to olebedev/when's
// natural-language parser for free-text claim timestamps a human edited by
// hand (e.g. "started:2 hours ago").
func parseTimestamp(val string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t, nil
	}
	r, err := whenParser.Parse(strings.ReplaceAll(val, "_", " "), time.Now())
	if err != nil {
		return time.Time{}, err
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not parse timestamp %q", val)
	}
	return r.Time, nil
}

// ParseFile reads every task line from a backlog file.
func ParseFile(path string) ([]Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening backlog %s: %w", path, err)
	}
	defer f.Close()

	var lines []Line
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if l, ok := ParseLine(scanner.Text()); ok {
			lines = append(lines, l)
		}
	}
	return lines, scanner.Err()
}
