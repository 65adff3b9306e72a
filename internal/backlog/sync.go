package backlog

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pulseforge/supervisor/internal/store"
	"github.com/pulseforge/supervisor/internal/types"
)

// Sync mirrors a Markdown backlog file into the store, and serves as both
// the pulse.Reconciler and sanity.Backlog implementation the core consumes.
// It re-reads the file on every call -- the file is small and this keeps
// the core decoupled from any particular watch mechanism.
type Sync struct {
	Path  string
	Repo  string
	Store store.Store
}

func New(path, repo string, st store.Store) *Sync {
	return &Sync{Path: path, Repo: repo, Store: st}
}

// Reconcile mirrors every backlog line into the DB: new lines become
// queued tasks, existing tasks pick up assignee/blocked-by/model/PR/tag
// changes (spec.md §4.9 step 1).
func (s *Sync) Reconcile(ctx context.Context) error {
	lines, err := ParseFile(s.Path)
	if err != nil {
		return err
	}
	for _, l := range lines {
		existing, err := s.Store.GetTask(ctx, l.ID)
		if err != nil {
			t := &types.Task{
				ID:            l.ID,
				Repo:          s.Repo,
				Description:   l.Title,
				Status:        types.StateQueued,
				RequestedTier: types.ModelTier(l.Model),
				Assignee:      l.Assignee,
				ClaimedAt:     l.Started,
				BlockedBy:     l.BlockedBy,
				Tags:          l.Tags,
				ExternalIssue: l.ExternalIssue,
				MaxRetries:    3,
				MaxEscalation: 2,
			}
			if l.PR != "" {
				t.PRURL = l.PR
			}
			if err := s.Store.CreateTask(ctx, t); err != nil {
				return fmt.Errorf("creating task %s from backlog: %w", l.ID, err)
			}
			continue
		}
		existing.Description = l.Title
		existing.Assignee = l.Assignee
		existing.ClaimedAt = l.Started
		existing.BlockedBy = l.BlockedBy
		existing.Tags = l.Tags
		if l.Model != "" {
			existing.RequestedTier = types.ModelTier(l.Model)
		}
		if l.ExternalIssue != "" {
			existing.ExternalIssue = l.ExternalIssue
		}
		if l.PR != "" {
			existing.PRURL = l.PR
		}
		if err := s.Store.UpdateTask(ctx, existing); err != nil {
			return fmt.Errorf("updating task %s from backlog: %w", l.ID, err)
		}
	}
	return nil
}

// DetectCompletedWorkers returns running tasks whose wrapper process has
// exited, detected by an EXIT: sentinel present in the task's log.
func (s *Sync) DetectCompletedWorkers(ctx context.Context) ([]*types.Task, error) {
	running, err := s.Store.ListTasks(ctx, store.TaskFilter{Status: types.StateRunning})
	if err != nil {
		return nil, err
	}
	var out []*types.Task
	for _, t := range running {
		if t.LogPath == "" {
			continue
		}
		if logHasExitSentinel(t.LogPath) {
			out = append(out, t)
		}
	}
	return out, nil
}

func logHasExitSentinel(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "EXIT:") {
			return true
		}
	}
	return false
}

// HasClaim implements sanity.Backlog.
func (s *Sync) HasClaim(taskID string) (assignee string, hasClaim bool) {
	lines, err := ParseFile(s.Path)
	if err != nil {
		return "", false
	}
	for _, l := range lines {
		if l.ID == taskID {
			return l.Assignee, l.Assignee != ""
		}
	}
	return "", false
}

// StripClaim removes assignee/started fields from taskID's line.
func (s *Sync) StripClaim(taskID string) error {
	return s.rewriteLine(taskID, func(l *Line) {
		l.Assignee = ""
		l.Started = time.Time{}
	})
}

// BlockedBy implements sanity.Backlog.
func (s *Sync) BlockedBy(taskID string) []string {
	lines, err := ParseFile(s.Path)
	if err != nil {
		return nil
	}
	for _, l := range lines {
		if l.ID == taskID {
			return l.BlockedBy
		}
	}
	return nil
}

// RemoveBlocker edits blockerID out of taskID's blocked-by field.
func (s *Sync) RemoveBlocker(taskID, blockerID string) error {
	return s.rewriteLine(taskID, func(l *Line) {
		var kept []string
		for _, b := range l.BlockedBy {
			if b != blockerID {
				kept = append(kept, b)
			}
		}
		l.BlockedBy = kept
	})
}

// IsDispatchable implements sanity.Backlog's check-3 predicate.
func (s *Sync) IsDispatchable(taskID string) (modelAssigned, hasEstimate, isPlanOrInvestigation bool) {
	lines, err := ParseFile(s.Path)
	if err != nil {
		return false, false, false
	}
	for _, l := range lines {
		if l.ID != taskID {
			continue
		}
		modelAssigned = l.Model != ""
		hasEstimate = l.Estimate > 0
		for _, tag := range l.Tags {
			if tag == "#plan" || tag == "#investigation" {
				isPlanOrInvestigation = true
			}
		}
		return
	}
	return false, false, false
}

// HasTag implements sanity.Backlog.
func (s *Sync) HasTag(taskID, tag string) bool {
	lines, err := ParseFile(s.Path)
	if err != nil {
		return false
	}
	for _, l := range lines {
		if l.ID == taskID {
			for _, t := range l.Tags {
				if t == tag {
					return true
				}
			}
		}
	}
	return false
}

// AddTag appends tag to taskID's line.
func (s *Sync) AddTag(taskID, tag string) error {
	return s.rewriteLine(taskID, func(l *Line) {
		l.Tags = append(l.Tags, tag)
	})
}

// HasLine implements sanity.Backlog.
func (s *Sync) HasLine(taskID string) bool {
	lines, err := ParseFile(s.Path)
	if err != nil {
		return false
	}
	for _, l := range lines {
		if l.ID == taskID {
			return true
		}
	}
	return false
}

// rewriteLine loads the file, applies edit to the matching line, and
// rewrites it in place. The backlog file is small enough that a full
// rewrite on each edit is simpler and safer than in-place byte surgery.
func (s *Sync) rewriteLine(taskID string, edit func(*Line)) error {
	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("opening backlog %s: %w", s.Path, err)
	}
	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Text()
		if l, ok := ParseLine(raw); ok && l.ID == taskID {
			edit(&l)
			out = append(out, render(l))
			continue
		}
		out = append(out, raw)
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(out, "\n")+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing backlog temp file: %w", err)
	}
	return os.Rename(tmp, s.Path)
}

func render(l Line) string {
	checkbox := " "
	if l.Checked {
		checkbox = "x"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "- [%s] %s %s", checkbox, l.ID, l.Title)
	for _, tag := range l.Tags {
		fmt.Fprintf(&sb, " %s", tag)
	}
	if l.Estimate > 0 {
		h := int(l.Estimate / time.Hour)
		m := int((l.Estimate % time.Hour) / time.Minute)
		sb.WriteString(" ~")
		if h > 0 {
			fmt.Fprintf(&sb, "%dh", h)
		}
		if m > 0 || h == 0 {
			fmt.Fprintf(&sb, "%dm", m)
		}
	}
	if l.Proposed {
		fmt.Fprintf(&sb, " [proposed:auto-dispatch model:%s]", l.ProposedModel)
	}
	if l.Assignee != "" {
		fmt.Fprintf(&sb, " assignee:%s", l.Assignee)
	}
	if !l.Started.IsZero() {
		fmt.Fprintf(&sb, " started:%s", l.Started.UTC().Format(time.RFC3339))
	}
	if len(l.BlockedBy) > 0 {
		fmt.Fprintf(&sb, " blocked-by:%s", strings.Join(l.BlockedBy, ","))
	}
	if l.Model != "" {
		fmt.Fprintf(&sb, " model:%s", l.Model)
	}
	if l.PR != "" {
		fmt.Fprintf(&sb, " pr:%s", l.PR)
	}
	if l.ExternalIssue != "" {
		fmt.Fprintf(&sb, " ref:%s", l.ExternalIssue)
	}
	if l.Notes != "" {
		fmt.Fprintf(&sb, " — %s", l.Notes)
	}
	return sb.String()
}
