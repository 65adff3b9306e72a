package statusui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/pulseforge/supervisor/internal/utils"
)

var (
	lookupBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1).
			Margin(1, 0)

	lookupTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorAccent)

	lookupContextStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(ColorMuted).
				Padding(0, 0).
				MarginTop(0)

	lookupSuggestionStyle = lipgloss.NewStyle().
				Foreground(ColorPass).
				Bold(true)
)

// TaskRow is one row of a `list`/`status` rendering.
type TaskRow struct {
	ID          string
	Description string
	Status      string
	Model       string
}

// RenderTaskTable renders a set of tasks as a bordered table, for `list`.
func RenderTaskTable(rows []TaskRow, width int) string {
	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		desc := r.Description
		maxDescWidth := width - 32
		if maxDescWidth < 10 {
			maxDescWidth = 10
		}
		if len(desc) > maxDescWidth {
			desc = desc[:maxDescWidth-3] + "..."
		}
		data = append(data, []string{r.ID, r.Status, r.Model, desc})
	}

	return NewReportTable(width).
		Headers("ID", "Status", "Model", "Description").
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		String()
}

// TaskLookupViewModel holds data for reporting a task ID that didn't resolve
// (status/worker-status/reprompt/self-heal invoked on an unknown ID).
type TaskLookupViewModel struct {
	Query          string
	TypoCorrection string // nearest known task ID, if one is close enough
	TypoDistance   int
	Suggestions    []string // other candidate IDs, when no single correction stands out
	NoMatch        bool
}

// NearestTaskID returns the known ID closest to query by Levenshtein distance,
// and whether it's close enough (distance <= 2, or a fuzzy subsequence match)
// to suggest as a likely typo.
func NearestTaskID(query string, known []string) (id string, distance int, ok bool) {
	best := ""
	bestDist := -1
	for _, k := range known {
		d := utils.ComputeDistance(query, k)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = k
		}
	}
	if bestDist == -1 {
		return "", 0, false
	}
	if bestDist <= 2 || utils.FuzzyMatch(query, best) {
		return best, bestDist, true
	}
	return best, bestDist, false
}

// RenderTaskLookupBox renders a "task not found" box with a typo correction
// or fuzzy suggestions, for `status <id>`/`worker-status <id>` on a miss.
func RenderTaskLookupBox(vm TaskLookupViewModel) string {
	var sections []string

	header := fmt.Sprintf("task %q not found", vm.Query)
	sections = append(sections, lookupTitleStyle.Render(header))

	var contextLines []string
	if vm.TypoCorrection != "" {
		contextLines = append(contextLines, fmt.Sprintf("did you mean: %s", lookupSuggestionStyle.Render(vm.TypoCorrection)))
	} else if len(vm.Suggestions) > 0 {
		contextLines = append(contextLines, "try one of these:")
		for _, s := range vm.Suggestions {
			contextLines = append(contextLines, fmt.Sprintf("  - %s", s))
		}
	} else {
		contextLines = append(contextLines, "no similar task IDs found")
	}

	sections = append(sections, lookupContextStyle.Render(strings.Join(contextLines, "\n")))

	return lookupBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}
