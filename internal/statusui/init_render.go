package statusui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/list"
	"github.com/charmbracelet/lipgloss/table"
)

// InitResult aggregates everything the init wizard produced, for the final
// report printed after the huh.Form completes.
type InitResult struct {
	PulseDir    string
	BacklogPath string
	BreakerPath string

	ConcurrencyBase int
	ConcurrencyHard int // 0 => runtime.NumCPU()
	DefaultTier     string
	BreakerThreshold int
	BreakerCooldown  string

	TemplatesInstalled []string // template IDs loaded from built-in + project catalogs
	CronInstalled      bool
	CronSchedule       string

	DoctorIssues []string

	QuickstartCommands []string
}

// RenderInitReport renders the post-wizard summary for `supervisor init`.
func RenderInitReport(res InitResult, width int) string {
	var sections []string

	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPass).
		Render("✓ supervisor initialized")
	sections = append(sections, header, "")

	detailsRows := [][]string{
		{"Pulse dir", res.PulseDir},
		{"Backlog", res.BacklogPath},
		{"Breaker state", res.BreakerPath},
		{"Concurrency", fmt.Sprintf("base %d / hard-cap %s", res.ConcurrencyBase, hardCapLabel(res.ConcurrencyHard))},
		{"Default model tier", res.DefaultTier},
		{"Circuit breaker", fmt.Sprintf("threshold %d, cooldown %s", res.BreakerThreshold, res.BreakerCooldown)},
	}

	summaryTable := table.New().
		Headers("Setting", "Value").
		Rows(detailsRows...).
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorMuted)).
		Width(width).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				if col == 0 {
					return TableHeaderStyle.Width(20)
				}
				return TableHeaderStyle.Width(width - 20 - 3)
			}
			style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
			if col == 0 {
				style = style.Bold(true).Foreground(ColorAccent)
			}
			return style
		})
	sections = append(sections, summaryTable.String(), "")

	checkList := func() *list.List {
		return list.New().
			Enumerator(func(_ list.Items, i int) string { return RenderPass("✓") }).
			EnumeratorStyle(lipgloss.NewStyle().MarginRight(1))
	}

	if len(res.TemplatesInstalled) > 0 {
		lTemplates := checkList()
		lTemplates.Item("Task templates: " + strings.Join(res.TemplatesInstalled, ", "))
		sections = append(sections, lTemplates.String())
	}

	if res.CronInstalled {
		lCron := checkList()
		lCron.Item(fmt.Sprintf("Scheduler cron installed (%s)", res.CronSchedule))
		sections = append(sections, lCron.String())
	}

	sections = append(sections, "")

	if len(res.DoctorIssues) > 0 {
		warnRows := [][]string{}
		for _, issue := range res.DoctorIssues {
			warnRows = append(warnRows, []string{"⚠", issue})
		}

		diagTable := table.New().
			Headers("!", "Setup warnings").
			Rows(warnRows...).
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(ColorWarn)).
			Width(width).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					if col == 0 {
						return TableHeaderStyle.Width(3).Foreground(ColorWarn)
					}
					return TableHeaderStyle.Width(width - 3 - 3).Foreground(ColorWarn)
				}
				style := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Left)
				if col == 0 {
					style = style.Foreground(ColorWarn).Bold(true)
				}
				return style
			})
		sections = append(sections, diagTable.String(), "")
	}

	if len(res.QuickstartCommands) > 0 {
		sections = append(sections, lipgloss.NewStyle().Bold(true).Render("Next steps:"))
		for _, cmd := range res.QuickstartCommands {
			sections = append(sections, "  "+lipgloss.NewStyle().Foreground(ColorAccent).Render(cmd))
		}
		sections = append(sections, "")
	}

	nextStep := lipgloss.NewStyle().Foreground(ColorAccent).Bold(true).Render("supervisor watch")
	sections = append(sections, fmt.Sprintf("Start the pulse loop with %s.", nextStep))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func hardCapLabel(n int) string {
	if n <= 0 {
		return "auto (NumCPU)"
	}
	return fmt.Sprintf("%d", n)
}
