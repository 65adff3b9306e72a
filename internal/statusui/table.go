package statusui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table styles shared by the status/list/init reports.
var (
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorAccent).
				Align(lipgloss.Center)

	TableWarningStyle = lipgloss.NewStyle().
				Foreground(ColorWarn)

	TableSuccessStyle = lipgloss.NewStyle().
				Foreground(ColorPass)

	TableHintStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	TableBorderStyle = lipgloss.NewStyle().
				Foreground(ColorMuted)
)

// NewReportTable creates a table with the default report styling.
func NewReportTable(width int) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(TableBorderStyle).
		Width(width)
}
