package statusui

import "github.com/charmbracelet/lipgloss"

// Shared palette used across every rendered report (status, list, init).
var (
	ColorAccent = lipgloss.Color("39")  // cyan-ish, headers and emphasis
	ColorPass   = lipgloss.Color("42")  // green, success states
	ColorWarn   = lipgloss.Color("214") // amber, degraded/defer states
	ColorFail   = lipgloss.Color("196") // red, failed/blocked states
	ColorMuted  = lipgloss.Color("240") // gray, borders and hints
)

// RenderPass renders s in the success color.
func RenderPass(s string) string {
	return lipgloss.NewStyle().Foreground(ColorPass).Render(s)
}

// RenderWarn renders s in the warning color.
func RenderWarn(s string) string {
	return lipgloss.NewStyle().Foreground(ColorWarn).Render(s)
}

// RenderFail renders s in the failure color.
func RenderFail(s string) string {
	return lipgloss.NewStyle().Foreground(ColorFail).Render(s)
}
