// Package theme holds the terminal styles used by the command line client.
package theme

import "github.com/charmbracelet/lipgloss"

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for the title line of a report.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// SectionStyle introduces a block of a report.
var SectionStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue).
	MarginTop(1)

// DimmedStyle is used for secondary text.
var DimmedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// TableHeaderStyle styles table header cells.
var TableHeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue).
	Padding(0, 1)

// TableCellStyle styles table body cells.
var TableCellStyle = lipgloss.NewStyle().
	Padding(0, 1)

// BorderStyle is the border color for tables.
var BorderStyle = lipgloss.NewStyle().
	Foreground(ColorBorder)

// StatusStyle returns a color-coded style for a channel or inference status.
func StatusStyle(status string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch status {
	case "ok", "running", "online":
		return base.Foreground(ColorGreen)
	case "polling", "unknown":
		return base.Foreground(ColorYellow)
	case "error", "offline":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGray)
	}
}

// OutcomeStyle returns a color-coded style for an activity outcome.
func OutcomeStyle(status string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch status {
	case "replied":
		return base.Foreground(ColorGreen)
	case "draft":
		return base.Foreground(ColorBlue)
	case "skipped":
		return base.Foreground(ColorGray)
	case "failed":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorMagenta)
	}
}

// Toggle renders a boolean as on/off.
func Toggle(on bool) string {
	if on {
		return lipgloss.NewStyle().Foreground(ColorGreen).Render("on")
	}
	return DimmedStyle.Render("off")
}
