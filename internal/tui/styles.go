package tui

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	bodyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	cursorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	activeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4CAF50"))
	warningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7B801"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
)

// statusStyles colours attendance statuses in lists.
var statusStyles = map[string]lipgloss.Style{
	"出席": lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")),
	"遅刻": lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")),
	"早退": lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")),
	"欠席": lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
	"公欠": lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")),
}

func renderStatus(status string) string {
	if style, ok := statusStyles[status]; ok {
		return style.Render(status)
	}
	return mutedStyle.Render(status)
}

func cursorMark(selected bool) string {
	if selected {
		return cursorStyle.Render("▸ ")
	}
	return "  "
}
