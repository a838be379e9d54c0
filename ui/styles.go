package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/dgnsrekt/readaloud/internal/queue"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#04B575"))
	faintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color("#FFFF00")).Padding(0, 1)
	selectStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EE6FF8"))
	segmentStyle = lipgloss.NewStyle().Italic(true).PaddingLeft(2)
)

func statusColor(s queue.Status) lipgloss.Color {
	switch s {
	case queue.StatusPlaying:
		return lipgloss.Color("#00FF00")
	case queue.StatusPaused:
		return lipgloss.Color("#FFFF00")
	case queue.StatusReady:
		return lipgloss.Color("#888888")
	case queue.StatusConverting, queue.StatusLoading, queue.StatusPending:
		return lipgloss.Color("#00AAFF")
	case queue.StatusPartial:
		return lipgloss.Color("#FF8800")
	case queue.StatusError:
		return lipgloss.Color("#FF0000")
	default:
		return lipgloss.Color("#666666")
	}
}

func statusIcon(s queue.Status) string {
	switch s {
	case queue.StatusPlaying:
		return "▶"
	case queue.StatusPaused:
		return "⏸"
	case queue.StatusReady:
		return "■"
	case queue.StatusConverting, queue.StatusLoading, queue.StatusPending:
		return "⟳"
	case queue.StatusPartial:
		return "◐"
	case queue.StatusError:
		return "✗"
	default:
		return "○"
	}
}

// StatusBadge renders an icon and status name in the status color.
func StatusBadge(s queue.Status) string {
	return lipgloss.NewStyle().Foreground(statusColor(s)).Render(statusIcon(s) + " " + string(s))
}
