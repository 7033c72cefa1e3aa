// Package theme provides the Lip Gloss color palette and reusable styles
// for the trainwatch TUI and line output. It is a leaf package with no
// internal imports to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Log level colors.
var (
	ColorInfo    = lipgloss.Color("#9ca3af")
	ColorWarning = lipgloss.Color("#d97706")
	ColorError   = lipgloss.Color("#dc2626")
	ColorSuccess = lipgloss.Color("#16a34a")
	ColorEpoch   = lipgloss.Color("#06b6d4")
)

// Connection state colors.
var (
	ColorIdle         = lipgloss.Color("#4b5563")
	ColorConnecting   = lipgloss.Color("#7c3aed")
	ColorActive       = lipgloss.Color("#22c55e")
	ColorReconnecting = lipgloss.Color("#d97706")
	ColorCompleted    = lipgloss.Color("#16a34a")
	ColorClosed       = lipgloss.Color("#3b82f6")
	ColorFailed       = lipgloss.Color("#dc2626")
	ColorDefault      = lipgloss.Color("#9ca3af")
)

// Loss series colors.
var (
	ColorTrainLoss = lipgloss.Color("#a855f7")
	ColorValLoss   = lipgloss.Color("#f59e0b")
)

// UI chrome colors.
var (
	ColorBorder = lipgloss.Color("#4b5563")
	ColorDimmed = lipgloss.Color("#6b7280")
	ColorBright = lipgloss.Color("#f9fafb")
	ColorBg     = lipgloss.Color("#111827")
)

// LevelColor returns the Lip Gloss color for a log level.
func LevelColor(level string) lipgloss.Color {
	switch level {
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	case "success":
		return ColorSuccess
	default:
		return ColorInfo
	}
}

// StateColor returns the Lip Gloss color for a monitor state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "idle":
		return ColorIdle
	case "connecting":
		return ColorConnecting
	case "active":
		return ColorActive
	case "reconnecting":
		return ColorReconnecting
	case "completed":
		return ColorCompleted
	case "closed":
		return ColorClosed
	case "failed":
		return ColorFailed
	default:
		return ColorDefault
	}
}

// StateGlyph returns a Unicode glyph representing a monitor state.
func StateGlyph(state string) string {
	switch state {
	case "idle":
		return "○"
	case "connecting":
		return "◎"
	case "active":
		return "●"
	case "reconnecting":
		return "◌"
	case "completed":
		return "✓"
	case "closed":
		return "■"
	case "failed":
		return "✗"
	default:
		return "·"
	}
}

// LevelTag returns the short tag printed in front of a log line.
func LevelTag(level string) string {
	switch level {
	case "warning":
		return "WARN"
	case "error":
		return "ERR"
	case "success":
		return "OK"
	default:
		return "INFO"
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleEpoch = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorEpoch)
)
