// Package tui implements the terminal user interface using Bubbletea.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Jayphen/timestop/internal/task"
)

// Color palette
var (
	ColorCyan    = lipgloss.Color("86")
	ColorGreen   = lipgloss.Color("78")
	ColorYellow  = lipgloss.Color("221")
	ColorRed     = lipgloss.Color("196")
	ColorMagenta = lipgloss.Color("213")
	ColorBlue    = lipgloss.Color("111")
	ColorGray    = lipgloss.Color("245")
	ColorDimGray = lipgloss.Color("239")
)

// CategoryColors maps each category to its accent.
var CategoryColors = map[task.Category]lipgloss.Color{
	task.CategoryWork:       ColorCyan,
	task.CategoryMeeting:    ColorBlue,
	task.CategoryReading:    ColorMagenta,
	task.CategorySleep:      ColorDimGray,
	task.CategoryExercise:   ColorGreen,
	task.CategoryLeisure:    ColorYellow,
	task.CategoryReflection: ColorMagenta,
	task.CategoryLife:       ColorGreen,
}

// Common styles
var (
	// Title style
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorCyan)

	// Subtitle/dim text
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	// Selected item style
	SelectedStyle = lipgloss.NewStyle().
			Foreground(ColorCyan).
			Bold(true)

	// Dim text style
	DimStyle = lipgloss.NewStyle().
			Foreground(ColorDimGray)

	// Bold text
	BoldStyle = lipgloss.NewStyle().Bold(true)

	// Border box style
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray).
			Padding(1, 2)

	// Countdown digits
	ClockStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorGreen)

	// Help key style
	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	// Help text style
	HelpTextStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	// Error style
	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	// Status message style
	StatusMsgStyle = lipgloss.NewStyle().
			Foreground(ColorCyan)

	// Warning style
	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorYellow)

	// Success style
	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorGreen)
)

// Indicators
const (
	IndicatorRecording = "●"
	IndicatorPlaying   = "▶"
	IndicatorSpeaking  = "♪"
	IndicatorCompleted = "✓"
	IndicatorStopped   = "■"
	IndicatorSelected  = "❯"
	IndicatorInk       = "•"
)

// Progress bar characters
const (
	ProgressFilled = "█"
	ProgressEmpty  = "░"
)

// RenderProgressBar renders a progress bar for the given percentage.
func RenderProgressBar(percent float64, width int) string {
	if width <= 0 {
		width = 20
	}
	filled := int((percent / 100) * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat(ProgressFilled, filled) + strings.Repeat(ProgressEmpty, width-filled)
}

// CategoryStyle returns the style for a category.
func CategoryStyle(c task.Category) lipgloss.Style {
	color, ok := CategoryColors[c]
	if !ok {
		color = ColorGray
	}
	return lipgloss.NewStyle().Foreground(color)
}

// scoreStyle colors a score by band.
func scoreStyle(total int) lipgloss.Style {
	switch {
	case total >= 80:
		return SuccessStyle
	case total >= 50:
		return WarningStyle
	default:
		return ErrorStyle
	}
}
