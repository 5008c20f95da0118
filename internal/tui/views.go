package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/Jayphen/timestop/internal/task"
	"github.com/Jayphen/timestop/internal/verify"
)

// Canvas dimensions in cells.
const (
	canvasWidth  = 48
	canvasHeight = 12
)

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	switch m.phase {
	case phaseSetup:
		b.WriteString(m.renderSetup())
	case phaseRunning:
		b.WriteString(m.renderRunning())
	case phaseVerifying:
		b.WriteString(m.renderVerifying())
	case phaseScored:
		b.WriteString(m.renderScore())
	case phaseDone:
		b.WriteString(m.renderSummary())
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render("Error: " + m.err.Error()))
	}

	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())

	return lipgloss.NewStyle().Padding(1).Render(b.String())
}

// renderHeader renders the application header.
func (m Model) renderHeader() string {
	title := TitleStyle.Render("TimeStop")
	version := ""
	if m.version != "" {
		version = " " + SubtitleStyle.Render("v"+m.version)
	}
	subtitle := SubtitleStyle.Render("Focus until the clock says stop")

	return title + version + "\n" + subtitle
}

// renderSetup renders the new task form.
func (m Model) renderSetup() string {
	var b strings.Builder

	var cats []string
	for i, c := range task.Categories {
		if i == m.categoryIdx {
			cats = append(cats, SelectedStyle.Render(IndicatorSelected+string(c)))
		} else {
			cats = append(cats, DimStyle.Render(" "+string(c)))
		}
	}

	b.WriteString(TitleStyle.Render("New task"))
	b.WriteString("\n\n")
	b.WriteString(m.renderDetailRow("Category", strings.Join(cats, " ")))
	b.WriteString(m.renderDetailRow("Minutes", BoldStyle.Render(fmt.Sprintf("%d", m.minutes))))
	b.WriteString(m.renderDetailRow("Stop check", methodLabel(m.method)))
	b.WriteString(m.renderDetailRow("Note", m.noteInput.View()))

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorCyan).
		Padding(1, 2)
	return style.Render(strings.TrimRight(b.String(), "\n"))
}

// renderRunning renders the countdown.
func (m Model) renderRunning() string {
	snap, ok := m.ctrl.ActiveTask()
	if !ok {
		return m.spinner.View() + " Starting..."
	}

	remaining := m.ctrl.Remaining()
	total := snap.CurrentMinutes * 60
	percent := 0.0
	if total > 0 {
		percent = float64(total-remaining) / float64(total) * 100
	}

	var b strings.Builder
	b.WriteString(CategoryStyle(snap.Category).Bold(true).Render(string(snap.Category)))
	if snap.Note != "" {
		b.WriteString(DimStyle.Render("  " + snap.Note))
	}
	b.WriteString("\n\n")
	b.WriteString(ClockStyle.Render(formatClock(remaining)))
	b.WriteString("  ")
	b.WriteString(SubtitleStyle.Render(RenderProgressBar(percent, 30)))
	b.WriteString("\n\n")
	b.WriteString(m.renderDetailRow("Planned", fmt.Sprintf("%d min", snap.PlannedMinutes)))
	b.WriteString(m.renderDetailRow("Current", fmt.Sprintf("%d min", snap.CurrentMinutes)))
	if len(snap.Adjustments) > 0 {
		b.WriteString(m.renderDetailRow("Adjusted", formatAdjustments(snap.Adjustments)))
	}
	b.WriteString(m.renderDetailRow("Stop check", methodLabel(snap.Method)))

	return BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// renderVerifying renders the stop-verification challenge.
func (m Model) renderVerifying() string {
	if m.busy && m.handle.ID == "" {
		return m.spinner.View() + " Preparing the stop check..."
	}

	var b strings.Builder
	b.WriteString(WarningStyle.Bold(true).Render("Time's up. Prove you're stopping."))
	b.WriteString("\n")
	b.WriteString(SubtitleStyle.Render("Check: " + methodLabel(m.handle.Method)))
	b.WriteString("\n\n")

	if m.denied {
		b.WriteString(ErrorStyle.Render("Microphone access is denied."))
		b.WriteString("\n")
		b.WriteString(DimStyle.Render("Grant access and retry, or abandon the task."))
		return BoxStyle.BorderForeground(ColorRed).Render(b.String())
	}

	switch m.handle.Method {
	case task.MethodDrawing:
		b.WriteString(DimStyle.Render("Draw anything with the mouse."))
		b.WriteString("\n")
		b.WriteString(renderCanvas(m.strokes, canvasWidth, canvasHeight))
	case task.MethodVocal:
		b.WriteString(DimStyle.Render("Sing or hum for a few seconds, then submit."))
		b.WriteString("\n")
		b.WriteString(m.renderResource())
	case task.MethodReadAloud:
		b.WriteString(DimStyle.Render("Read this aloud:"))
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Width(60).Italic(true).Render(m.handle.Passage))
		b.WriteString("\n\n")
		b.WriteString(m.transcriptInput.View())
		b.WriteString("\n")
		b.WriteString(m.renderResource())
	}

	b.WriteString("\n\n")
	b.WriteString(m.renderGate())
	return BoxStyle.BorderForeground(ColorYellow).Render(b.String())
}

// renderResource shows which audio device is in use.
func (m Model) renderResource() string {
	switch m.verify.Held() {
	case verify.ResourceCapture:
		return ErrorStyle.Render(IndicatorRecording + " recording")
	case verify.ResourcePlayback:
		return SuccessStyle.Render(IndicatorPlaying + " playing back")
	case verify.ResourceSynthesis:
		return StatusMsgStyle.Render(IndicatorSpeaking + " speaking")
	default:
		return DimStyle.Render(IndicatorStopped + " idle")
	}
}

// renderGate shows the warm-up countdown or the finish prompt.
func (m Model) renderGate() string {
	if m.busy {
		return m.spinner.View() + " Scoring..."
	}
	if left := m.verify.WarmupRemaining(); left > 0 {
		secs := int((left + time.Second - 1) / time.Second)
		return DimStyle.Render(fmt.Sprintf("Finish unlocks in %ds", secs))
	}
	if m.verify.FinishEnabled() || m.readAloudWithTranscript() {
		return SuccessStyle.Render("Ready: press enter to submit")
	}
	return DimStyle.Render("Waiting for input")
}

// renderScore renders the scored verification.
func (m Model) renderScore() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Stop check scored"))
	b.WriteString("\n\n")
	b.WriteString(scoreStyle(m.score.Total).Bold(true).Render(fmt.Sprintf("%d / 100", m.score.Total)))
	b.WriteString("\n\n")

	keys := make([]string, 0, len(m.score.Breakdown))
	for k := range m.score.Breakdown {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(m.renderDetailRow(k, fmt.Sprintf("%d", m.score.Breakdown[k])))
	}

	return BoxStyle.BorderForeground(ColorGreen).Render(strings.TrimRight(b.String(), "\n"))
}

// renderSummary renders the finished task and today's history.
func (m Model) renderSummary() string {
	var b strings.Builder

	if s := m.summary; s != nil {
		status := SuccessStyle.Render(IndicatorCompleted + " completed")
		if s.Terminated {
			status = WarningStyle.Render(IndicatorStopped + " terminated early")
		}
		b.WriteString(status)
		b.WriteString("\n\n")
		b.WriteString(m.renderDetailRow("Category", string(s.Category)))
		b.WriteString(m.renderDetailRow("Focused", formatClock(s.ElapsedSeconds)))
		b.WriteString(m.renderDetailRow("Planned", fmt.Sprintf("%d min", s.PlannedMinutes)))
		if s.AdjustmentTotal() != 0 {
			b.WriteString(m.renderDetailRow("Adjusted", fmt.Sprintf("%+d min", s.AdjustmentTotal())))
		}
		if s.Score != nil {
			b.WriteString(m.renderDetailRow("Score", scoreStyle(s.Score.Total).Render(fmt.Sprintf("%d", s.Score.Total))))
		}
		b.WriteString("\n")
	}

	now := time.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	b.WriteString(SubtitleStyle.Render("Today"))
	b.WriteString("\n")
	b.WriteString(RenderHistory(m.ctrl.History(start, time.Time{}), m.contentWidth()))

	return BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) contentWidth() int {
	if m.width <= 0 {
		return 80
	}
	// box border, box padding, outer padding
	w := m.width - 8
	if w < 40 {
		w = 40
	}
	return w
}

// RenderHistory renders completed tasks as a table, newest last.
func RenderHistory(rows []task.Snapshot, width int) string {
	if len(rows) == 0 {
		return DimStyle.Render("No completed tasks")
	}

	const fixed = 6 + 12 + 10 + 9 + 7
	noteWidth := width - fixed
	if noteWidth < 8 {
		noteWidth = 8
	}

	var b strings.Builder
	b.WriteString(DimStyle.Render(padRight("TIME", 6) + padRight("CATEGORY", 12) + padRight("MINUTES", 10) +
		padRight("FOCUSED", 9) + padRight("SCORE", 7) + "NOTE"))
	for _, s := range rows {
		b.WriteString("\n")
		b.WriteString(renderHistoryRow(s, noteWidth))
	}
	return b.String()
}

func renderHistoryRow(s task.Snapshot, noteWidth int) string {
	at := s.CreatedAt
	if s.CompletedAt != nil {
		at = *s.CompletedAt
	}

	minutes := fmt.Sprintf("%d", s.CurrentMinutes)
	if s.CurrentMinutes != s.PlannedMinutes {
		minutes = fmt.Sprintf("%d→%d", s.PlannedMinutes, s.CurrentMinutes)
	}

	score := DimStyle.Render("-")
	switch {
	case s.Score != nil:
		score = scoreStyle(s.Score.Total).Render(fmt.Sprintf("%d", s.Score.Total))
	case s.Terminated:
		score = WarningStyle.Render(IndicatorStopped)
	}

	return padRight(at.Local().Format("15:04"), 6) +
		padRight(CategoryStyle(s.Category).Render(string(s.Category)), 12) +
		padRight(minutes, 10) +
		padRight(formatClock(s.ElapsedSeconds), 9) +
		padRight(score, 7) +
		ansi.Truncate(s.Note, noteWidth, "…")
}

// renderCanvas draws strokes scaled into a width by height grid.
func renderCanvas(strokes []verify.Stroke, width, height int) string {
	grid := make([][]bool, height)
	for i := range grid {
		grid[i] = make([]bool, width)
	}

	minX, minY, maxX, maxY, ok := bounds(strokes)
	if ok {
		spanX := maxX - minX
		spanY := maxY - minY
		for _, s := range strokes {
			for _, p := range s.Points {
				x, y := 0, 0
				if spanX > 0 {
					x = (p.X - minX) * (width - 1) / spanX
				}
				if spanY > 0 {
					y = (p.Y - minY) * (height - 1) / spanY
				}
				grid[y][x] = true
			}
		}
	}

	var b strings.Builder
	for i, row := range grid {
		if i > 0 {
			b.WriteString("\n")
		}
		for _, ink := range row {
			if ink {
				b.WriteString(IndicatorInk)
			} else {
				b.WriteString(" ")
			}
		}
	}

	return lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(ColorDimGray).
		Render(b.String())
}

func bounds(strokes []verify.Stroke) (minX, minY, maxX, maxY int, ok bool) {
	for _, s := range strokes {
		for _, p := range s.Points {
			if !ok {
				minX, maxX, minY, maxY = p.X, p.X, p.Y, p.Y
				ok = true
				continue
			}
			minX = min(minX, p.X)
			maxX = max(maxX, p.X)
			minY = min(minY, p.Y)
			maxY = max(maxY, p.Y)
		}
	}
	return
}

// renderDetailRow renders a label: value row.
func (m Model) renderDetailRow(label, value string) string {
	labelStyle := DimStyle.Width(12)
	return labelStyle.Render(label) + value + "\n"
}

// renderStatusBar renders the bottom status bar.
func (m Model) renderStatusBar() string {
	var help []string
	key := func(k, desc string) {
		help = append(help, HelpKeyStyle.Render(k)+" "+desc)
	}

	switch m.phase {
	case phaseSetup:
		key("←→", "category")
		key("↑↓", "minutes")
		key("tab", "check")
		key("↵", "start")
		key("esc", "quit")
	case phaseRunning:
		key("+/-", "1 min")
		key("]/[", "5 min")
		key("t", "stop now")
		key("v", "verify now")
		key("x", "abandon")
		key("q", "quit")
	case phaseVerifying:
		if m.denied {
			key("ctrl+r", "retry")
		} else {
			switch m.handle.Method {
			case task.MethodDrawing:
				key("ctrl+l", "clear")
			case task.MethodReadAloud:
				key("ctrl+r", "record")
				key("ctrl+p", "replay")
				key("ctrl+s", "speak")
			case task.MethodVocal:
				key("ctrl+r", "record")
				key("ctrl+p", "replay")
			}
			key("↵", "submit")
		}
		key("ctrl+x", "abandon")
	case phaseScored:
		key("↵", "finish")
		key("ctrl+x", "abandon")
	case phaseDone:
		key("n", "new task")
		key("q", "quit")
	}

	sep := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), true, false, false, false).
		BorderForeground(ColorGray).
		PaddingTop(1)

	var b strings.Builder
	if m.statusMessage != "" {
		b.WriteString(StatusMsgStyle.Render(m.statusMessage))
		b.WriteString("\n")
	}
	b.WriteString(DimStyle.Render(strings.Join(help, "  ")))

	return sep.Render(b.String())
}

// padRight pads a string to the specified visible width.
func padRight(s string, width int) string {
	visibleWidth := lipgloss.Width(s)
	if visibleWidth >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visibleWidth)
}

func formatAdjustments(adj []int) string {
	parts := make([]string, len(adj))
	for i, d := range adj {
		parts[i] = fmt.Sprintf("%+d", d)
	}
	return strings.Join(parts, " ")
}
