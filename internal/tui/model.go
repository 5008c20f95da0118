package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Jayphen/timestop/internal/lifecycle"
	"github.com/Jayphen/timestop/internal/logging"
	"github.com/Jayphen/timestop/internal/task"
	"github.com/Jayphen/timestop/internal/verify"
)

// refreshInterval is how often the countdown and warm-up redraw.
const refreshInterval = 200 * time.Millisecond

type phase int

const (
	phaseSetup phase = iota
	phaseRunning
	phaseVerifying
	phaseScored
	phaseDone
)

// Controller is the lifecycle surface the TUI drives.
type Controller interface {
	CreateTask(ctx context.Context, req lifecycle.Request) (string, error)
	AdjustActiveTask(ctx context.Context, minutes int) (int, error)
	TerminateActiveTask(ctx context.Context) (task.Snapshot, error)
	SubscribeExpired() <-chan struct{}
	BeginVerification(ctx context.Context, method task.Method) (verify.Handle, error)
	RetryVerification(ctx context.Context, h verify.Handle) (verify.Handle, error)
	SubmitVerificationEvidence(ctx context.Context, h verify.Handle, ev verify.Evidence) (verify.Score, error)
	CompleteVerification(ctx context.Context, h verify.Handle) (task.Snapshot, error)
	CancelActiveTask(ctx context.Context) error
	Background(ctx context.Context) error
	ActiveTask() (task.Snapshot, bool)
	Remaining() int
	History(from, to time.Time) []task.Snapshot
}

// Verification is the part of the orchestrator the challenge screen uses
// directly: capture controls, canvas input and the finish gate.
type Verification interface {
	StartCapture(ctx context.Context) error
	Speak(ctx context.Context) (bool, error)
	Replay(ctx context.Context) error
	Record(ev verify.Evidence) error
	FinishEnabled() bool
	WarmupRemaining() time.Duration
	State() verify.State
	Held() verify.Resource
}

var (
	_ Controller   = (*lifecycle.Controller)(nil)
	_ Verification = (*verify.Orchestrator)(nil)
)

// Options configures the model.
type Options struct {
	Version string
	// Request is the task to start. With Minutes set the task starts right
	// away; otherwise the setup screen is shown.
	Request lifecycle.Request
	// DefaultMinutes prefills the setup screen.
	DefaultMinutes int
	Logger         *logging.Logger
}

// Model is the Bubbletea model for the TUI.
type Model struct {
	ctx     context.Context
	ctrl    Controller
	verify  Verification
	log     *logging.Logger
	expired <-chan struct{}

	// Setup
	phase       phase
	categoryIdx int
	minutes     int
	method      task.Method
	noteInput   textinput.Model
	autoStart   bool

	// Verification
	handle          verify.Handle
	denied          bool
	strokes         []verify.Stroke
	drawing         bool
	transcriptInput textinput.Model
	score           verify.Score
	busy            bool

	// Result
	summary *task.Snapshot

	// UI state
	err           error
	statusMessage string
	statusExpiry  time.Time
	width, height int
	version       string

	// Components
	spinner spinner.Model
}

// Messages
type (
	tickMsg        time.Time
	expiredMsg     struct{}
	statusClearMsg struct{}
	startedMsg     struct{ err error }
	beganMsg       struct {
		handle verify.Handle
		err    error
	}
	scoredMsg struct {
		score verify.Score
		err   error
	}
	finishedMsg struct {
		summary task.Snapshot
		err     error
	}
	cancelledMsg struct{ err error }
	actionMsg    struct {
		done string
		err  error
	}
)

// NewModel creates a new TUI model.
func NewModel(ctx context.Context, ctrl Controller, v Verification, opts Options) Model {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ColorCyan)

	note := textinput.New()
	note.Placeholder = "what are you focusing on?"
	note.CharLimit = 200
	note.Width = 50
	note.SetValue(opts.Request.Note)

	transcript := textinput.New()
	transcript.Placeholder = "type the passage as you read it"
	transcript.CharLimit = 500
	transcript.Width = 60

	m := Model{
		ctx:             ctx,
		ctrl:            ctrl,
		verify:          v,
		expired:         ctrl.SubscribeExpired(),
		log:             opts.Logger.WithComponent("tui"),
		version:         opts.Version,
		minutes:         opts.Request.Minutes,
		method:          opts.Request.Method,
		noteInput:       note,
		transcriptInput: transcript,
		spinner:         s,
		autoStart:       opts.Request.Minutes > 0,
	}
	for i, c := range task.Categories {
		if c == opts.Request.Category {
			m.categoryIdx = i
		}
	}
	if m.minutes <= 0 {
		m.minutes = opts.DefaultMinutes
	}
	if m.minutes <= 0 {
		m.minutes = 25
	}
	if !m.autoStart {
		m.noteInput.Focus()
	}
	return m
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		m.spinner.Tick,
		m.waitExpired(),
		m.tick(),
	}
	if m.autoStart {
		cmds = append(cmds, m.startTask(m.request()))
	} else {
		cmds = append(cmds, textinput.Blink)
	}
	return tea.Batch(cmds...)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.BlurMsg:
		if err := m.ctrl.Background(m.ctx); err != nil {
			m.log.WithError(err).Warn("releasing audio on blur")
		}
		return m, nil

	case tickMsg:
		return m, m.tick()

	case statusClearMsg:
		if time.Now().After(m.statusExpiry) {
			m.statusMessage = ""
		}
		return m, nil

	case startedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.phase = phaseSetup
			return m, nil
		}
		m.err = nil
		m.phase = phaseRunning
		m.noteInput.Blur()
		return m, nil

	case expiredMsg:
		// Keep listening; a new task may expire later.
		next := m.waitExpired()
		if m.phase != phaseRunning {
			return m, next
		}
		m.phase = phaseVerifying
		m.busy = true
		m.setStatus("Time's up")
		return m, tea.Batch(next, m.beginVerification(""))

	case beganMsg:
		m.busy = false
		if msg.handle.ID != "" {
			m.handle = msg.handle
			m.strokes = nil
			m.transcriptInput.SetValue("")
			if msg.handle.Method == task.MethodReadAloud {
				m.transcriptInput.Focus()
			}
		}
		m.denied = errors.Is(msg.err, task.ErrPermissionDenied)
		if msg.err != nil && !m.denied {
			m.err = msg.err
		}
		return m, nil

	case actionMsg:
		m.busy = false
		if msg.err != nil {
			m.setStatus(msg.err.Error())
		} else if msg.done != "" {
			m.setStatus(msg.done)
		}
		return m, m.clearStatusLater()

	case scoredMsg:
		m.busy = false
		if msg.err != nil {
			m.setStatus(msg.err.Error())
			return m, m.clearStatusLater()
		}
		m.score = msg.score
		m.phase = phaseScored
		m.transcriptInput.Blur()
		return m, nil

	case finishedMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		summary := msg.summary
		m.summary = &summary
		m.phase = phaseDone
		m.handle = verify.Handle{}
		return m, nil

	case cancelledMsg:
		m.busy = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.summary = nil
		m.phase = phaseDone
		m.handle = verify.Handle{}
		m.setStatus("Task cancelled")
		return m, m.clearStatusLater()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.phase == phaseSetup {
		var cmd tea.Cmd
		m.noteInput, cmd = m.noteInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// handleKey handles keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.phase {
	case phaseSetup:
		return m.handleSetupKey(msg)
	case phaseRunning:
		return m.handleRunningKey(msg)
	case phaseVerifying:
		return m.handleVerifyingKey(msg)
	case phaseScored:
		switch msg.String() {
		case "enter":
			m.busy = true
			return m, m.completeVerification()
		case "ctrl+x":
			m.busy = true
			return m, m.cancelTask()
		}
	case phaseDone:
		switch msg.String() {
		case "q", "esc":
			return m, tea.Quit
		case "n":
			m.phase = phaseSetup
			m.summary = nil
			m.err = nil
			m.noteInput.SetValue("")
			return m, m.noteInput.Focus()
		}
	}
	return m, nil
}

func (m Model) handleSetupKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m, tea.Quit
	case "left":
		m.categoryIdx = (m.categoryIdx + len(task.Categories) - 1) % len(task.Categories)
		return m, nil
	case "right":
		m.categoryIdx = (m.categoryIdx + 1) % len(task.Categories)
		return m, nil
	case "up":
		m.minutes = stepMinutes(m.minutes, 5)
		return m, nil
	case "down":
		m.minutes = stepMinutes(m.minutes, -5)
		return m, nil
	case "tab":
		m.method = nextMethod(m.method)
		return m, nil
	case "enter":
		return m, m.startTask(m.request())
	}

	var cmd tea.Cmd
	m.noteInput, cmd = m.noteInput.Update(msg)
	return m, cmd
}

func (m Model) handleRunningKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "+", "=":
		return m.adjust(1)
	case "-", "_":
		return m.adjust(-1)
	case "]":
		return m.adjust(5)
	case "[":
		return m.adjust(-5)
	case "t":
		m.busy = true
		return m, m.terminateTask()
	case "v":
		m.phase = phaseVerifying
		m.busy = true
		return m, m.beginVerification(m.method)
	case "x":
		m.busy = true
		return m, m.cancelTask()
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleVerifyingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}

	switch msg.String() {
	case "enter":
		if m.denied {
			return m, nil
		}
		if !m.verify.FinishEnabled() && !m.readAloudWithTranscript() {
			m.setStatus("Not yet")
			return m, m.clearStatusLater()
		}
		m.busy = true
		return m, m.submit()
	case "ctrl+x":
		m.busy = true
		return m, m.cancelTask()
	case "ctrl+r":
		if m.denied {
			m.busy = true
			return m, m.retryVerification()
		}
		return m, m.action("Recording", m.verify.StartCapture)
	case "ctrl+p":
		return m, m.action("Playing back", m.verify.Replay)
	case "ctrl+s":
		return m, m.action("", func(ctx context.Context) error {
			_, err := m.verify.Speak(ctx)
			return err
		})
	case "ctrl+l":
		if m.handle.Method == task.MethodDrawing {
			m.strokes = nil
		}
		return m, nil
	}

	if m.handle.Method == task.MethodReadAloud {
		var cmd tea.Cmd
		m.transcriptInput, cmd = m.transcriptInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) readAloudWithTranscript() bool {
	return m.handle.Method == task.MethodReadAloud &&
		strings.TrimSpace(m.transcriptInput.Value()) != "" &&
		m.verify.WarmupRemaining() == 0
}

// handleMouse turns drags into canvas strokes during a drawing challenge.
func (m Model) handleMouse(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if m.phase != phaseVerifying || m.handle.Method != task.MethodDrawing || m.busy {
		return m, nil
	}

	p := verify.Point{X: msg.X, Y: msg.Y}
	switch msg.Action {
	case tea.MouseActionPress:
		if msg.Button != tea.MouseButtonLeft {
			return m, nil
		}
		m.drawing = true
		m.strokes = append(m.strokes, verify.Stroke{Points: []verify.Point{p}})
	case tea.MouseActionMotion:
		if !m.drawing || len(m.strokes) == 0 {
			return m, nil
		}
		last := &m.strokes[len(m.strokes)-1]
		last.Points = append(last.Points, p)
	case tea.MouseActionRelease:
		if !m.drawing || len(m.strokes) == 0 {
			return m, nil
		}
		m.drawing = false
		stroke := m.strokes[len(m.strokes)-1]
		if err := m.verify.Record(verify.DrawingEvidence{Strokes: []verify.Stroke{stroke}}); err != nil {
			m.setStatus(err.Error())
			return m, m.clearStatusLater()
		}
	}
	return m, nil
}

func (m Model) adjust(minutes int) (tea.Model, tea.Cmd) {
	effective, err := m.ctrl.AdjustActiveTask(m.ctx, minutes)
	switch {
	case err != nil:
		m.setStatus(err.Error())
	case effective == 0:
		m.setStatus("Already at one minute")
	default:
		m.setStatus(fmt.Sprintf("%+d min", effective))
	}
	return m, m.clearStatusLater()
}

// Helper methods

func (m *Model) setStatus(msg string) {
	m.statusMessage = msg
	m.statusExpiry = time.Now().Add(3 * time.Second)
}

func (m Model) request() lifecycle.Request {
	return lifecycle.Request{
		Category: task.Categories[m.categoryIdx],
		Minutes:  m.minutes,
		Method:   m.method,
		Note:     strings.TrimSpace(m.noteInput.Value()),
	}
}

func stepMinutes(minutes, delta int) int {
	next := minutes + delta
	if minutes < 5 && delta > 0 {
		next = 5
	}
	if next < 1 {
		next = 1
	}
	return next
}

// nextMethod cycles random, drawing, vocal, read-aloud.
func nextMethod(m task.Method) task.Method {
	if m == "" {
		return task.Methods[0]
	}
	for i, known := range task.Methods {
		if known == m && i+1 < len(task.Methods) {
			return task.Methods[i+1]
		}
	}
	return ""
}

func formatClock(secs int) string {
	if secs < 0 {
		secs = 0
	}
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func methodLabel(m task.Method) string {
	if m == "" {
		return "random"
	}
	return string(m)
}

// Commands

func (m Model) tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) clearStatusLater() tea.Cmd {
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return statusClearMsg{}
	})
}

func (m Model) waitExpired() tea.Cmd {
	ch := m.expired
	return func() tea.Msg {
		select {
		case <-ch:
			return expiredMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) startTask(req lifecycle.Request) tea.Cmd {
	return func() tea.Msg {
		_, err := m.ctrl.CreateTask(m.ctx, req)
		return startedMsg{err: err}
	}
}

func (m Model) beginVerification(method task.Method) tea.Cmd {
	return func() tea.Msg {
		h, err := m.ctrl.BeginVerification(m.ctx, method)
		return beganMsg{handle: h, err: err}
	}
}

func (m Model) retryVerification() tea.Cmd {
	h := m.handle
	return func() tea.Msg {
		next, err := m.ctrl.RetryVerification(m.ctx, h)
		return beganMsg{handle: next, err: err}
	}
}

func (m Model) submit() tea.Cmd {
	h := m.handle
	var ev verify.Evidence
	if h.Method == task.MethodReadAloud {
		if text := strings.TrimSpace(m.transcriptInput.Value()); text != "" {
			ev = verify.ReadAloudEvidence{Passage: h.Passage, Transcript: text}
		}
	}
	return func() tea.Msg {
		score, err := m.ctrl.SubmitVerificationEvidence(m.ctx, h, ev)
		return scoredMsg{score: score, err: err}
	}
}

func (m Model) completeVerification() tea.Cmd {
	h := m.handle
	return func() tea.Msg {
		summary, err := m.ctrl.CompleteVerification(m.ctx, h)
		return finishedMsg{summary: summary, err: err}
	}
}

func (m Model) terminateTask() tea.Cmd {
	return func() tea.Msg {
		summary, err := m.ctrl.TerminateActiveTask(m.ctx)
		return finishedMsg{summary: summary, err: err}
	}
}

func (m Model) cancelTask() tea.Cmd {
	return func() tea.Msg {
		return cancelledMsg{err: m.ctrl.CancelActiveTask(m.ctx)}
	}
}

func (m Model) action(done string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{done: done, err: fn(m.ctx)}
	}
}
