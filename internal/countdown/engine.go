// Package countdown owns the remaining-time counter of the active task.
//
// An Engine runs at most one countdown. Each Start launches a single driver
// goroutine that advances the counter on every tick and posts Tick and
// Expired events to the engine's channel. Events carry the run number so a
// consumer can discard anything left over from a cancelled run.
package countdown

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Jayphen/timestop/internal/logging"
)

var (
	// ErrAlreadyRunning is returned by Start while a countdown is ticking.
	ErrAlreadyRunning = errors.New("countdown already running")

	// ErrNotRunning is returned when adjusting a countdown that is not ticking.
	ErrNotRunning = errors.New("countdown not running")
)

// DefaultInterval is the tick cadence.
const DefaultInterval = time.Second

// State is the engine's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateExpired
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateExpired:
		return "expired"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventKind distinguishes tick and expiry events.
type EventKind int

const (
	EventTick EventKind = iota
	EventExpired
)

// Event is posted by the driver after each step.
type Event struct {
	Kind      EventKind
	Run       uint64
	Remaining int
}

// TickSource is the monotonic tick collaborator.
type TickSource interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a tick source for one run.
type TickerFactory func(interval time.Duration) TickSource

type stdTicker struct {
	t *time.Ticker
}

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

// NewTicker is the TickerFactory backed by time.Ticker.
func NewTicker(interval time.Duration) TickSource {
	return stdTicker{t: time.NewTicker(interval)}
}

// Options configures an Engine.
type Options struct {
	Interval  time.Duration
	NewTicker TickerFactory
	// Buffer is the capacity of the events channel.
	Buffer int
	Logger *logging.Logger
}

// Engine is the countdown state machine.
type Engine struct {
	interval  time.Duration
	newTicker TickerFactory
	events    chan Event
	log       *logging.Logger

	mu        sync.Mutex
	state     State
	remaining int
	run       uint64
	stop      chan struct{}
	done      chan struct{}
}

// New creates an idle engine.
func New(opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.NewTicker == nil {
		opts.NewTicker = NewTicker
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	return &Engine{
		interval:  opts.Interval,
		newTicker: opts.NewTicker,
		events:    make(chan Event, opts.Buffer),
		log:       opts.Logger.WithComponent("countdown"),
	}
}

// Events returns the channel the driver posts to.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Start begins a countdown of totalSeconds and returns its run number.
func (e *Engine) Start(totalSeconds int) (uint64, error) {
	if totalSeconds < 1 {
		return 0, fmt.Errorf("countdown needs at least one second, got %d", totalSeconds)
	}

	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return 0, ErrAlreadyRunning
	}
	e.run++
	run := e.run
	e.state = StateRunning
	e.remaining = totalSeconds
	stop := make(chan struct{})
	done := make(chan struct{})
	e.stop, e.done = stop, done
	ticker := e.newTicker(e.interval)
	e.mu.Unlock()

	go e.drive(run, ticker, stop, done)

	e.log.WithFields(map[string]interface{}{
		"run":     run,
		"seconds": totalSeconds,
	}).Debug("countdown started")

	return run, nil
}

// drive is the single ticking timeline for one run.
func (e *Engine) drive(run uint64, ticker TickSource, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			ev, ok := e.step(run)
			if !ok {
				return
			}
			select {
			case e.events <- ev:
			case <-stop:
				return
			}
			if ev.Kind == EventExpired {
				return
			}
		}
	}
}

// Tick advances the current run by one second. It reports false once the
// run is no longer ticking, so Expired is returned exactly once.
func (e *Engine) Tick() (Event, bool) {
	e.mu.Lock()
	run := e.run
	e.mu.Unlock()
	return e.step(run)
}

func (e *Engine) step(run uint64) (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if run != e.run || e.state != StateRunning {
		return Event{}, false
	}

	if e.remaining > 0 {
		e.remaining--
	}
	if e.remaining == 0 {
		e.state = StateExpired
		e.log.WithField("run", run).Debug("countdown expired")
		return Event{Kind: EventExpired, Run: run}, true
	}
	return Event{Kind: EventTick, Run: run, Remaining: e.remaining}, true
}

// Adjust adds deltaSeconds to the remaining time and returns the change
// actually applied. Remaining time never drops below one second while the
// countdown runs.
func (e *Engine) Adjust(deltaSeconds int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRunning || e.remaining == 0 {
		return 0, ErrNotRunning
	}

	next := e.remaining + deltaSeconds
	if next < 1 {
		next = 1
	}
	effective := next - e.remaining
	e.remaining = next
	return effective, nil
}

// PauseForVerification stops ticking without emitting Expired.
func (e *Engine) PauseForVerification() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.state = StatePaused
	stop, done := e.detachLocked()
	e.mu.Unlock()

	halt(stop, done)
	return nil
}

// Cancel stops ticking without emitting Expired. It is safe to call in any
// state and more than once. When it returns the driver has exited.
func (e *Engine) Cancel() {
	e.mu.Lock()
	if e.state != StateIdle {
		e.state = StateCancelled
	}
	stop, done := e.detachLocked()
	e.mu.Unlock()

	halt(stop, done)
}

func (e *Engine) detachLocked() (chan struct{}, chan struct{}) {
	stop, done := e.stop, e.done
	e.stop, e.done = nil, nil
	return stop, done
}

func halt(stop, done chan struct{}) {
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// IsCurrent reports whether ev belongs to the live run and may still be
// acted on.
func (e *Engine) IsCurrent(ev Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.Run != e.run {
		return false
	}
	switch ev.Kind {
	case EventTick:
		return e.state == StateRunning
	case EventExpired:
		return e.state == StateExpired
	}
	return false
}

// Remaining returns the seconds left in the current run.
func (e *Engine) Remaining() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remaining
}

// State returns the engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
