// Package lifecycle is the top-level state machine of a focus session.
//
// The Controller owns the single active task. It starts the countdown on
// creation, routes adjustments through the ledger, finalizes early
// terminations, and hands expired tasks to the verification orchestrator.
// Countdown events are consumed on one control loop (Run), so the active
// task is only ever mutated under the controller's lock.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Jayphen/timestop/internal/countdown"
	"github.com/Jayphen/timestop/internal/ledger"
	"github.com/Jayphen/timestop/internal/logging"
	"github.com/Jayphen/timestop/internal/notify"
	"github.com/Jayphen/timestop/internal/task"
	"github.com/Jayphen/timestop/internal/verify"
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateCreated
	StateRunning
	StateTerminating
	StateExpiring
	StateVerifying
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateExpiring:
		return "expiring"
	case StateVerifying:
		return "verifying"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Countdown is the engine the controller drives.
type Countdown interface {
	ledger.Countdown
	Start(totalSeconds int) (uint64, error)
	PauseForVerification() error
	Cancel()
	Remaining() int
	Events() <-chan countdown.Event
	IsCurrent(ev countdown.Event) bool
}

// Verifier runs the stop-verification challenge.
type Verifier interface {
	Begin(ctx context.Context, method task.Method) (verify.Handle, error)
	Retry(ctx context.Context) (verify.Handle, error)
	Submit(ctx context.Context, ev verify.Evidence) (verify.Score, error)
	Close(ctx context.Context) error
	Teardown(ctx context.Context) error
	Interrupt(ctx context.Context) error
	Handle() (verify.Handle, bool)
	Score() (verify.Score, bool)
}

// Cue plays a short signal at lifecycle moments.
type Cue interface {
	Cue(ctx context.Context, kind notify.Kind, s task.Snapshot)
}

// Publisher mirrors the active task somewhere other processes can read it.
type Publisher interface {
	SetActive(ctx context.Context, s task.Snapshot) error
	ClearActive(ctx context.Context) error
}

var (
	_ Countdown = (*countdown.Engine)(nil)
	_ Verifier  = (*verify.Orchestrator)(nil)
	_ Cue       = (*notify.Notifier)(nil)
)

// Options configures a Controller. Countdown and Verifier are required.
type Options struct {
	Countdown Countdown
	Verifier  Verifier
	History   *task.History
	Sink      task.Sink
	Publisher Publisher
	Cue       Cue

	// Strict makes illegal transitions panic instead of returning an error.
	Strict bool
	Now    func() time.Time
	Logger *logging.Logger
}

// Request describes a task to create.
type Request struct {
	Category task.Category
	Minutes  int
	Method   task.Method
	Note     string
}

// Controller is the lifecycle state machine.
type Controller struct {
	engine    Countdown
	ledger    *ledger.Ledger
	verifier  Verifier
	history   *task.History
	sink      task.Sink
	publisher Publisher
	cue       Cue
	strict    bool
	now       func() time.Time
	log       *logging.Logger

	mu      sync.Mutex
	state   State
	active  *task.Task
	run     uint64
	expired []chan struct{}
}

// New creates an idle controller.
func New(opts Options) *Controller {
	if opts.Countdown == nil || opts.Verifier == nil {
		panic("lifecycle: Countdown and Verifier are required")
	}
	if opts.History == nil {
		opts.History = task.NewHistory()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	return &Controller{
		engine:    opts.Countdown,
		ledger:    ledger.New(opts.Countdown, opts.Logger),
		verifier:  opts.Verifier,
		history:   opts.History,
		sink:      opts.Sink,
		publisher: opts.Publisher,
		cue:       opts.Cue,
		strict:    opts.Strict,
		now:       opts.Now,
		log:       opts.Logger.WithComponent("lifecycle"),
	}
}

func (c *Controller) taskLog() *logging.Logger {
	if c.active == nil {
		return c.log
	}
	return c.log.WithTaskID(c.active.ID())
}

func (c *Controller) setStateLocked(next State) {
	c.taskLog().WithFields(map[string]interface{}{
		"from": c.state.String(),
		"to":   next.String(),
	}).Debug("lifecycle transition")
	c.state = next
}

// illegalLocked reports an out-of-order call. In strict mode it panics.
func (c *Controller) illegalLocked(op string) error {
	err := fmt.Errorf("%w: %s while %s", task.ErrIllegalTransition, op, c.state)
	if c.strict {
		panic(err)
	}
	c.taskLog().WithError(err).Error("illegal transition")
	return err
}

// CreateTask starts a new task and its countdown.
func (c *Controller) CreateTask(ctx context.Context, req Request) (string, error) {
	c.mu.Lock()
	if c.active != nil {
		id := c.active.ID()
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", task.ErrAlreadyActive, id)
	}

	now := c.now()
	t, err := task.New(req.Category, req.Minutes, req.Method, req.Note, now)
	if err != nil {
		c.mu.Unlock()
		return "", err
	}

	prev := c.state
	c.active = t
	c.setStateLocked(StateCreated)

	run, err := c.engine.Start(t.CurrentSeconds())
	if err != nil {
		c.active = nil
		c.state = prev
		c.mu.Unlock()
		return "", fmt.Errorf("starting countdown: %w", err)
	}
	if err := t.Start(now); err != nil {
		c.engine.Cancel()
		c.active = nil
		err = c.illegalLocked("start")
		c.state = prev
		c.mu.Unlock()
		return "", err
	}
	c.run = run
	c.setStateLocked(StateRunning)
	snap := t.Snapshot()
	c.mu.Unlock()

	c.log.WithTaskID(snap.ID).WithFields(map[string]interface{}{
		"category": string(snap.Category),
		"minutes":  snap.PlannedMinutes,
	}).Info("task started")

	c.publish(ctx, snap)
	return snap.ID, nil
}

// AdjustActiveTask adds minutes to the running task and returns the
// effective change after clamping.
func (c *Controller) AdjustActiveTask(ctx context.Context, minutes int) (int, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return 0, task.ErrNoActiveTask
	}
	if c.state != StateRunning {
		state := c.state
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: task is %s", task.ErrNotRunning, state)
	}

	effective, err := c.ledger.Apply(c.active, minutes)
	snap := c.active.Snapshot()
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}

	if effective != 0 {
		c.publish(ctx, snap)
	}
	return effective, nil
}

// TerminateActiveTask ends the running task early. The task is completed
// right away; termination never goes through verification.
func (c *Controller) TerminateActiveTask(ctx context.Context) (task.Snapshot, error) {
	c.mu.Lock()
	t := c.active
	if t == nil {
		c.mu.Unlock()
		return task.Snapshot{}, task.ErrNoActiveTask
	}
	if c.state != StateRunning {
		err := c.illegalLocked("terminate")
		c.mu.Unlock()
		return task.Snapshot{}, err
	}

	c.setStateLocked(StateTerminating)
	c.engine.Cancel()
	elapsed := t.CurrentSeconds() - c.engine.Remaining()

	if err := t.Terminate(c.now(), elapsed); err != nil {
		err = c.illegalLocked("terminate")
		c.mu.Unlock()
		return task.Snapshot{}, err
	}
	snap := t.Snapshot()
	c.recordLocked(snap)
	c.setStateLocked(StateCompleted)
	c.active = nil
	c.mu.Unlock()

	c.log.WithTaskID(snap.ID).WithField("elapsed_seconds", snap.ElapsedSeconds).Info("task terminated early")

	c.persist(ctx, snap)
	c.signal(ctx, notify.KindTerminated, snap)
	return snap, nil
}

// SubscribeExpired returns a channel that receives one value each time a
// task expires naturally.
func (c *Controller) SubscribeExpired() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan struct{}, 1)
	c.expired = append(c.expired, ch)
	return ch
}

// Run consumes countdown events until ctx is done. Events from a run that
// was cancelled or has already expired are dropped.
func (c *Controller) Run(ctx context.Context) error {
	events := c.engine.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev countdown.Event) {
	if !c.engine.IsCurrent(ev) {
		c.log.WithField("run", ev.Run).Debug("discarding stale countdown event")
		return
	}
	if ev.Kind == countdown.EventExpired {
		c.expire(ctx, ev.Run)
	}
}

func (c *Controller) expire(ctx context.Context, run uint64) {
	c.mu.Lock()
	if c.active == nil || c.state != StateRunning || run != c.run {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateExpiring)
	c.setStateLocked(StateVerifying)
	snap := c.active.Snapshot()
	subs := append([]chan struct{}(nil), c.expired...)
	c.mu.Unlock()

	c.log.WithTaskID(snap.ID).Info("task expired, verification required")

	c.signal(ctx, notify.KindExpired, snap)
	c.publish(ctx, snap)
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// BeginVerification starts the verification challenge. It is legal after
// expiry, and from Running as a manual push that pauses the countdown. An
// empty method falls back to the task's preassigned one, then to a random
// pick. A permission denial returns the handle along with
// ErrPermissionDenied; the user may then retry or cancel.
func (c *Controller) BeginVerification(ctx context.Context, method task.Method) (verify.Handle, error) {
	c.mu.Lock()
	t := c.active
	if t == nil {
		c.mu.Unlock()
		return verify.Handle{}, task.ErrNoActiveTask
	}
	switch c.state {
	case StateRunning:
		if err := c.engine.PauseForVerification(); err != nil {
			c.mu.Unlock()
			return verify.Handle{}, fmt.Errorf("%w: %v", task.ErrNotRunning, err)
		}
		c.setStateLocked(StateVerifying)
	case StateVerifying:
		if _, ok := c.verifier.Handle(); ok {
			err := c.illegalLocked("begin verification twice")
			c.mu.Unlock()
			return verify.Handle{}, err
		}
	default:
		err := c.illegalLocked("begin verification")
		c.mu.Unlock()
		return verify.Handle{}, err
	}
	if method == "" {
		method = t.Method()
	}
	c.mu.Unlock()

	h, err := c.verifier.Begin(ctx, method)
	if h.ID == "" {
		return h, err
	}

	c.mu.Lock()
	if c.active != t || c.state != StateVerifying {
		c.mu.Unlock()
		_ = c.verifier.Teardown(ctx)
		return verify.Handle{}, task.ErrStaleHandle
	}
	if assignErr := t.AssignMethod(h.Method); assignErr != nil {
		c.taskLog().WithError(assignErr).Warn("could not record verification method")
	}
	snap := t.Snapshot()
	c.mu.Unlock()

	c.log.WithTaskID(snap.ID).WithFields(map[string]interface{}{
		"handle": h.ID,
		"method": string(h.Method),
	}).Info("verification started")

	c.publish(ctx, snap)
	return h, err
}

// RetryVerification asks for capture permission again after a denial.
func (c *Controller) RetryVerification(ctx context.Context, h verify.Handle) (verify.Handle, error) {
	if err := c.checkHandle(h, "retry verification"); err != nil {
		return verify.Handle{}, err
	}
	return c.verifier.Retry(ctx)
}

// SubmitVerificationEvidence scores the evidence for the current attempt.
func (c *Controller) SubmitVerificationEvidence(ctx context.Context, h verify.Handle, ev verify.Evidence) (verify.Score, error) {
	if err := c.checkHandle(h, "submit evidence"); err != nil {
		return verify.Score{}, err
	}
	return c.verifier.Submit(ctx, ev)
}

func (c *Controller) checkHandle(h verify.Handle, op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return task.ErrNoActiveTask
	}
	if c.state != StateVerifying {
		return c.illegalLocked(op)
	}
	if cur, ok := c.verifier.Handle(); !ok || cur.ID != h.ID {
		return fmt.Errorf("%w: %s", task.ErrStaleHandle, h.ID)
	}
	return nil
}

// CompleteVerification closes a scored verification and completes the
// task. Verification resources are released before the task is recorded.
func (c *Controller) CompleteVerification(ctx context.Context, h verify.Handle) (task.Snapshot, error) {
	c.mu.Lock()
	t := c.active
	if t == nil {
		c.mu.Unlock()
		return task.Snapshot{}, task.ErrNoActiveTask
	}
	if c.state != StateVerifying {
		err := c.illegalLocked("complete verification")
		c.mu.Unlock()
		return task.Snapshot{}, err
	}
	if cur, ok := c.verifier.Handle(); !ok || cur.ID != h.ID {
		c.mu.Unlock()
		return task.Snapshot{}, fmt.Errorf("%w: %s", task.ErrStaleHandle, h.ID)
	}
	score, ok := c.verifier.Score()
	if !ok {
		c.mu.Unlock()
		return task.Snapshot{}, fmt.Errorf("%w: no score yet", task.ErrNotReady)
	}

	if err := c.verifier.Close(ctx); err != nil {
		c.taskLog().WithError(err).Warn("verification resources did not release cleanly")
	}
	// The countdown is frozen while verifying, so this is the time spent
	// before expiry or before a manual push.
	elapsed := t.CurrentSeconds() - c.engine.Remaining()
	if err := t.Complete(c.now(), elapsed, score); err != nil {
		err = c.illegalLocked("complete verification")
		c.mu.Unlock()
		return task.Snapshot{}, err
	}
	snap := t.Snapshot()
	c.recordLocked(snap)
	c.setStateLocked(StateCompleted)
	c.active = nil
	c.mu.Unlock()

	c.log.WithTaskID(snap.ID).WithField("score", score.Total).Info("task completed")

	c.persist(ctx, snap)
	c.signal(ctx, notify.KindCompleted, snap)
	return snap, nil
}

// CancelActiveTask discards the active task. The countdown is stopped
// first, then verification is torn down. Cancelled tasks are not recorded.
func (c *Controller) CancelActiveTask(ctx context.Context) error {
	c.mu.Lock()
	t := c.active
	if t == nil {
		c.mu.Unlock()
		return task.ErrNoActiveTask
	}
	if c.state != StateRunning && c.state != StateVerifying {
		err := c.illegalLocked("cancel")
		c.mu.Unlock()
		return err
	}

	c.engine.Cancel()
	if err := c.verifier.Teardown(ctx); err != nil {
		c.taskLog().WithError(err).Warn("verification teardown failed during cancel")
	}

	elapsed := t.CurrentSeconds() - c.engine.Remaining()
	if err := t.Cancel(c.now(), elapsed); err != nil {
		c.taskLog().WithError(err).Error("cancelling task")
	}
	snap := t.Snapshot()
	c.setStateLocked(StateCancelled)
	c.active = nil
	c.mu.Unlock()

	c.log.WithTaskID(snap.ID).Info("task cancelled")

	c.clearActive(ctx)
	c.signal(ctx, notify.KindCancelled, snap)
	return nil
}

// Background releases verification resources when the front end loses
// focus. The task and the verification attempt stay open.
func (c *Controller) Background(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateVerifying {
		return nil
	}
	return c.verifier.Interrupt(ctx)
}

// Shutdown cancels any active task and releases every resource. It is
// safe to call more than once.
func (c *Controller) Shutdown(ctx context.Context) error {
	err := c.CancelActiveTask(ctx)
	if errors.Is(err, task.ErrNoActiveTask) {
		err = nil
	}
	if tdErr := c.verifier.Teardown(ctx); tdErr != nil {
		err = errors.Join(err, tdErr)
	}
	c.engine.Cancel()
	return err
}

// ActiveTask returns a copy of the active task.
func (c *Controller) ActiveTask() (task.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return task.Snapshot{}, false
	}
	return c.active.Snapshot(), true
}

// Remaining returns the seconds left on the active countdown.
func (c *Controller) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return 0
	}
	return c.engine.Remaining()
}

// History returns tasks completed within [from, to]. A zero bound is open.
func (c *Controller) History(from, to time.Time) []task.Snapshot {
	return c.history.Range(from, to)
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) recordLocked(snap task.Snapshot) {
	if err := c.history.Append(snap); err != nil {
		c.taskLog().WithError(err).Error("recording task in history")
	}
}

func (c *Controller) persist(ctx context.Context, snap task.Snapshot) {
	if c.sink != nil {
		if err := c.sink.SaveTask(ctx, snap); err != nil {
			c.log.WithTaskID(snap.ID).WithError(err).Warn("persisting task failed")
		}
	}
	c.clearActive(ctx)
}

func (c *Controller) publish(ctx context.Context, snap task.Snapshot) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.SetActive(ctx, snap); err != nil {
		c.log.WithTaskID(snap.ID).WithError(err).Debug("publishing active task failed")
	}
}

func (c *Controller) clearActive(ctx context.Context) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.ClearActive(ctx); err != nil {
		c.log.WithError(err).Debug("clearing active task failed")
	}
}

func (c *Controller) signal(ctx context.Context, kind notify.Kind, snap task.Snapshot) {
	if c.cue != nil {
		c.cue.Cue(ctx, kind, snap)
	}
}
