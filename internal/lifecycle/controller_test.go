package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Jayphen/timestop/internal/countdown"
	"github.com/Jayphen/timestop/internal/notify"
	"github.com/Jayphen/timestop/internal/task"
	"github.com/Jayphen/timestop/internal/verify"
)

// stillTicker never fires; tests advance the countdown with Engine.Tick.
type stillTicker struct{}

func (stillTicker) C() <-chan time.Time { return nil }
func (stillTicker) Stop()               {}

type spyVerifier struct {
	mu       sync.Mutex
	calls    []string
	handle   verify.Handle
	open     bool
	scored   bool
	beginErr error
}

func (s *spyVerifier) record(call string) {
	s.calls = append(s.calls, call)
}

func (s *spyVerifier) Begin(_ context.Context, m task.Method) (verify.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("begin")
	if m == "" {
		m = task.MethodDrawing
	}
	s.handle = verify.Handle{ID: "attempt-1", Method: m}
	s.open = true
	s.scored = false
	return s.handle, s.beginErr
}

func (s *spyVerifier) Retry(context.Context) (verify.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("retry")
	return s.handle, nil
}

func (s *spyVerifier) Submit(context.Context, verify.Evidence) (verify.Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("submit")
	s.scored = true
	return verify.Score{Total: 70}, nil
}

func (s *spyVerifier) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("close")
	s.open = false
	return nil
}

func (s *spyVerifier) Teardown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("teardown")
	s.open = false
	return nil
}

func (s *spyVerifier) Interrupt(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("interrupt")
	return nil
}

func (s *spyVerifier) Handle() (verify.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle, s.open
}

func (s *spyVerifier) Score() (verify.Score, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return verify.Score{Total: 70}, s.open && s.scored
}

func (s *spyVerifier) count(call string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == call {
			n++
		}
	}
	return n
}

type memSink struct {
	mu    sync.Mutex
	saved []task.Snapshot
}

func (m *memSink) SaveTask(_ context.Context, s task.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, s)
	return nil
}

type memPublisher struct {
	mu      sync.Mutex
	sets    int
	clears  int
	current *task.Snapshot
}

func (m *memPublisher) SetActive(_ context.Context, s task.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.current = &s
	return nil
}

func (m *memPublisher) ClearActive(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clears++
	m.current = nil
	return nil
}

type cueLog struct {
	mu    sync.Mutex
	kinds []notify.Kind
}

func (c *cueLog) Cue(_ context.Context, kind notify.Kind, _ task.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = append(c.kinds, kind)
}

func (c *cueLog) got() []notify.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Kind(nil), c.kinds...)
}

type harness struct {
	c      *Controller
	engine *countdown.Engine
	spy    *spyVerifier
	sink   *memSink
	pub    *memPublisher
	cues   *cueLog
}

func newHarness(t *testing.T, v Verifier) *harness {
	t.Helper()

	h := &harness{
		engine: countdown.New(countdown.Options{
			NewTicker: func(time.Duration) countdown.TickSource { return stillTicker{} },
		}),
		sink: &memSink{},
		pub:  &memPublisher{},
		cues: &cueLog{},
	}
	if v == nil {
		h.spy = &spyVerifier{}
		v = h.spy
	}
	h.c = New(Options{
		Countdown: h.engine,
		Verifier:  v,
		Sink:      h.sink,
		Publisher: h.pub,
		Cue:       h.cues,
	})
	t.Cleanup(func() { _ = h.c.Shutdown(context.Background()) })
	return h
}

func (h *harness) create(t *testing.T, minutes int) string {
	t.Helper()
	id, err := h.c.CreateTask(context.Background(), Request{Category: task.CategoryWork, Minutes: minutes})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	return id
}

// expire ticks the countdown to zero and feeds the Expired event to the
// controller as the control loop would.
func (h *harness) expire(t *testing.T) countdown.Event {
	t.Helper()
	for {
		ev, ok := h.engine.Tick()
		if !ok {
			t.Fatal("countdown stopped before expiring")
		}
		if ev.Kind == countdown.EventExpired {
			h.c.handleEvent(context.Background(), ev)
			return ev
		}
	}
}

func TestScenarioAdjustments(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.create(t, 25)

	for _, delta := range []int{5, -3} {
		if _, err := h.c.AdjustActiveTask(ctx, delta); err != nil {
			t.Fatalf("AdjustActiveTask(%d) failed: %v", delta, err)
		}
	}

	snap, ok := h.c.ActiveTask()
	if !ok {
		t.Fatal("expected an active task")
	}
	if snap.CurrentMinutes != 27 || snap.PlannedMinutes != 25 {
		t.Errorf("minutes = %d/%d, want 27/25", snap.CurrentMinutes, snap.PlannedMinutes)
	}
	if len(snap.Adjustments) != 2 || snap.Adjustments[0] != 5 || snap.Adjustments[1] != -3 {
		t.Errorf("adjustments = %v, want [5 -3]", snap.Adjustments)
	}
	if got := h.c.Remaining(); got != 27*60 {
		t.Errorf("Remaining = %d, want %d", got, 27*60)
	}
}

func TestAdjustClampsToOneMinute(t *testing.T) {
	h := newHarness(t, nil)
	h.create(t, 3)

	got, err := h.c.AdjustActiveTask(context.Background(), -500)
	if err != nil {
		t.Fatalf("AdjustActiveTask failed: %v", err)
	}
	if got != -2 {
		t.Errorf("effective = %d, want -2", got)
	}
	snap, _ := h.c.ActiveTask()
	if snap.CurrentMinutes != 1 {
		t.Errorf("CurrentMinutes = %d, want 1", snap.CurrentMinutes)
	}
	if snap.CurrentMinutes != snap.PlannedMinutes+snap.AdjustmentTotal() {
		t.Errorf("ledger out of balance: %+v", snap)
	}
}

func TestCreateWhileActive(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := h.create(t, 25)
	_, _ = h.c.AdjustActiveTask(ctx, 5)

	_, err := h.c.CreateTask(ctx, Request{Category: task.CategoryReading, Minutes: 10})
	if !errors.Is(err, task.ErrAlreadyActive) {
		t.Fatalf("CreateTask error = %v, want ErrAlreadyActive", err)
	}

	snap, _ := h.c.ActiveTask()
	if snap.ID != id || snap.Category != task.CategoryWork || snap.CurrentMinutes != 30 {
		t.Errorf("active task changed: %+v", snap)
	}
	if h.c.State() != StateRunning {
		t.Errorf("State = %v, want running", h.c.State())
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name string
		req  Request
	}{
		{"zero minutes", Request{Category: task.CategoryWork}},
		{"bad category", Request{Category: "chores", Minutes: 5}},
		{"bad method", Request{Category: task.CategoryWork, Minutes: 5, Method: "juggling"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.c.CreateTask(context.Background(), tt.req); err == nil {
				t.Error("expected error")
			}
			if _, ok := h.c.ActiveTask(); ok {
				t.Error("failed create left an active task")
			}
		})
	}
}

func TestScenarioExpiry(t *testing.T) {
	engine := countdown.New(countdown.Options{Interval: time.Millisecond})
	spy := &spyVerifier{}
	c := New(Options{Countdown: engine, Verifier: spy})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	expired := c.SubscribeExpired()
	if _, err := c.CreateTask(ctx, Request{Category: task.CategoryWork, Minutes: 1}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	select {
	case <-expired:
	case <-time.After(5 * time.Second):
		t.Fatal("task never expired")
	}
	select {
	case <-expired:
		t.Fatal("expiry signalled twice")
	case <-time.After(100 * time.Millisecond):
	}

	if c.State() != StateVerifying {
		t.Errorf("State = %v, want verifying", c.State())
	}
	if engine.State() != countdown.StateExpired || engine.Remaining() != 0 {
		t.Errorf("engine = %v with %ds left, want expired at 0", engine.State(), engine.Remaining())
	}
	if _, ok := engine.Tick(); ok {
		t.Error("countdown still ticks after expiry")
	}
	if _, err := c.AdjustActiveTask(ctx, 5); !errors.Is(err, task.ErrNotRunning) {
		t.Errorf("AdjustActiveTask error = %v, want ErrNotRunning", err)
	}
	if spy.count("begin") != 0 {
		t.Error("expiry alone should not begin verification")
	}
}

func TestScenarioTerminate(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := h.create(t, 10)

	for i := 0; i < 90; i++ {
		if _, ok := h.engine.Tick(); !ok {
			t.Fatal("countdown stopped early")
		}
	}

	snap, err := h.c.TerminateActiveTask(ctx)
	if err != nil {
		t.Fatalf("TerminateActiveTask failed: %v", err)
	}
	if snap.ID != id || !snap.Terminated {
		t.Errorf("summary = %+v, want terminated task %s", snap, id)
	}
	if snap.CompletedAt == nil {
		t.Fatal("CompletedAt not set")
	}
	if snap.ElapsedSeconds != 90 {
		t.Errorf("ElapsedSeconds = %d, want 90", snap.ElapsedSeconds)
	}
	if snap.Score != nil {
		t.Error("terminated task should carry no score")
	}

	if h.c.State() != StateCompleted {
		t.Errorf("State = %v, want completed", h.c.State())
	}
	if _, ok := h.c.ActiveTask(); ok {
		t.Error("terminated task is still active")
	}
	if got := h.c.History(time.Time{}, time.Time{}); len(got) != 1 || got[0].ID != id {
		t.Errorf("history = %v, want the terminated task once", got)
	}
	if len(h.sink.saved) != 1 {
		t.Errorf("sink saved %d tasks, want 1", len(h.sink.saved))
	}
	if h.spy.count("begin") != 0 {
		t.Error("terminate must not start verification")
	}
	if h.engine.State() != countdown.StateCancelled {
		t.Errorf("engine state = %v, want cancelled", h.engine.State())
	}

	if _, err := h.c.TerminateActiveTask(ctx); !errors.Is(err, task.ErrNoActiveTask) {
		t.Errorf("second terminate error = %v, want ErrNoActiveTask", err)
	}
	if got := h.c.History(time.Time{}, time.Time{}); len(got) != 1 {
		t.Errorf("history has %d entries after second terminate, want 1", len(got))
	}
	if cues := h.cues.got(); len(cues) != 1 || cues[0] != notify.KindTerminated {
		t.Errorf("cues = %v, want [terminated]", cues)
	}
}

func TestTerminateAfterExpiryIsIllegal(t *testing.T) {
	h := newHarness(t, nil)
	h.create(t, 1)
	h.expire(t)

	if _, err := h.c.TerminateActiveTask(context.Background()); !errors.Is(err, task.ErrIllegalTransition) {
		t.Errorf("terminate error = %v, want ErrIllegalTransition", err)
	}
	if h.c.State() != StateVerifying {
		t.Errorf("State = %v, want verifying", h.c.State())
	}
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestExpiryVerificationCompletion(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	orch := verify.New(verify.Options{Now: clock.Now})
	h := newHarness(t, orch)
	ctx := context.Background()

	expired := h.c.SubscribeExpired()
	id := h.create(t, 1)
	h.expire(t)

	select {
	case <-expired:
	default:
		t.Fatal("expiry was not signalled")
	}

	handle, err := h.c.BeginVerification(ctx, task.MethodDrawing)
	if err != nil {
		t.Fatalf("BeginVerification failed: %v", err)
	}

	evidence := verify.DrawingEvidence{Strokes: []verify.Stroke{{Points: []verify.Point{{X: 1, Y: 1}, {X: 4, Y: 2}}}}}
	if _, err := h.c.SubmitVerificationEvidence(ctx, handle, evidence); !errors.Is(err, task.ErrNotReady) {
		t.Fatalf("early submit error = %v, want ErrNotReady", err)
	}
	if _, err := h.c.CompleteVerification(ctx, handle); !errors.Is(err, task.ErrNotReady) {
		t.Fatalf("complete before score error = %v, want ErrNotReady", err)
	}

	clock.Advance(6 * time.Second)
	score, err := h.c.SubmitVerificationEvidence(ctx, handle, nil)
	if err != nil {
		t.Fatalf("SubmitVerificationEvidence failed: %v", err)
	}

	snap, err := h.c.CompleteVerification(ctx, handle)
	if err != nil {
		t.Fatalf("CompleteVerification failed: %v", err)
	}
	if snap.ID != id || snap.Terminated || snap.CompletedAt == nil {
		t.Errorf("unexpected summary %+v", snap)
	}
	if snap.Score == nil || snap.Score.Total != score.Total {
		t.Errorf("summary score = %v, want %d", snap.Score, score.Total)
	}
	if snap.Method != task.MethodDrawing {
		t.Errorf("Method = %q, want drawing", snap.Method)
	}
	if snap.ElapsedSeconds != 60 {
		t.Errorf("ElapsedSeconds = %d, want 60", snap.ElapsedSeconds)
	}
	if orch.State() != verify.StateClosed {
		t.Errorf("orchestrator state = %v, want closed", orch.State())
	}
	if h.c.State() != StateCompleted {
		t.Errorf("State = %v, want completed", h.c.State())
	}
	if len(h.c.History(time.Time{}, time.Time{})) != 1 {
		t.Error("completed task should be in history once")
	}

	cues := h.cues.got()
	if len(cues) != 2 || cues[0] != notify.KindExpired || cues[1] != notify.KindCompleted {
		t.Errorf("cues = %v, want [expired completed]", cues)
	}

	// the slot is free again
	h.create(t, 5)
}

func TestStaleHandle(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.create(t, 1)
	h.expire(t)

	if _, err := h.c.BeginVerification(ctx, ""); err != nil {
		t.Fatalf("BeginVerification failed: %v", err)
	}

	bogus := verify.Handle{ID: "someone-else"}
	if _, err := h.c.SubmitVerificationEvidence(ctx, bogus, nil); !errors.Is(err, task.ErrStaleHandle) {
		t.Errorf("submit error = %v, want ErrStaleHandle", err)
	}
	if _, err := h.c.CompleteVerification(ctx, bogus); !errors.Is(err, task.ErrStaleHandle) {
		t.Errorf("complete error = %v, want ErrStaleHandle", err)
	}
}

func TestBeginVerificationTwice(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.create(t, 1)
	h.expire(t)

	if _, err := h.c.BeginVerification(ctx, ""); err != nil {
		t.Fatalf("BeginVerification failed: %v", err)
	}
	if _, err := h.c.BeginVerification(ctx, ""); !errors.Is(err, task.ErrIllegalTransition) {
		t.Errorf("second begin error = %v, want ErrIllegalTransition", err)
	}
}

func TestPreassignedMethodIsUsed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if _, err := h.c.CreateTask(ctx, Request{Category: task.CategoryLife, Minutes: 1, Method: task.MethodVocal}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	h.expire(t)

	handle, err := h.c.BeginVerification(ctx, "")
	if err != nil {
		t.Fatalf("BeginVerification failed: %v", err)
	}
	if handle.Method != task.MethodVocal {
		t.Errorf("Method = %q, want vocal", handle.Method)
	}
}

func TestPermissionDeniedThenCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.spy.beginErr = task.ErrPermissionDenied
	ctx := context.Background()
	h.create(t, 1)
	h.expire(t)

	handle, err := h.c.BeginVerification(ctx, task.MethodVocal)
	if !errors.Is(err, task.ErrPermissionDenied) {
		t.Fatalf("BeginVerification error = %v, want ErrPermissionDenied", err)
	}
	if handle.ID == "" {
		t.Error("denied attempt should still return a handle")
	}

	if _, err := h.c.RetryVerification(ctx, handle); err != nil {
		t.Errorf("RetryVerification failed: %v", err)
	}

	if err := h.c.CancelActiveTask(ctx); err != nil {
		t.Fatalf("CancelActiveTask failed: %v", err)
	}
	if h.c.State() != StateCancelled {
		t.Errorf("State = %v, want cancelled", h.c.State())
	}
	if h.spy.count("teardown") == 0 {
		t.Error("cancel should tear down verification")
	}
	if len(h.c.History(time.Time{}, time.Time{})) != 0 || len(h.sink.saved) != 0 {
		t.Error("cancelled task must not be recorded")
	}
	if h.pub.current != nil {
		t.Error("active snapshot should be cleared")
	}
}

func TestCancelWhileRunning(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.create(t, 5)

	if err := h.c.CancelActiveTask(ctx); err != nil {
		t.Fatalf("CancelActiveTask failed: %v", err)
	}
	if h.engine.State() != countdown.StateCancelled {
		t.Errorf("engine = %v, want cancelled", h.engine.State())
	}
	if err := h.c.CancelActiveTask(ctx); !errors.Is(err, task.ErrNoActiveTask) {
		t.Errorf("second cancel error = %v, want ErrNoActiveTask", err)
	}
	if _, err := h.c.AdjustActiveTask(ctx, 1); !errors.Is(err, task.ErrNoActiveTask) {
		t.Errorf("adjust after cancel error = %v, want ErrNoActiveTask", err)
	}
}

func TestStaleExpiryIsDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	expired := h.c.SubscribeExpired()
	h.create(t, 1)

	var ev countdown.Event
	for {
		next, ok := h.engine.Tick()
		if !ok {
			t.Fatal("countdown stopped before expiring")
		}
		if next.Kind == countdown.EventExpired {
			ev = next
			break
		}
	}

	// the user cancels before the control loop sees the expiry
	if err := h.c.CancelActiveTask(ctx); err != nil {
		t.Fatalf("CancelActiveTask failed: %v", err)
	}
	h.c.handleEvent(ctx, ev)

	select {
	case <-expired:
		t.Error("stale expiry reached subscribers")
	default:
	}
	if h.c.State() != StateCancelled {
		t.Errorf("State = %v, want cancelled", h.c.State())
	}
}

func TestManualPushPausesCountdown(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.create(t, 20)

	if _, err := h.c.BeginVerification(ctx, task.MethodDrawing); err != nil {
		t.Fatalf("BeginVerification failed: %v", err)
	}
	if h.engine.State() != countdown.StatePaused {
		t.Errorf("engine = %v, want paused", h.engine.State())
	}
	if h.c.State() != StateVerifying {
		t.Errorf("State = %v, want verifying", h.c.State())
	}
	if _, err := h.c.AdjustActiveTask(ctx, 1); !errors.Is(err, task.ErrNotRunning) {
		t.Errorf("adjust while verifying error = %v, want ErrNotRunning", err)
	}
}

func TestManualPushRecordsTimeSpent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.create(t, 25)

	for i := 0; i < 60; i++ {
		if _, ok := h.engine.Tick(); !ok {
			t.Fatalf("tick %d: countdown stopped", i)
		}
	}

	handle, err := h.c.BeginVerification(ctx, task.MethodDrawing)
	if err != nil {
		t.Fatalf("BeginVerification failed: %v", err)
	}
	if _, err := h.c.SubmitVerificationEvidence(ctx, handle, nil); err != nil {
		t.Fatalf("SubmitVerificationEvidence failed: %v", err)
	}
	snap, err := h.c.CompleteVerification(ctx, handle)
	if err != nil {
		t.Fatalf("CompleteVerification failed: %v", err)
	}
	if snap.ElapsedSeconds != 60 {
		t.Errorf("ElapsedSeconds = %d, want 60", snap.ElapsedSeconds)
	}
	if snap.Terminated {
		t.Error("a verified task is not terminated")
	}
}

func TestAdjustAfterElapsedTimeKeepsElapsed(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.create(t, 25)

	for i := 0; i < 1200; i++ {
		if _, ok := h.engine.Tick(); !ok {
			t.Fatalf("tick %d: countdown stopped", i)
		}
	}

	effective, err := h.c.AdjustActiveTask(ctx, -10)
	if err != nil {
		t.Fatalf("AdjustActiveTask failed: %v", err)
	}
	if effective != -4 {
		t.Errorf("effective = %d, want -4", effective)
	}

	snap, err := h.c.TerminateActiveTask(ctx)
	if err != nil {
		t.Fatalf("TerminateActiveTask failed: %v", err)
	}
	if snap.CurrentMinutes != snap.PlannedMinutes+snap.AdjustmentTotal() {
		t.Errorf("current %d != planned %d + %v", snap.CurrentMinutes, snap.PlannedMinutes, snap.Adjustments)
	}
	if snap.ElapsedSeconds != 1200 {
		t.Errorf("ElapsedSeconds = %d, want 1200", snap.ElapsedSeconds)
	}
}

func TestBackgroundInterruptsVerification(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.create(t, 1)

	if err := h.c.Background(ctx); err != nil {
		t.Fatalf("Background while running failed: %v", err)
	}
	if h.spy.count("interrupt") != 0 {
		t.Error("nothing to interrupt while running")
	}

	h.expire(t)
	if _, err := h.c.BeginVerification(ctx, ""); err != nil {
		t.Fatalf("BeginVerification failed: %v", err)
	}
	if err := h.c.Background(ctx); err != nil {
		t.Fatalf("Background failed: %v", err)
	}
	if h.spy.count("interrupt") != 1 {
		t.Errorf("interrupt called %d times, want 1", h.spy.count("interrupt"))
	}
	if h.c.State() != StateVerifying {
		t.Errorf("State = %v, want verifying", h.c.State())
	}
}

func TestIllegalTransition(t *testing.T) {
	h := newHarness(t, nil)
	h.create(t, 5)

	if _, err := h.c.CompleteVerification(context.Background(), verify.Handle{}); !errors.Is(err, task.ErrIllegalTransition) {
		t.Errorf("complete while running error = %v, want ErrIllegalTransition", err)
	}
	if h.c.State() != StateRunning {
		t.Errorf("State = %v, want running", h.c.State())
	}
}

func TestStrictModePanics(t *testing.T) {
	engine := countdown.New(countdown.Options{
		NewTicker: func(time.Duration) countdown.TickSource { return stillTicker{} },
	})
	c := New(Options{Countdown: engine, Verifier: &spyVerifier{}, Strict: true})
	defer engine.Cancel()

	if _, err := c.CreateTask(context.Background(), Request{Category: task.CategoryWork, Minutes: 5}); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, task.ErrIllegalTransition) {
			t.Errorf("recovered %v, want ErrIllegalTransition panic", r)
		}
	}()
	_, _ = c.CompleteVerification(context.Background(), verify.Handle{})
}

func TestHistoryRange(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, nil)
	h.c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.create(t, 5)
		if _, err := h.c.TerminateActiveTask(ctx); err != nil {
			t.Fatalf("TerminateActiveTask failed: %v", err)
		}
		now = now.Add(time.Hour)
	}

	from := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	if got := h.c.History(from, time.Time{}); len(got) != 2 {
		t.Errorf("History from 10:00 = %d tasks, want 2", len(got))
	}
	if got := h.c.History(from, from); len(got) != 1 {
		t.Errorf("History at 10:00 = %d tasks, want 1", len(got))
	}
	if got := h.c.History(time.Time{}, time.Time{}); len(got) != 3 {
		t.Errorf("full history = %d tasks, want 3", len(got))
	}
}
