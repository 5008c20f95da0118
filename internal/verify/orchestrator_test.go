package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Jayphen/timestop/internal/task"
)

// tracker records how many audio resources are open at once.
type tracker struct {
	mu        sync.Mutex
	active    int
	maxActive int
	events    []string
}

func (tr *tracker) open(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.active++
	if tr.active > tr.maxActive {
		tr.maxActive = tr.active
	}
	tr.events = append(tr.events, "open "+name)
}

func (tr *tracker) close(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.active--
	tr.events = append(tr.events, "close "+name)
}

func (tr *tracker) snapshot() (active, maxActive int, events []string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.active, tr.maxActive, append([]string(nil), tr.events...)
}

type fakeCapture struct {
	tr       *tracker
	mu       sync.Mutex
	elapsed  time.Duration
	stopped  bool
	closed   bool
	closeErr error
}

func (c *fakeCapture) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

func (c *fakeCapture) setElapsed(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.elapsed = d
}

func (c *fakeCapture) Stop() (AudioClip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return AudioClip{Duration: c.elapsed, Data: []byte("pcm")}, nil
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.tr.close("capture")
	}
	return c.closeErr
}

type fakeRecorder struct {
	tr       *tracker
	mu       sync.Mutex
	captures []*fakeCapture
	closeErr error
}

func (r *fakeRecorder) Record(context.Context) (Capture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tr.open("capture")
	c := &fakeCapture{tr: r.tr, closeErr: r.closeErr}
	r.captures = append(r.captures, c)
	return c, nil
}

func (r *fakeRecorder) last(t *testing.T) *fakeCapture {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.captures) == 0 {
		t.Fatal("no capture was opened")
	}
	return r.captures[len(r.captures)-1]
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.captures)
}

type fakeUtterance struct {
	tr      *tracker
	started chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (u *fakeUtterance) Started() <-chan struct{} { return u.started }
func (u *fakeUtterance) Done() <-chan struct{}    { return u.done }
func (u *fakeUtterance) Close() error {
	u.once.Do(func() { u.tr.close("synthesis") })
	return nil
}

type fakeSynth struct {
	tr      *tracker
	hang    bool
	spoken  []string
	spokeMu sync.Mutex
}

func (s *fakeSynth) Speak(_ context.Context, text string) (Utterance, error) {
	s.spokeMu.Lock()
	s.spoken = append(s.spoken, text)
	s.spokeMu.Unlock()

	s.tr.open("synthesis")
	u := &fakeUtterance{tr: s.tr, started: make(chan struct{}), done: make(chan struct{})}
	if !s.hang {
		close(u.started)
	}
	return u, nil
}

type fakePlayback struct {
	tr   *tracker
	done chan struct{}
	once sync.Once
}

func (p *fakePlayback) Done() <-chan struct{} { return p.done }
func (p *fakePlayback) Close() error {
	p.once.Do(func() { p.tr.close("playback") })
	return nil
}

type fakePlayer struct {
	tr     *tracker
	played []AudioClip
}

func (p *fakePlayer) Play(_ context.Context, clip AudioClip) (Playback, error) {
	p.tr.open("playback")
	p.played = append(p.played, clip)
	return &fakePlayback{tr: p.tr, done: make(chan struct{})}, nil
}

type fakePermissions struct {
	mu        sync.Mutex
	state     Permission
	onRequest Permission
	requests  int
}

func (p *fakePermissions) set(s Permission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = s
}

func (p *fakePermissions) CapturePermission(context.Context) Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePermissions) RequestCapture(context.Context) Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests++
	p.state = p.onRequest
	return p.state
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type rig struct {
	o     *Orchestrator
	tr    *tracker
	rec   *fakeRecorder
	synth *fakeSynth
	play  *fakePlayer
	perms *fakePermissions
	clock *fakeClock
}

func newRig(t *testing.T) *rig {
	t.Helper()

	tr := &tracker{}
	r := &rig{
		tr:    tr,
		rec:   &fakeRecorder{tr: tr},
		synth: &fakeSynth{tr: tr},
		play:  &fakePlayer{tr: tr},
		perms: &fakePermissions{state: PermissionGranted, onRequest: PermissionGranted},
		clock: &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
	}
	r.o = New(Options{
		Devices: Devices{
			Recorder:    r.rec,
			Synthesizer: r.synth,
			Player:      r.play,
			Permissions: r.perms,
		},
		PlaybackStartTimeout: 20 * time.Millisecond,
		Pick:                 func(int) int { return 0 },
		Now:                  r.clock.Now,
	})
	t.Cleanup(func() { _ = r.o.Teardown(context.Background()) })
	return r
}

func (r *rig) assertExclusive(t *testing.T) {
	t.Helper()
	if _, maxActive, events := r.tr.snapshot(); maxActive > 1 {
		t.Errorf("%d resources were open at once: %v", maxActive, events)
	}
}

func TestPermissionDenied(t *testing.T) {
	r := newRig(t)
	r.perms.set(PermissionDenied)
	ctx := context.Background()

	h, err := r.o.Begin(ctx, task.MethodVocal)
	if !errors.Is(err, task.ErrPermissionDenied) {
		t.Fatalf("Begin error = %v, want ErrPermissionDenied", err)
	}
	if h.ID == "" || h.Method != task.MethodVocal {
		t.Errorf("unexpected handle %+v", h)
	}
	if r.o.State() != StatePermissionDenied {
		t.Errorf("State = %v, want permission-denied", r.o.State())
	}
	if r.o.Held() != ResourceNone {
		t.Errorf("Held = %v, want none", r.o.Held())
	}
	if r.rec.count() != 0 {
		t.Error("recorder should not be touched without permission")
	}

	// still denied
	if _, err := r.o.Retry(ctx); !errors.Is(err, task.ErrPermissionDenied) {
		t.Errorf("Retry error = %v, want ErrPermissionDenied", err)
	}

	r.perms.set(PermissionGranted)
	if _, err := r.o.Retry(ctx); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if r.o.State() != StateAwaitingCapture {
		t.Errorf("State = %v, want awaiting-capture", r.o.State())
	}
	if r.o.Held() != ResourceCapture {
		t.Errorf("Held = %v, want capture", r.o.Held())
	}
}

func TestUndeterminedPermissionIsRequested(t *testing.T) {
	r := newRig(t)
	r.perms.set(PermissionUndetermined)

	if _, err := r.o.Begin(context.Background(), task.MethodVocal); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if r.perms.requests != 1 {
		t.Errorf("permission requested %d times, want 1", r.perms.requests)
	}
}

func TestDrawingNeedsNoPermission(t *testing.T) {
	r := newRig(t)
	r.perms.set(PermissionDenied)

	if _, err := r.o.Begin(context.Background(), task.MethodDrawing); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if r.o.State() != StateAwaitingCapture {
		t.Errorf("State = %v, want awaiting-capture", r.o.State())
	}
}

func TestWarmupGate(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.o.Begin(ctx, task.MethodDrawing); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	stroke := DrawingEvidence{Strokes: []Stroke{{Points: []Point{{1, 1}, {2, 2}}}}}
	if err := r.o.Record(stroke); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	r.clock.Advance(4 * time.Second)
	if r.o.FinishEnabled() {
		t.Error("finish should be disabled during warm-up")
	}
	if got := r.o.WarmupRemaining(); got != time.Second {
		t.Errorf("WarmupRemaining = %v, want 1s", got)
	}
	if _, err := r.o.Submit(ctx, nil); !errors.Is(err, task.ErrNotReady) {
		t.Errorf("early Submit error = %v, want ErrNotReady", err)
	}

	r.clock.Advance(time.Second)
	if !r.o.FinishEnabled() {
		t.Fatal("finish should be enabled after warm-up")
	}

	score, err := r.o.Submit(ctx, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if score.Total < 0 || score.Total > 100 {
		t.Errorf("Total = %d, out of range", score.Total)
	}
	for _, name := range []string{ComponentBase, ComponentQuality, ComponentTiming, ComponentModality} {
		if _, ok := score.Breakdown[name]; !ok {
			t.Errorf("breakdown missing %q", name)
		}
	}
	if r.o.State() != StateScored {
		t.Errorf("State = %v, want scored", r.o.State())
	}
}

func TestDrawingRequiresStrokes(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.o.Begin(ctx, task.MethodDrawing); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	r.clock.Advance(10 * time.Second)

	if r.o.FinishEnabled() {
		t.Error("empty canvas should not be finishable")
	}
	if _, err := r.o.Submit(ctx, DrawingEvidence{Strokes: []Stroke{{}}}); !errors.Is(err, task.ErrNotReady) {
		t.Errorf("Submit error = %v, want ErrNotReady", err)
	}
	if _, err := r.o.Submit(ctx, AudioEvidence{}); err == nil {
		t.Error("expected error for mismatched evidence")
	}
}

func TestVocalNeedsMinimumCapture(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.o.Begin(ctx, task.MethodVocal); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	r.clock.Advance(10 * time.Second)
	capture := r.rec.last(t)

	capture.setElapsed(5 * time.Second)
	if r.o.FinishEnabled() {
		t.Error("5s of audio should not be enough")
	}

	capture.setElapsed(8 * time.Second)
	if !r.o.FinishEnabled() {
		t.Fatal("8s of audio should be enough")
	}

	score, err := r.o.Submit(ctx, nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !capture.stopped || !capture.closed {
		t.Error("capture should be stopped and closed before scoring")
	}
	if score.Breakdown[ComponentQuality] != 16 {
		t.Errorf("quality = %d, want 16", score.Breakdown[ComponentQuality])
	}
	if r.o.Held() != ResourceNone {
		t.Errorf("Held = %v, want none", r.o.Held())
	}
}

func TestResourceExclusivity(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	h, err := r.o.Begin(ctx, task.MethodReadAloud)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if h.Passage == "" {
		t.Fatal("read-aloud handle should carry a passage")
	}
	if r.o.Held() != ResourceSynthesis {
		t.Fatalf("Held = %v, want synthesis", r.o.Held())
	}

	for i := 0; i < 3; i++ {
		if err := r.o.StartCapture(ctx); err != nil {
			t.Fatalf("StartCapture failed: %v", err)
		}
	}
	r.rec.last(t).setElapsed(3 * time.Second)

	if err := r.o.Replay(ctx); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if r.o.Held() != ResourcePlayback {
		t.Errorf("Held = %v, want playback", r.o.Held())
	}
	if len(r.play.played) != 1 || r.play.played[0].Duration != 3*time.Second {
		t.Errorf("played = %+v, want the 3s clip", r.play.played)
	}

	if _, err := r.o.Speak(ctx); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	r.assertExclusive(t)

	if err := r.o.Teardown(ctx); err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if active, _, events := r.tr.snapshot(); active != 0 {
		t.Errorf("%d resources still open after teardown: %v", active, events)
	}
}

func TestRapidCaptureToggles(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.o.Begin(ctx, task.MethodVocal); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = r.o.StartCapture(ctx)
			} else {
				_ = r.o.Interrupt(ctx)
			}
		}(i)
	}
	wg.Wait()

	r.assertExclusive(t)
	_ = r.o.Teardown(ctx)
	if active, _, _ := r.tr.snapshot(); active != 0 {
		t.Errorf("%d resources open after teardown", active)
	}
}

func TestSpeakTimeoutFallsBack(t *testing.T) {
	r := newRig(t)
	r.synth.hang = true
	ctx := context.Background()

	start := time.Now()
	if _, err := r.o.Begin(ctx, task.MethodReadAloud); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Begin blocked for %v on a hung synthesizer", elapsed)
	}

	started, err := r.o.Speak(ctx)
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if started {
		t.Error("hung synthesizer should report not started")
	}
	if r.o.State() != StateAwaitingCapture {
		t.Errorf("State = %v, want awaiting-capture", r.o.State())
	}
}

func TestReadAloudTranscript(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	h, err := r.o.Begin(ctx, task.MethodReadAloud)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	r.clock.Advance(20 * time.Second)

	score, err := r.o.Submit(ctx, ReadAloudEvidence{Transcript: h.Passage})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if score.Breakdown[ComponentQuality] != 30 || score.Breakdown[ComponentModality] != 10 {
		t.Errorf("breakdown = %v, want full quality and modality", score.Breakdown)
	}
	if score.Total != 100 {
		t.Errorf("Total = %d, want 100", score.Total)
	}
}

func TestCloseOnlyAfterScore(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.o.Begin(ctx, task.MethodDrawing); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := r.o.Close(ctx); !errors.Is(err, task.ErrIllegalTransition) {
		t.Errorf("Close error = %v, want ErrIllegalTransition", err)
	}
	if _, err := r.o.Begin(ctx, task.MethodDrawing); !errors.Is(err, task.ErrIllegalTransition) {
		t.Errorf("second Begin error = %v, want ErrIllegalTransition", err)
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	if _, err := r.o.Begin(ctx, task.MethodVocal); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	capture := r.rec.last(t)

	for i := 0; i < 3; i++ {
		if err := r.o.Teardown(ctx); err != nil {
			t.Fatalf("Teardown %d failed: %v", i, err)
		}
	}
	if !capture.closed {
		t.Error("capture should be closed")
	}
	if r.o.State() != StateClosed {
		t.Errorf("State = %v, want closed", r.o.State())
	}
	if _, ok := r.o.Handle(); ok {
		t.Error("closed orchestrator should expose no handle")
	}

	// a closed orchestrator can run the next verification
	if _, err := r.o.Begin(ctx, task.MethodDrawing); err != nil {
		t.Errorf("Begin after teardown failed: %v", err)
	}
}

func TestTeardownFailureStillCloses(t *testing.T) {
	r := newRig(t)
	r.rec.closeErr = errors.New("device busy")
	ctx := context.Background()

	if _, err := r.o.Begin(ctx, task.MethodVocal); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	err := r.o.Teardown(ctx)
	if !errors.Is(err, task.ErrResourceTeardown) {
		t.Errorf("Teardown error = %v, want ErrResourceTeardown", err)
	}
	if r.o.State() != StateClosed {
		t.Errorf("State = %v, want closed", r.o.State())
	}
	if r.o.Held() != ResourceNone {
		t.Errorf("Held = %v, want none", r.o.Held())
	}
}

func TestRandomSelection(t *testing.T) {
	tr := &tracker{}
	for i, want := range task.Methods {
		i := i
		o := New(Options{
			Devices: Devices{Recorder: &fakeRecorder{tr: tr}, Synthesizer: &fakeSynth{tr: tr}},
			Pick:    func(int) int { return i },
		})
		h, err := o.Begin(context.Background(), "")
		if err != nil {
			t.Fatalf("Begin failed: %v", err)
		}
		if h.Method != want {
			t.Errorf("pick %d chose %s, want %s", i, h.Method, want)
		}
		_ = o.Teardown(context.Background())
	}
}

func TestCustomScorerIsClamped(t *testing.T) {
	r := newRig(t)
	r.o.opts.Scorers = map[task.Method]Scorer{
		task.MethodDrawing: ScorerFunc(func(Evidence, time.Duration) Score {
			return Score{Total: 250, Breakdown: map[string]int{"custom": 250}}
		}),
	}
	ctx := context.Background()

	if _, err := r.o.Begin(ctx, task.MethodDrawing); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	r.clock.Advance(6 * time.Second)
	score, err := r.o.Submit(ctx, DrawingEvidence{Strokes: []Stroke{{Points: []Point{{0, 0}}}}})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if score.Total != 100 {
		t.Errorf("Total = %d, want 100", score.Total)
	}
}
