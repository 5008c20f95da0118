// Package verify runs the stop-verification challenge that follows a
// task's natural expiry.
//
// The Orchestrator selects a modality, owns the audio resources the
// modality needs, gates the finish action behind a warm-up window and
// scores the evidence. Every exit path funnels through one idempotent
// teardown that releases all resources before the orchestrator reports
// Closed.
package verify

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Jayphen/timestop/internal/logging"
	"github.com/Jayphen/timestop/internal/task"
)

// State is the orchestrator's position in the verification flow.
type State int

const (
	StateIdle State = iota
	StateSelecting
	StateAwaitingCapture
	StateEvaluating
	StateScored
	StateClosed
	StatePermissionDenied
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSelecting:
		return "selecting"
	case StateAwaitingCapture:
		return "awaiting-capture"
	case StateEvaluating:
		return "evaluating"
	case StateScored:
		return "scored"
	case StateClosed:
		return "closed"
	case StatePermissionDenied:
		return "permission-denied"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Defaults for Options.
const (
	DefaultWarmup               = 5 * time.Second
	DefaultPlaybackStartTimeout = 3 * time.Second
	DefaultMinVocalCapture      = 8 * time.Second
)

// Options configures an Orchestrator.
type Options struct {
	Devices Devices

	// Warmup is how long the finish action stays disabled after Begin.
	Warmup time.Duration
	// PlaybackStartTimeout bounds the wait for synthesized speech to start.
	PlaybackStartTimeout time.Duration
	// MinVocalCapture is the audio a vocal performance needs.
	MinVocalCapture time.Duration

	// Scorers overrides the scorer per modality.
	Scorers  map[task.Method]Scorer
	Passages []string

	// Pick returns a uniform index in [0,n).
	Pick func(n int) int
	Now  func() time.Time

	Logger *logging.Logger
}

// Handle identifies one verification attempt.
type Handle struct {
	ID      string
	Method  task.Method
	Passage string
	BeganAt time.Time
}

// Orchestrator drives one verification at a time.
type Orchestrator struct {
	opts    Options
	log     *logging.Logger
	arbiter *Arbiter

	mu      sync.Mutex
	state   State
	handle  Handle
	flow    Flow
	capture Capture
	score   Score
	session context.Context
	cancel  context.CancelFunc
}

// New creates an idle orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Warmup <= 0 {
		opts.Warmup = DefaultWarmup
	}
	if opts.PlaybackStartTimeout <= 0 {
		opts.PlaybackStartTimeout = DefaultPlaybackStartTimeout
	}
	if opts.MinVocalCapture <= 0 {
		opts.MinVocalCapture = DefaultMinVocalCapture
	}
	if len(opts.Passages) == 0 {
		opts.Passages = DefaultPassages
	}
	if opts.Pick == nil {
		opts.Pick = rand.IntN
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Devices.Permissions == nil {
		opts.Devices.Permissions = grantAll{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	log := opts.Logger.WithComponent("verify")
	return &Orchestrator{
		opts:    opts,
		log:     log,
		arbiter: NewArbiter(opts.Logger),
	}
}

func (o *Orchestrator) illegal(op string) error {
	return fmt.Errorf("%w: %s while %s", task.ErrIllegalTransition, op, o.state)
}

func (o *Orchestrator) setStateLocked(next State) {
	o.log.WithFields(map[string]interface{}{
		"from":   o.state.String(),
		"to":     next.String(),
		"handle": o.handle.ID,
	}).Debug("verification transition")
	o.state = next
}

// Begin selects a modality and starts its flow. An empty method is chosen
// uniformly at random. If the modality needs capture and permission is
// refused, the orchestrator enters PermissionDenied, holds no resources and
// returns ErrPermissionDenied together with the handle.
func (o *Orchestrator) Begin(ctx context.Context, method task.Method) (Handle, error) {
	o.mu.Lock()
	if o.state != StateIdle && o.state != StateClosed {
		err := o.illegal("begin")
		o.mu.Unlock()
		return Handle{}, err
	}

	if method == "" {
		method = task.Methods[o.opts.Pick(len(task.Methods))]
	}
	passage := ""
	if method == task.MethodReadAloud {
		passage = o.opts.Passages[o.opts.Pick(len(o.opts.Passages))]
	}
	flow, err := newFlow(method, passage, o.opts.MinVocalCapture)
	if err != nil {
		o.mu.Unlock()
		return Handle{}, err
	}

	o.handle = Handle{ID: uuid.NewString(), Method: method, Passage: passage}
	o.setStateLocked(StateSelecting)
	o.flow = flow
	o.score = Score{}
	o.capture = nil
	o.session, o.cancel = context.WithCancel(context.Background())

	if method.NeedsCapture() && !o.permittedLocked(ctx) {
		o.setStateLocked(StatePermissionDenied)
		h := o.handle
		o.mu.Unlock()
		o.log.WithField("method", string(method)).Warn("capture permission denied")
		return h, task.ErrPermissionDenied
	}

	h := o.enterAwaitingLocked()
	o.mu.Unlock()

	o.startFlow(ctx)
	return h, nil
}

// Retry checks permission again after a denial.
func (o *Orchestrator) Retry(ctx context.Context) (Handle, error) {
	o.mu.Lock()
	if o.state != StatePermissionDenied {
		err := o.illegal("retry")
		o.mu.Unlock()
		return Handle{}, err
	}
	if !o.permittedLocked(ctx) {
		h := o.handle
		o.mu.Unlock()
		return h, task.ErrPermissionDenied
	}
	h := o.enterAwaitingLocked()
	o.mu.Unlock()

	o.startFlow(ctx)
	return h, nil
}

func (o *Orchestrator) permittedLocked(ctx context.Context) bool {
	p := o.opts.Devices.Permissions.CapturePermission(ctx)
	if p == PermissionUndetermined {
		p = o.opts.Devices.Permissions.RequestCapture(ctx)
	}
	return p == PermissionGranted
}

func (o *Orchestrator) enterAwaitingLocked() Handle {
	o.handle.BeganAt = o.opts.Now()
	o.setStateLocked(StateAwaitingCapture)
	return o.handle
}

// startFlow runs the modality's opening move.
func (o *Orchestrator) startFlow(ctx context.Context) {
	o.mu.Lock()
	flow := o.flow
	o.mu.Unlock()

	switch flow.(type) {
	case *VocalFlow:
		if err := o.StartCapture(ctx); err != nil {
			o.log.WithError(err).Warn("could not start recording, waiting for the user to retry")
		}
	case *ReadAloudFlow:
		if _, err := o.Speak(ctx); err != nil {
			o.log.WithError(err).Warn("could not read the passage aloud")
		}
	case *DrawingFlow:
		// the canvas needs no device
	}
}

// StartCapture begins recording, releasing any playback or synthesis first.
func (o *Orchestrator) StartCapture(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateAwaitingCapture || !o.flow.Method().NeedsCapture() {
		return o.illegal("start capture")
	}
	rec := o.opts.Devices.Recorder
	if rec == nil {
		return errors.New("no recorder configured")
	}

	flow := o.flow
	return o.arbiter.Acquire(ResourceCapture, func() (func() error, error) {
		c, err := rec.Record(ctx)
		if err != nil {
			return nil, err
		}
		o.capture = c
		return func() error {
			// Called with o.mu held, from Acquire or Release.
			o.capture = nil
			clip, stopErr := c.Stop()
			if stopErr == nil {
				flow.addClip(clip)
			}
			return errors.Join(stopErr, c.Close())
		}, nil
	})
}

// Speak reads the read-aloud passage through the synthesizer. It waits at
// most PlaybackStartTimeout for speech to begin and reports whether it did;
// a synthesizer that never starts does not block the flow.
func (o *Orchestrator) Speak(ctx context.Context) (bool, error) {
	o.mu.Lock()
	flow, ok := o.flow.(*ReadAloudFlow)
	if o.state != StateAwaitingCapture || !ok {
		err := o.illegal("speak")
		o.mu.Unlock()
		return false, err
	}
	synth := o.opts.Devices.Synthesizer
	if synth == nil {
		o.mu.Unlock()
		o.log.Warn("no synthesizer configured, passage shown as text only")
		return false, nil
	}

	var utt Utterance
	err := o.arbiter.Acquire(ResourceSynthesis, func() (func() error, error) {
		u, err := synth.Speak(ctx, flow.Passage())
		if err != nil {
			return nil, err
		}
		utt = u
		return u.Close, nil
	})
	session := o.session
	o.mu.Unlock()
	if err != nil {
		return false, err
	}

	timer := time.NewTimer(o.opts.PlaybackStartTimeout)
	defer timer.Stop()

	select {
	case <-utt.Started():
		return true, nil
	case <-timer.C:
		o.log.WithField("timeout", o.opts.PlaybackStartTimeout.String()).
			Warn("speech did not start in time, continuing without it")
		return false, nil
	case <-session.Done():
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Replay plays back the latest recording, stopping any live capture.
func (o *Orchestrator) Replay(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateAwaitingCapture || !o.flow.Method().NeedsCapture() {
		return o.illegal("replay")
	}
	player := o.opts.Devices.Player
	if player == nil {
		return errors.New("no player configured")
	}

	return o.arbiter.Acquire(ResourcePlayback, func() (func() error, error) {
		clip, ok := lastClip(o.flow)
		if !ok {
			return nil, errors.New("nothing recorded yet")
		}
		pb, err := player.Play(ctx, clip)
		if err != nil {
			return nil, err
		}
		return pb.Close, nil
	})
}

// Record feeds evidence gathered by the caller, such as canvas strokes or
// a transcript.
func (o *Orchestrator) Record(ev Evidence) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateAwaitingCapture {
		return o.illegal("record")
	}
	return o.flow.Record(ev)
}

// FinishEnabled reports whether the finish action is allowed: the warm-up
// window has passed and the modality has what it needs.
func (o *Orchestrator) FinishEnabled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.state == StateAwaitingCapture && o.gateOpenLocked() && o.flow.Ready(o.liveLocked())
}

// WarmupRemaining returns how long until the finish gate opens.
func (o *Orchestrator) WarmupRemaining() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateAwaitingCapture {
		return 0
	}
	left := o.opts.Warmup - o.opts.Now().Sub(o.handle.BeganAt)
	if left < 0 {
		return 0
	}
	return left
}

func (o *Orchestrator) gateOpenLocked() bool {
	return o.opts.Now().Sub(o.handle.BeganAt) >= o.opts.Warmup
}

func (o *Orchestrator) liveLocked() time.Duration {
	if o.capture == nil {
		return 0
	}
	return o.capture.Elapsed()
}

// Submit finishes the flow and scores it. ev may be nil when the evidence
// was captured by the orchestrator's own devices.
func (o *Orchestrator) Submit(ctx context.Context, ev Evidence) (Score, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateAwaitingCapture {
		return Score{}, o.illegal("submit")
	}
	if ev != nil {
		if err := o.flow.Record(ev); err != nil {
			return Score{}, err
		}
	}
	if !o.gateOpenLocked() {
		return Score{}, fmt.Errorf("%w: warm-up still running", task.ErrNotReady)
	}
	if !o.flow.Ready(o.liveLocked()) {
		return Score{}, fmt.Errorf("%w: %s needs more input", task.ErrNotReady, o.flow.Method())
	}

	o.setStateLocked(StateEvaluating)
	if err := o.arbiter.Release(); err != nil {
		o.log.WithError(err).Warn("releasing capture before scoring")
	}

	evidence := o.flow.Finish()
	spent := o.opts.Now().Sub(o.handle.BeganAt)
	score := o.scorerFor(o.flow.Method()).Score(evidence, spent)
	score.Total = clamp(score.Total, 0, 100)

	o.score = score
	o.setStateLocked(StateScored)

	o.log.WithFields(map[string]interface{}{
		"method": string(o.flow.Method()),
		"score":  score.Total,
	}).Info("verification scored")

	return score, nil
}

func (o *Orchestrator) scorerFor(m task.Method) Scorer {
	if s, ok := o.opts.Scorers[m]; ok && s != nil {
		return s
	}
	return DefaultScorer{}
}

// Close ends a scored verification. Resources are released before the
// orchestrator reports Closed.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateScored {
		return o.illegal("close")
	}
	return o.teardownLocked()
}

// Teardown aborts whatever is in flight, releases every resource and moves
// to Closed. It is safe to call from any state and more than once; a handle
// that fails to release is logged and does not stop the transition.
func (o *Orchestrator) Teardown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateIdle || o.state == StateClosed {
		return nil
	}
	return o.teardownLocked()
}

func (o *Orchestrator) teardownLocked() error {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	err := o.arbiter.Release()
	if err != nil {
		o.log.WithError(err).Warn("resource teardown failed")
	}
	o.capture = nil
	o.setStateLocked(StateClosed)
	return err
}

// Interrupt releases held resources but keeps the verification open, for
// when the app loses the foreground.
func (o *Orchestrator) Interrupt(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.arbiter.Release()
	if err != nil {
		o.log.WithError(err).Warn("resource release on interrupt failed")
	}
	return err
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Handle returns the current attempt, if one was begun.
func (o *Orchestrator) Handle() (Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateIdle || o.state == StateClosed {
		return Handle{}, false
	}
	return o.handle, true
}

// Score returns the score of a scored verification.
func (o *Orchestrator) Score() (Score, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.score, o.state == StateScored
}

// Held returns the audio resource currently held.
func (o *Orchestrator) Held() Resource {
	return o.arbiter.Held()
}
