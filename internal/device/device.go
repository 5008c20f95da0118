// Package device backs the verification audio resources with OS commands:
// a recorder that streams raw audio to stdout, a text-to-speech command, and
// a player that reads a raw audio file.
package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/Jayphen/timestop/internal/logging"
	"github.com/Jayphen/timestop/internal/verify"
)

// stopGrace is how long a recorder gets to flush after an interrupt.
const stopGrace = 2 * time.Second

// speechSettle is how long a synthesizer must stay up before it counts as
// speaking. Commands that fail to open the audio device exit sooner.
const speechSettle = 250 * time.Millisecond

// Config names the commands used for each resource. Each value is a
// command line split on whitespace. The player gets the clip file appended,
// the synthesizer the text.
type Config struct {
	Recorder    string `yaml:"recorder"`
	Synthesizer string `yaml:"synthesizer"`
	Player      string `yaml:"player"`
	// Permission forces the capture permission: "granted", "denied", or
	// empty to probe for the recorder.
	Permission string `yaml:"permission"`
}

// Defaults returns the stock commands for goos.
func Defaults(goos string) Config {
	switch goos {
	case "darwin":
		return Config{
			Recorder:    "rec -q -t raw -r 16000 -b 16 -c 1 -e signed-integer -",
			Synthesizer: "say",
			Player:      "play -q -t raw -r 16000 -b 16 -c 1 -e signed-integer",
		}
	case "linux":
		return Config{
			Recorder:    "arecord -q -f S16_LE -r 16000 -c 1 -t raw",
			Synthesizer: "espeak",
			Player:      "aplay -q -f S16_LE -r 16000 -c 1 -t raw",
		}
	default:
		return Config{}
	}
}

// New builds the device set for cfg. Empty commands fall back to the
// platform defaults; a resource with no command is left nil.
func New(cfg Config, log *logging.Logger) (verify.Devices, error) {
	if log == nil {
		log = logging.Nop()
	}
	log = log.WithComponent("device")
	def := Defaults(runtime.GOOS)

	perm, err := parsePermission(cfg.Permission)
	if err != nil {
		return verify.Devices{}, err
	}

	var devs verify.Devices
	recorder := orDefault(cfg.Recorder, def.Recorder)
	if name, args := split(recorder); name != "" {
		devs.Recorder = &Recorder{name: name, args: args, log: log}
	}
	if name, args := split(orDefault(cfg.Synthesizer, def.Synthesizer)); name != "" {
		devs.Synthesizer = &Synthesizer{name: name, args: args, log: log}
	}
	if name, args := split(orDefault(cfg.Player, def.Player)); name != "" {
		devs.Player = &Player{name: name, args: args, log: log}
	}
	recName, _ := split(recorder)
	devs.Permissions = NewPermissions(perm, recName)
	return devs, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func split(cmdline string) (string, []string) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func parsePermission(s string) (verify.Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return verify.PermissionUndetermined, nil
	case "granted":
		return verify.PermissionGranted, nil
	case "denied":
		return verify.PermissionDenied, nil
	default:
		return verify.PermissionUndetermined, fmt.Errorf("invalid permission %q (want granted or denied)", s)
	}
}

// Permissions reports capture permission. Unless forced, permission is
// granted when the recorder command can be found on PATH.
type Permissions struct {
	mu       sync.Mutex
	state    verify.Permission
	recorder string
	lookPath func(string) (string, error)
}

// NewPermissions creates a checker starting in state.
func NewPermissions(state verify.Permission, recorder string) *Permissions {
	return &Permissions{state: state, recorder: recorder, lookPath: exec.LookPath}
}

func (p *Permissions) CapturePermission(context.Context) verify.Permission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Permissions) RequestCapture(context.Context) verify.Permission {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != verify.PermissionUndetermined {
		return p.state
	}
	if p.recorder == "" {
		p.state = verify.PermissionDenied
		return p.state
	}
	if _, err := p.lookPath(p.recorder); err != nil {
		p.state = verify.PermissionDenied
	} else {
		p.state = verify.PermissionGranted
	}
	return p.state
}

// process is a running command with a done channel. err holds the exit
// status once done is closed.
type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
	once sync.Once
}

func startProcess(cmd *exec.Cmd) (*process, error) {
	cmd.WaitDelay = stopGrace
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// stop interrupts the process and kills it if it does not exit in time.
func (p *process) stop(interrupt bool) {
	p.once.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		if interrupt {
			if err := p.cmd.Process.Signal(os.Interrupt); err == nil {
				select {
				case <-p.done:
					return
				case <-time.After(stopGrace):
				}
			}
		}
		_ = p.cmd.Process.Kill()
		<-p.done
	})
}

// lockedBuffer collects command output written from another goroutine.
type lockedBuffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

// Recorder captures audio from a command writing raw samples to stdout.
type Recorder struct {
	name string
	args []string
	log  *logging.Logger
}

func (r *Recorder) Record(ctx context.Context) (verify.Capture, error) {
	buf := &lockedBuffer{}
	cmd := exec.CommandContext(ctx, r.name, r.args...)
	cmd.Stdout = buf

	proc, err := startProcess(cmd)
	if err != nil {
		return nil, fmt.Errorf("starting recorder %s: %w", r.name, err)
	}
	r.log.WithField("command", r.name).Debug("recording started")
	return &capture{proc: proc, buf: buf, started: time.Now()}, nil
}

type capture struct {
	proc    *process
	buf     *lockedBuffer
	started time.Time

	mu      sync.Mutex
	elapsed time.Duration
	stopped bool
}

func (c *capture) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return c.elapsed
	}
	return time.Since(c.started)
}

func (c *capture) Stop() (verify.AudioClip, error) {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		c.elapsed = time.Since(c.started)
	}
	elapsed := c.elapsed
	c.mu.Unlock()

	c.proc.stop(true)
	return verify.AudioClip{Duration: elapsed, Data: c.buf.Bytes()}, nil
}

func (c *capture) Close() error {
	c.mu.Lock()
	if !c.stopped {
		c.stopped = true
		c.elapsed = time.Since(c.started)
	}
	c.mu.Unlock()

	c.proc.stop(false)
	return nil
}

// Synthesizer speaks text by running a TTS command with the text appended.
//
// Speech counts as started when the command writes any output, exits
// successfully, or is still running after a short settle period. A command
// that fails before then never starts, so the caller's start timeout applies.
type Synthesizer struct {
	name   string
	args   []string
	settle time.Duration
	log    *logging.Logger
}

func (s *Synthesizer) Speak(ctx context.Context, text string) (verify.Utterance, error) {
	args := append(append([]string(nil), s.args...), text)
	cmd := exec.CommandContext(ctx, s.name, args...)
	out := &firstWrite{signal: make(chan struct{})}
	cmd.Stdout = out
	cmd.Stderr = out

	proc, err := startProcess(cmd)
	if err != nil {
		return nil, fmt.Errorf("starting synthesizer %s: %w", s.name, err)
	}
	s.log.WithField("command", s.name).Debug("speech started")

	settle := s.settle
	if settle <= 0 {
		settle = speechSettle
	}
	started := make(chan struct{})
	go func() {
		timer := time.NewTimer(settle)
		defer timer.Stop()

		select {
		case <-out.signal:
		case <-timer.C:
			select {
			case <-proc.done:
				if proc.err != nil {
					return
				}
			default:
			}
		case <-proc.done:
			if proc.err != nil {
				s.log.WithError(proc.err).WithField("command", s.name).Warn("synthesizer failed before speaking")
				return
			}
		}
		close(started)
	}()
	return &utterance{proc: proc, started: started}, nil
}

// firstWrite discards output and closes signal on the first write.
type firstWrite struct {
	signal chan struct{}
	once   sync.Once
}

func (w *firstWrite) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.once.Do(func() { close(w.signal) })
	}
	return len(p), nil
}

type utterance struct {
	proc    *process
	started chan struct{}
}

func (u *utterance) Started() <-chan struct{} { return u.started }
func (u *utterance) Done() <-chan struct{}    { return u.proc.done }
func (u *utterance) Close() error {
	u.proc.stop(false)
	return nil
}

// Player plays a clip by writing it to a temp file and running the player
// command with the file appended.
type Player struct {
	name string
	args []string
	log  *logging.Logger
}

func (p *Player) Play(ctx context.Context, clip verify.AudioClip) (verify.Playback, error) {
	if len(clip.Data) == 0 {
		return nil, errors.New("clip has no audio data")
	}

	f, err := os.CreateTemp("", "timestop-*.raw")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	if _, err := f.Write(clip.Data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	args := append(append([]string(nil), p.args...), path)
	proc, err := startProcess(exec.CommandContext(ctx, p.name, args...))
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("starting player %s: %w", p.name, err)
	}
	p.log.WithField("command", p.name).Debug("playback started")

	pb := &playback{proc: proc, path: path}
	go func() {
		<-proc.done
		pb.cleanup()
	}()
	return pb, nil
}

type playback struct {
	proc *process
	path string
	once sync.Once
}

func (p *playback) Done() <-chan struct{} { return p.proc.done }

func (p *playback) Close() error {
	p.proc.stop(false)
	p.cleanup()
	return nil
}

func (p *playback) cleanup() {
	p.once.Do(func() { os.Remove(p.path) })
}
