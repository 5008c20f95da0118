package verify

import (
	"context"
	"time"
)

// Permission is the state of the audio capture permission.
type Permission int

const (
	PermissionUndetermined Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "undetermined"
	}
}

// PermissionChecker reports whether audio capture is allowed.
type PermissionChecker interface {
	CapturePermission(ctx context.Context) Permission
	// RequestCapture prompts for permission when it is undetermined.
	RequestCapture(ctx context.Context) Permission
}

// AudioClip is a finished recording.
type AudioClip struct {
	Duration time.Duration
	Data     []byte
}

// Capture is a live recording session.
type Capture interface {
	// Elapsed is how much audio has been captured so far.
	Elapsed() time.Duration
	// Stop ends the recording and returns what was captured.
	Stop() (AudioClip, error)
	// Close releases the underlying device. Safe to call after Stop.
	Close() error
}

// Recorder opens capture sessions.
type Recorder interface {
	Record(ctx context.Context) (Capture, error)
}

// Utterance is a speech synthesis in flight.
type Utterance interface {
	Started() <-chan struct{}
	Done() <-chan struct{}
	Close() error
}

// Synthesizer speaks text aloud.
type Synthesizer interface {
	Speak(ctx context.Context, text string) (Utterance, error)
}

// Playback is a clip being played back.
type Playback interface {
	Done() <-chan struct{}
	Close() error
}

// Player plays recorded clips.
type Player interface {
	Play(ctx context.Context, clip AudioClip) (Playback, error)
}

// Devices bundles the external audio collaborators.
type Devices struct {
	Recorder    Recorder
	Synthesizer Synthesizer
	Player      Player
	Permissions PermissionChecker
}

type grantAll struct{}

func (grantAll) CapturePermission(context.Context) Permission { return PermissionGranted }
func (grantAll) RequestCapture(context.Context) Permission    { return PermissionGranted }
