package verify

import (
	"fmt"
	"sync"

	"github.com/Jayphen/timestop/internal/logging"
	"github.com/Jayphen/timestop/internal/task"
)

// Resource identifies one of the mutually exclusive audio resources.
type Resource int

const (
	ResourceNone Resource = iota
	ResourceCapture
	ResourcePlayback
	ResourceSynthesis
)

func (r Resource) String() string {
	switch r {
	case ResourceCapture:
		return "capture"
	case ResourcePlayback:
		return "playback"
	case ResourceSynthesis:
		return "synthesis"
	default:
		return "none"
	}
}

// Arbiter holds at most one audio resource at a time. Acquiring a resource
// first releases whatever is held.
type Arbiter struct {
	mu      sync.Mutex
	held    Resource
	release func() error
	log     *logging.Logger
}

// NewArbiter creates an empty arbiter.
func NewArbiter(log *logging.Logger) *Arbiter {
	if log == nil {
		log = logging.Nop()
	}
	return &Arbiter{log: log.WithComponent("arbiter")}
}

// Acquire releases the current resource and then calls open. The release
// function open returns is kept until the next Acquire or Release.
func (a *Arbiter) Acquire(kind Resource, open func() (func() error, error)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.releaseLocked(); err != nil {
		a.log.WithError(err).WithField("next", kind.String()).Warn("previous resource did not release cleanly")
	}

	release, err := open()
	if err != nil {
		return err
	}
	a.held = kind
	a.release = release
	a.log.WithField("resource", kind.String()).Debug("resource acquired")
	return nil
}

// Release drops the held resource. The slot is always cleared, even if the
// handle fails to close.
func (a *Arbiter) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.releaseLocked()
}

func (a *Arbiter) releaseLocked() error {
	if a.held == ResourceNone {
		return nil
	}
	kind, release := a.held, a.release
	a.held, a.release = ResourceNone, nil

	if release == nil {
		return nil
	}
	if err := release(); err != nil {
		return fmt.Errorf("%w: %s: %v", task.ErrResourceTeardown, kind, err)
	}
	a.log.WithField("resource", kind.String()).Debug("resource released")
	return nil
}

// Held returns the resource currently held.
func (a *Arbiter) Held() Resource {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.held
}
