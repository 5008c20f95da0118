// Package ledger turns minute adjustments requested by the user into
// countdown changes and audit entries on the task.
package ledger

import (
	"fmt"

	"github.com/Jayphen/timestop/internal/countdown"
	"github.com/Jayphen/timestop/internal/logging"
	"github.com/Jayphen/timestop/internal/task"
)

// Countdown is the part of the countdown engine the ledger drives.
type Countdown interface {
	Adjust(deltaSeconds int) (int, error)
	Remaining() int
}

var _ Countdown = (*countdown.Engine)(nil)

// Ledger applies adjustments to the active task.
type Ledger struct {
	clock Countdown
	log   *logging.Logger
}

// New creates a ledger over the given countdown.
func New(clock Countdown, log *logging.Logger) *Ledger {
	if log == nil {
		log = logging.Nop()
	}
	return &Ledger{clock: clock, log: log.WithComponent("ledger")}
}

// Apply adjusts t by the requested minutes and returns the effective delta.
//
// The request is clamped so the task keeps at least one minute and the
// countdown keeps at least one second. Only whole minutes the countdown
// actually moved are recorded on the task, so CurrentSeconds minus the
// remaining time stays equal to the time really spent. The planned duration
// is never touched.
func (l *Ledger) Apply(t *task.Task, minutes int) (int, error) {
	effective := t.ClampAdjustment(minutes)
	if effective < 0 {
		effective = max(effective, -reducibleMinutes(l.clock.Remaining()))
	}
	if effective == 0 {
		return 0, nil
	}

	applied, err := l.clock.Adjust(effective * 60)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", task.ErrNotRunning, err)
	}

	// A tick between Remaining and Adjust can leave a partial minute.
	// Give it back so the countdown only moves by whole minutes.
	recorded := applied / 60
	if rest := applied - recorded*60; rest != 0 {
		if _, err := l.clock.Adjust(-rest); err != nil {
			l.log.WithTaskID(t.ID()).WithError(err).Warn("could not restore partial minute")
		}
	}
	if recorded == 0 {
		l.log.WithTaskID(t.ID()).WithField("requested", minutes).
			Debug("countdown already at its floor, adjustment not recorded")
		return 0, nil
	}

	if err := t.RecordAdjustment(recorded); err != nil {
		return 0, err
	}

	l.log.WithTaskID(t.ID()).WithFields(map[string]interface{}{
		"requested": minutes,
		"effective": recorded,
		"current":   t.CurrentMinutes(),
	}).Debug("adjustment recorded")

	return recorded, nil
}

// reducibleMinutes is how many whole minutes can come off remaining seconds
// while leaving at least one second on the clock.
func reducibleMinutes(remaining int) int {
	if remaining <= 1 {
		return 0
	}
	return (remaining - 1) / 60
}
