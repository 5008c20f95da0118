package task

import "errors"

var (
	// ErrAlreadyActive is returned when a task is created while another is active.
	ErrAlreadyActive = errors.New("a task is already active")

	// ErrNoActiveTask is returned when an operation needs an active task and there is none.
	ErrNoActiveTask = errors.New("no active task")

	// ErrNotRunning is returned when an operation requires a running countdown.
	ErrNotRunning = errors.New("task is not running")

	// ErrIllegalTransition is returned when the lifecycle is driven out of order.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrPermissionDenied is returned when audio capture is not permitted.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrResourceTeardown is reported when an external handle fails to release.
	ErrResourceTeardown = errors.New("resource teardown failed")

	// ErrStaleHandle is returned when a verification handle no longer matches the session.
	ErrStaleHandle = errors.New("stale verification handle")

	// ErrNotReady is returned when verification is finished before it may be.
	ErrNotReady = errors.New("verification not ready to finish")

	// ErrAlreadyRecorded is returned when a task is appended to history twice.
	ErrAlreadyRecorded = errors.New("task already recorded")

	// ErrInvalidDuration is returned for planned durations below one minute.
	ErrInvalidDuration = errors.New("duration must be at least one minute")
)
