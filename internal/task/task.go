package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task is the durable record of one focus session.
//
// All fields are private. The lifecycle controller owns the only pointer to
// the active task and mutates it through the transition methods below; every
// other caller works with a Snapshot.
type Task struct {
	id             string
	category       Category
	plannedMinutes int
	currentMinutes int
	adjustments    []int
	terminated     bool
	method         Method
	note           string
	elapsedSeconds int
	score          *Score

	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
}

// New creates a task in its initial state. The method may be empty, in which
// case the verification orchestrator assigns one later.
func New(category Category, plannedMinutes int, method Method, note string, now time.Time) (*Task, error) {
	if !category.IsValid() {
		return nil, fmt.Errorf("unknown category %q", category)
	}
	if plannedMinutes < 1 {
		return nil, ErrInvalidDuration
	}
	if method != "" && !method.IsValid() {
		return nil, fmt.Errorf("unknown verification method %q", method)
	}

	return &Task{
		id:             uuid.NewString(),
		category:       category,
		plannedMinutes: plannedMinutes,
		currentMinutes: plannedMinutes,
		adjustments:    []int{},
		method:         method,
		note:           note,
		createdAt:      now,
	}, nil
}

func (t *Task) ID() string           { return t.id }
func (t *Task) Category() Category   { return t.category }
func (t *Task) PlannedMinutes() int  { return t.plannedMinutes }
func (t *Task) CurrentMinutes() int  { return t.currentMinutes }
func (t *Task) Terminated() bool     { return t.terminated }
func (t *Task) Method() Method       { return t.method }
func (t *Task) Note() string         { return t.note }
func (t *Task) CreatedAt() time.Time { return t.createdAt }
func (t *Task) IsFinal() bool        { return t.completedAt != nil }
func (t *Task) ElapsedSeconds() int  { return t.elapsedSeconds }
func (t *Task) CurrentSeconds() int  { return t.currentMinutes * 60 }
func (t *Task) HasStarted() bool     { return t.startedAt != nil }

// Adjustments returns a copy of the adjustment log.
func (t *Task) Adjustments() []int {
	out := make([]int, len(t.adjustments))
	copy(out, t.adjustments)
	return out
}

// Start stamps the start time. It may only happen once.
func (t *Task) Start(at time.Time) error {
	if t.startedAt != nil || t.IsFinal() {
		return fmt.Errorf("%w: task %s already started", ErrIllegalTransition, t.id)
	}
	t.startedAt = &at
	return nil
}

// ClampAdjustment returns the part of the requested minute delta that keeps
// the current duration at or above one minute.
func (t *Task) ClampAdjustment(minutes int) int {
	if t.currentMinutes+minutes < 1 {
		return 1 - t.currentMinutes
	}
	return minutes
}

// RecordAdjustment appends an already clamped delta to the log.
func (t *Task) RecordAdjustment(effective int) error {
	if t.IsFinal() {
		return fmt.Errorf("%w: task %s is final", ErrIllegalTransition, t.id)
	}
	if effective == 0 {
		return nil
	}
	if t.currentMinutes+effective < 1 {
		return fmt.Errorf("adjustment %d would drop task %s below one minute", effective, t.id)
	}
	t.adjustments = append(t.adjustments, effective)
	t.currentMinutes += effective
	return nil
}

// AssignMethod records the modality the orchestrator picked.
func (t *Task) AssignMethod(m Method) error {
	if !m.IsValid() {
		return fmt.Errorf("unknown verification method %q", m)
	}
	if t.method != "" && t.method != m {
		return fmt.Errorf("%w: task %s already uses %s", ErrIllegalTransition, t.id, t.method)
	}
	t.method = m
	return nil
}

// Terminate finalizes a task the user ended before expiry.
func (t *Task) Terminate(at time.Time, elapsedSeconds int) error {
	if err := t.finalize(at); err != nil {
		return err
	}
	t.terminated = true
	t.elapsedSeconds = clampElapsed(elapsedSeconds, t.CurrentSeconds())
	return nil
}

// Complete finalizes a task that passed verification. elapsedSeconds is the
// full duration after expiry, or less when verification began early.
func (t *Task) Complete(at time.Time, elapsedSeconds int, score Score) error {
	if err := t.finalize(at); err != nil {
		return err
	}
	t.elapsedSeconds = clampElapsed(elapsedSeconds, t.CurrentSeconds())
	t.score = &Score{Total: score.Total, Breakdown: copyBreakdown(score.Breakdown)}
	return nil
}

// Cancel finalizes a discarded task.
func (t *Task) Cancel(at time.Time, elapsedSeconds int) error {
	if err := t.finalize(at); err != nil {
		return err
	}
	t.elapsedSeconds = clampElapsed(elapsedSeconds, t.CurrentSeconds())
	return nil
}

func (t *Task) finalize(at time.Time) error {
	if t.completedAt != nil {
		return fmt.Errorf("%w: task %s already finalized", ErrIllegalTransition, t.id)
	}
	t.completedAt = &at
	return nil
}

// Snapshot returns an immutable copy of the task.
func (t *Task) Snapshot() Snapshot {
	s := Snapshot{
		ID:             t.id,
		Category:       t.category,
		PlannedMinutes: t.plannedMinutes,
		CurrentMinutes: t.currentMinutes,
		Adjustments:    t.Adjustments(),
		Terminated:     t.terminated,
		Method:         t.method,
		Note:           t.note,
		ElapsedSeconds: t.elapsedSeconds,
		CreatedAt:      t.createdAt,
	}
	if t.startedAt != nil {
		started := *t.startedAt
		s.StartedAt = &started
	}
	if t.completedAt != nil {
		completed := *t.completedAt
		s.CompletedAt = &completed
	}
	if t.score != nil {
		s.Score = &Score{Total: t.score.Total, Breakdown: copyBreakdown(t.score.Breakdown)}
	}
	return s
}

func clampElapsed(elapsed, limit int) int {
	if elapsed < 0 {
		return 0
	}
	if elapsed > limit {
		return limit
	}
	return elapsed
}

func copyBreakdown(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
