// Package task defines the focus-session record, its closed enumerations,
// and the in-memory completion history.
package task

import (
	"fmt"
	"time"
)

// Category is the kind of activity a task tracks.
type Category string

const (
	CategoryWork       Category = "work"
	CategoryMeeting    Category = "meeting"
	CategoryReading    Category = "reading"
	CategorySleep      Category = "sleep"
	CategoryExercise   Category = "exercise"
	CategoryLeisure    Category = "leisure"
	CategoryReflection Category = "reflection"
	CategoryLife       Category = "life"
)

// Categories is the closed list of known categories.
var Categories = []Category{
	CategoryWork,
	CategoryMeeting,
	CategoryReading,
	CategorySleep,
	CategoryExercise,
	CategoryLeisure,
	CategoryReflection,
	CategoryLife,
}

// IsValid checks if a category is recognized.
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// ParseCategory converts user input into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.IsValid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Method is the stop-verification modality run after expiry.
type Method string

const (
	MethodDrawing   Method = "drawing"
	MethodVocal     Method = "vocal"
	MethodReadAloud Method = "read-aloud"
)

// Methods is the closed list of verification modalities.
var Methods = []Method{MethodDrawing, MethodVocal, MethodReadAloud}

// IsValid checks if a method is recognized.
func (m Method) IsValid() bool {
	for _, known := range Methods {
		if known == m {
			return true
		}
	}
	return false
}

// NeedsCapture reports whether the modality records audio.
func (m Method) NeedsCapture() bool {
	return m == MethodVocal || m == MethodReadAloud
}

// ParseMethod converts user input into a Method.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !m.IsValid() {
		return "", fmt.Errorf("unknown verification method %q", s)
	}
	return m, nil
}

// Score is the verification outcome attached to a completed task.
type Score struct {
	Total     int            `json:"total"`
	Breakdown map[string]int `json:"breakdown,omitempty"`
}

// Snapshot is an immutable copy of a task, safe to hand to callers.
type Snapshot struct {
	ID             string     `json:"id"`
	Category       Category   `json:"category"`
	PlannedMinutes int        `json:"plannedMinutes"`
	CurrentMinutes int        `json:"currentMinutes"`
	Adjustments    []int      `json:"adjustments"`
	Terminated     bool       `json:"terminated"`
	Method         Method     `json:"method,omitempty"`
	Note           string     `json:"note,omitempty"`
	ElapsedSeconds int        `json:"elapsedSeconds"`
	Score          *Score     `json:"score,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a copy that shares no slices, maps or pointers with s.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Adjustments != nil {
		out.Adjustments = append([]int(nil), s.Adjustments...)
	}
	if s.Score != nil {
		out.Score = &Score{Total: s.Score.Total, Breakdown: copyBreakdown(s.Score.Breakdown)}
	}
	if s.StartedAt != nil {
		started := *s.StartedAt
		out.StartedAt = &started
	}
	if s.CompletedAt != nil {
		completed := *s.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

// AdjustmentTotal returns the sum of all recorded adjustments.
func (s Snapshot) AdjustmentTotal() int {
	total := 0
	for _, d := range s.Adjustments {
		total += d
	}
	return total
}
