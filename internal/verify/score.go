package verify

import (
	"strings"
	"time"
	"unicode"

	"github.com/Jayphen/timestop/internal/task"
)

// Score is the verification result: a total in [0,100] and its named parts.
type Score = task.Score

// Score component names.
const (
	ComponentBase     = "base"
	ComponentQuality  = "quality"
	ComponentTiming   = "timing"
	ComponentModality = "modality"
)

// componentMax bounds each component; the bounds sum to 100.
var componentMax = map[string]int{
	ComponentBase:     40,
	ComponentQuality:  30,
	ComponentTiming:   20,
	ComponentModality: 10,
}

// Scorer turns evidence into a score. spent is the time between the start
// of verification and submission.
type Scorer interface {
	Score(ev Evidence, spent time.Duration) Score
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ev Evidence, spent time.Duration) Score

func (f ScorerFunc) Score(ev Evidence, spent time.Duration) Score { return f(ev, spent) }

// DefaultScorer is the built-in heuristic.
type DefaultScorer struct{}

func (DefaultScorer) Score(ev Evidence, spent time.Duration) Score {
	parts := map[string]int{
		ComponentBase:   40,
		ComponentTiming: timingScore(spent),
	}

	switch ev := ev.(type) {
	case DrawingEvidence:
		points := 0
		for _, s := range ev.Strokes {
			points += len(s.Points)
		}
		parts[ComponentQuality] = points / 4
		parts[ComponentModality] = len(ev.Strokes) * 3
	case AudioEvidence:
		secs := int(ev.Clip.Duration / time.Second)
		parts[ComponentQuality] = secs * 2
		if secs >= 15 {
			parts[ComponentModality] = 10
		} else {
			parts[ComponentModality] = 5
		}
	case ReadAloudEvidence:
		coverage := passageCoverage(ev.Passage, ev.Transcript)
		if ev.Transcript != "" {
			parts[ComponentQuality] = int(coverage * 30)
		} else {
			parts[ComponentQuality] = int(ev.Clip.Duration/time.Second) * 2
			if parts[ComponentQuality] > 20 {
				parts[ComponentQuality] = 20
			}
		}
		if coverage >= 0.8 {
			parts[ComponentModality] = 10
		}
	}

	return Normalize(parts)
}

// Normalize clamps every known component to its range and the total to
// [0,100]. Unknown components are dropped.
func Normalize(parts map[string]int) Score {
	out := Score{Breakdown: make(map[string]int, len(componentMax))}
	for name, limit := range componentMax {
		v := clamp(parts[name], 0, limit)
		out.Breakdown[name] = v
		out.Total += v
	}
	out.Total = clamp(out.Total, 0, 100)
	return out
}

func timingScore(spent time.Duration) int {
	switch {
	case spent < 5*time.Second:
		return 0
	case spent < 15*time.Second:
		return 10
	case spent <= 2*time.Minute:
		return 20
	default:
		return 15
	}
}

// passageCoverage is the share of passage words present in the transcript.
func passageCoverage(passage, transcript string) float64 {
	want := words(passage)
	if len(want) == 0 {
		return 0
	}
	have := make(map[string]int)
	for _, w := range words(transcript) {
		have[w]++
	}
	hit := 0
	for _, w := range want {
		if have[w] > 0 {
			have[w]--
			hit++
		}
	}
	return float64(hit) / float64(len(want))
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
