package verify

import (
	"fmt"
	"time"

	"github.com/Jayphen/timestop/internal/task"
)

// Point is a canvas coordinate.
type Point struct {
	X, Y int
}

// Stroke is one continuous pen movement.
type Stroke struct {
	Points []Point
}

// Evidence is the raw material a modality hands to the scorer. The set of
// implementations is closed: DrawingEvidence, AudioEvidence and
// ReadAloudEvidence.
type Evidence interface {
	evidence()
}

// DrawingEvidence is a snapshot of the canvas.
type DrawingEvidence struct {
	Strokes []Stroke
}

// AudioEvidence is a vocal performance recording.
type AudioEvidence struct {
	Clip AudioClip
}

// ReadAloudEvidence is a reading attempt of a passage.
type ReadAloudEvidence struct {
	Passage    string
	Transcript string
	Clip       AudioClip
}

func (DrawingEvidence) evidence()   {}
func (AudioEvidence) evidence()     {}
func (ReadAloudEvidence) evidence() {}

// Flow is the modality-specific part of a verification. The set of
// implementations is closed: *DrawingFlow, *VocalFlow and *ReadAloudFlow.
type Flow interface {
	Method() task.Method
	// Ready reports whether the flow has enough to finish, given the audio
	// captured by a recording still in progress.
	Ready(live time.Duration) bool
	// Record feeds evidence gathered by the caller.
	Record(ev Evidence) error
	// Finish yields the evidence to score.
	Finish() Evidence

	addClip(clip AudioClip)
}

func newFlow(method task.Method, passage string, minCapture time.Duration) (Flow, error) {
	switch method {
	case task.MethodDrawing:
		return &DrawingFlow{}, nil
	case task.MethodVocal:
		return &VocalFlow{minCapture: minCapture}, nil
	case task.MethodReadAloud:
		return &ReadAloudFlow{passage: passage}, nil
	default:
		return nil, fmt.Errorf("unknown verification method %q", method)
	}
}

// DrawingFlow asks for a doodle on the canvas.
type DrawingFlow struct {
	strokes []Stroke
}

func (f *DrawingFlow) Method() task.Method { return task.MethodDrawing }

func (f *DrawingFlow) Ready(time.Duration) bool {
	for _, s := range f.strokes {
		if len(s.Points) > 0 {
			return true
		}
	}
	return false
}

func (f *DrawingFlow) Record(ev Evidence) error {
	d, ok := ev.(DrawingEvidence)
	if !ok {
		return fmt.Errorf("drawing verification cannot use %T", ev)
	}
	for _, s := range d.Strokes {
		if len(s.Points) == 0 {
			continue
		}
		pts := make([]Point, len(s.Points))
		copy(pts, s.Points)
		f.strokes = append(f.strokes, Stroke{Points: pts})
	}
	return nil
}

func (f *DrawingFlow) Finish() Evidence {
	out := make([]Stroke, len(f.strokes))
	copy(out, f.strokes)
	return DrawingEvidence{Strokes: out}
}

func (f *DrawingFlow) addClip(AudioClip) {}

// VocalFlow asks for a sung or spoken performance of a minimum length.
type VocalFlow struct {
	minCapture time.Duration
	clips      []AudioClip
}

func (f *VocalFlow) Method() task.Method { return task.MethodVocal }

func (f *VocalFlow) Ready(live time.Duration) bool {
	return totalDuration(f.clips)+live >= f.minCapture
}

func (f *VocalFlow) Record(ev Evidence) error {
	a, ok := ev.(AudioEvidence)
	if !ok {
		return fmt.Errorf("vocal verification cannot use %T", ev)
	}
	f.addClip(a.Clip)
	return nil
}

func (f *VocalFlow) Finish() Evidence {
	return AudioEvidence{Clip: joinClips(f.clips)}
}

func (f *VocalFlow) addClip(clip AudioClip) {
	if clip.Duration > 0 || len(clip.Data) > 0 {
		f.clips = append(f.clips, clip)
	}
}

// ReadAloudFlow asks the user to read back a passage.
type ReadAloudFlow struct {
	passage    string
	transcript string
	clips      []AudioClip
}

func (f *ReadAloudFlow) Method() task.Method { return task.MethodReadAloud }

// Passage returns the text the user must read.
func (f *ReadAloudFlow) Passage() string { return f.passage }

func (f *ReadAloudFlow) Ready(live time.Duration) bool {
	return live > 0 || len(f.clips) > 0 || f.transcript != ""
}

func (f *ReadAloudFlow) Record(ev Evidence) error {
	r, ok := ev.(ReadAloudEvidence)
	if !ok {
		return fmt.Errorf("read-aloud verification cannot use %T", ev)
	}
	if r.Transcript != "" {
		f.transcript = r.Transcript
	}
	f.addClip(r.Clip)
	return nil
}

func (f *ReadAloudFlow) Finish() Evidence {
	return ReadAloudEvidence{
		Passage:    f.passage,
		Transcript: f.transcript,
		Clip:       joinClips(f.clips),
	}
}

func (f *ReadAloudFlow) addClip(clip AudioClip) {
	if clip.Duration > 0 || len(clip.Data) > 0 {
		f.clips = append(f.clips, clip)
	}
}

func totalDuration(clips []AudioClip) time.Duration {
	var d time.Duration
	for _, c := range clips {
		d += c.Duration
	}
	return d
}

func joinClips(clips []AudioClip) AudioClip {
	var out AudioClip
	for _, c := range clips {
		out.Duration += c.Duration
		out.Data = append(out.Data, c.Data...)
	}
	return out
}

func lastClip(f Flow) (AudioClip, bool) {
	var clips []AudioClip
	switch f := f.(type) {
	case *VocalFlow:
		clips = f.clips
	case *ReadAloudFlow:
		clips = f.clips
	}
	if len(clips) == 0 {
		return AudioClip{}, false
	}
	return clips[len(clips)-1], true
}
