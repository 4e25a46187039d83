// Package contour holds pitch contours and the small amount of signal math
// shared by fingerprinting and alignment.
package contour

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ReferenceHz is A4; pitches are expressed in semitones relative to it.
const ReferenceHz = 440.0

var ErrMalformed = errors.New("malformed contour")

// Sample is the wire form of one contour frame. Pitch is nil when unvoiced.
type Sample struct {
	Time  float64  `json:"time"`
	Pitch *float64 `json:"pitch"`
}

// Contour is an ordered pitch track. Pitch[i] is NaN when frame i is unvoiced.
type Contour struct {
	Times []float64
	Pitch []float64
}

// HzToSemitones converts a frequency to semitones relative to A4.
func HzToSemitones(hz float64) float64 {
	return 12 * math.Log2(hz/ReferenceHz)
}

// New builds a contour from parallel slices. Times must be strictly increasing.
func New(times, pitch []float64) (Contour, error) {
	if len(times) != len(pitch) {
		return Contour{}, fmt.Errorf("%d times vs %d pitches: %w", len(times), len(pitch), ErrMalformed)
	}
	for i := range times {
		if math.IsNaN(times[i]) || math.IsInf(times[i], 0) {
			return Contour{}, fmt.Errorf("non-finite time at frame %d: %w", i, ErrMalformed)
		}
		if i > 0 && times[i] <= times[i-1] {
			return Contour{}, fmt.Errorf("time not increasing at frame %d: %w", i, ErrMalformed)
		}
		if math.IsInf(pitch[i], 0) {
			return Contour{}, fmt.Errorf("infinite pitch at frame %d: %w", i, ErrMalformed)
		}
	}
	return Contour{Times: times, Pitch: pitch}, nil
}

// FromSamples converts wire samples into a contour.
func FromSamples(samples []Sample) (Contour, error) {
	times := make([]float64, len(samples))
	pitch := make([]float64, len(samples))
	for i, s := range samples {
		times[i] = s.Time
		pitch[i] = math.NaN()
		if s.Pitch != nil {
			pitch[i] = *s.Pitch
		}
	}
	return New(times, pitch)
}

// Samples converts the contour to its wire form.
func (c Contour) Samples() []Sample {
	out := make([]Sample, len(c.Times))
	for i, t := range c.Times {
		out[i].Time = t
		if !math.IsNaN(c.Pitch[i]) {
			p := c.Pitch[i]
			out[i].Pitch = &p
		}
	}
	return out
}

func (c Contour) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Samples())
}

func (c *Contour) UnmarshalJSON(data []byte) error {
	var samples []Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return err
	}
	parsed, err := FromSamples(samples)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Contour) Len() int { return len(c.Times) }

func (c Contour) Voiced(i int) bool { return !math.IsNaN(c.Pitch[i]) }

// VoicedCount returns the number of frames with a defined pitch.
func (c Contour) VoicedCount() int {
	n := 0
	for _, p := range c.Pitch {
		if !math.IsNaN(p) {
			n++
		}
	}
	return n
}

// Duration is the time spanned from the first to the last frame plus one frame.
func (c Contour) Duration() float64 {
	if len(c.Times) == 0 {
		return 0
	}
	return c.Times[len(c.Times)-1] - c.Times[0] + c.FrameInterval()
}

// FrameInterval returns the median spacing between frames, or 0 for fewer than two frames.
func (c Contour) FrameInterval() float64 {
	if len(c.Times) < 2 {
		return 0
	}
	d := make([]float64, len(c.Times)-1)
	for i := 1; i < len(c.Times); i++ {
		d[i-1] = c.Times[i] - c.Times[i-1]
	}
	sort.Float64s(d)
	return d[len(d)/2]
}

// Index returns the first frame whose time is >= t.
func (c Contour) Index(t float64) int {
	return sort.SearchFloat64s(c.Times, t)
}

// Window returns the frames in [start, end) with times shifted so start is zero.
// The returned contour does not share memory with c.
func (c Contour) Window(start, end float64) Contour {
	lo := c.Index(start)
	hi := c.Index(end)
	if hi < lo {
		hi = lo
	}
	times := make([]float64, hi-lo)
	pitch := make([]float64, hi-lo)
	for i := lo; i < hi; i++ {
		times[i-lo] = c.Times[i] - start
		pitch[i-lo] = c.Pitch[i]
	}
	return Contour{Times: times, Pitch: pitch}
}

// At returns the pitch at time t. Between frames the value is linearly
// interpolated, but only when both neighbouring frames are voiced; otherwise NaN.
func (c Contour) At(t float64) float64 {
	n := len(c.Times)
	idx := c.Index(t)
	if idx < n && c.Times[idx] == t {
		return c.Pitch[idx]
	}
	if idx == 0 || idx == n {
		return math.NaN()
	}
	a, b := c.Pitch[idx-1], c.Pitch[idx]
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	frac := (t - c.Times[idx-1]) / (c.Times[idx] - c.Times[idx-1])
	return a + frac*(b-a)
}

// Resample evaluates the contour at n evenly spaced points over [start, start+dur).
func (c Contour) Resample(start, dur float64, n int) []float64 {
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	step := dur / float64(n)
	for i := range out {
		out[i] = c.At(start + float64(i)*step)
	}
	return out
}

// Stats summarizes a contour's voiced frames.
type Stats struct {
	MeanSemitones *float64 `json:"mean_semitones"`
	PitchRange    *float64 `json:"pitch_range"`
	PitchStd      *float64 `json:"pitch_std"`
	VoicedRatio   float64  `json:"voiced_ratio"`
}

// Summarize computes Stats. Values are nil when no frame is voiced.
func (c Contour) Summarize() Stats {
	voiced := VoicedValues(c.Pitch)
	if len(voiced) == 0 {
		return Stats{}
	}
	mean, std := stat.PopMeanStdDev(voiced, nil)
	rng := floats.Max(voiced) - floats.Min(voiced)
	return Stats{
		MeanSemitones: &mean,
		PitchRange:    &rng,
		PitchStd:      &std,
		VoicedRatio:   float64(len(voiced)) / float64(len(c.Pitch)),
	}
}
