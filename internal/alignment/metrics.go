package alignment

import (
	"errors"
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

// ErrNoPitchData is returned when a call or response contour has no voiced frames.
var ErrNoPitchData = errors.New("no pitch data")

// Metrics describes how well a response matches its call at a given offset.
// Correlations are nil when undefined.
type Metrics struct {
	Offset               float64  `json:"offset"`
	Correlation          *float64 `json:"correlation"`
	CorrelationUnaligned *float64 `json:"correlation_unaligned"`
	CosineSimilarity     *float64 `json:"cosine_similarity"`
	OverlapSamples       int      `json:"overlap_samples"`
}

// Evaluate computes metrics for a call and response contour, both with times
// relative to their section start. The response is shifted later by offset
// seconds before comparison.
func Evaluate(call, response contour.Contour, offset float64) (Metrics, error) {
	if math.IsNaN(offset) || math.IsInf(offset, 0) {
		return Metrics{}, fmt.Errorf("offset %v: %w", offset, section.ErrInvalidInput)
	}
	if call.VoicedCount() == 0 || response.VoicedCount() == 0 {
		return Metrics{}, ErrNoPitchData
	}

	x, y := overlap(call, response, offset)
	m := Metrics{Offset: offset, OverlapSamples: len(x)}
	if r, ok := contour.Pearson(x, y); ok {
		m.Correlation = &r
	}
	if c, ok := contour.Cosine(x, y); ok {
		m.CosineSimilarity = &c
	}
	if offset == 0 {
		m.CorrelationUnaligned = m.Correlation
	} else if r, ok := correlationAt(call, response, 0); ok {
		m.CorrelationUnaligned = &r
	}
	return m, nil
}

// overlap pairs each voiced call frame with the shifted response pitch at the
// same instant. Frames where the response is undefined are skipped.
func overlap(call, response contour.Contour, offset float64) (x, y []float64) {
	for i, t := range call.Times {
		if !call.Voiced(i) {
			continue
		}
		r := response.At(t - offset)
		if math.IsNaN(r) {
			continue
		}
		x = append(x, call.Pitch[i])
		y = append(y, r)
	}
	return x, y
}

func correlationAt(call, response contour.Contour, offset float64) (float64, bool) {
	x, y := overlap(call, response, offset)
	return contour.Pearson(x, y)
}
