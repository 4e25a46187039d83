package alignment

import (
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

const (
	// MaxOffset bounds the offset search and custom offsets, in seconds.
	MaxOffset = 2.0
	// GridStep is the spacing of the exhaustive offset grid.
	GridStep = 0.01
)

// maxGridPoints bounds the exhaustive scan per direction.
const maxGridPoints = 1_000_000

// tieTolerance absorbs floating-point noise when comparing correlations.
const tieTolerance = 1e-9

var invPhi = (math.Sqrt(5) - 1) / 2

// Alignment is the stored per-pair alignment state.
type Alignment struct {
	PairID        int      `json:"pair_id"`
	OptimalOffset float64  `json:"optimal_offset"`
	CustomOffset  *float64 `json:"custom_offset"`
	Correlation   *float64 `json:"correlation"`
}

// Effective returns the custom offset when set, else the optimal one.
func (a Alignment) Effective() float64 {
	if a.CustomOffset != nil {
		return *a.CustomOffset
	}
	return a.OptimalOffset
}

// Result is the outcome of an offset search.
type Result struct {
	Offset      float64  `json:"offset"`
	Correlation *float64 `json:"correlation"`
}

// Optimizer searches for the offset maximizing call/response correlation.
type Optimizer struct {
	Range            float64
	Step             float64
	RefineIterations int
}

func NewOptimizer() Optimizer {
	return Optimizer{Range: MaxOffset, Step: GridStep, RefineIterations: 24}
}

// OptimalOffset runs the default optimizer.
func OptimalOffset(call, response contour.Contour) (Result, error) {
	return NewOptimizer().Search(call, response)
}

// Search scans the grid [-Range, Range] outward from zero so that equal
// correlations resolve to the smaller |offset|, then refines inside the best
// grid cell. A refined offset replaces the grid optimum only if strictly better.
func (o Optimizer) Search(call, response contour.Contour) (Result, error) {
	if err := o.validate(); err != nil {
		return Result{}, err
	}
	if call.VoicedCount() == 0 || response.VoicedCount() == 0 {
		return Result{}, ErrNoPitchData
	}

	steps := int(math.Round(o.Range / o.Step))
	best := Result{}
	bestCorr := math.Inf(-1)

	try := func(offset float64) {
		if r, ok := correlationAt(call, response, offset); ok && r > bestCorr+tieTolerance {
			bestCorr = r
			best.Offset = offset
		}
	}

	try(0)
	for k := 1; k <= steps; k++ {
		d := float64(k) * o.Step
		try(d)
		try(-d)
	}
	if math.IsInf(bestCorr, -1) {
		return Result{Offset: 0}, nil
	}

	if o.RefineIterations > 0 {
		lo := math.Max(best.Offset-o.Step, -o.Range)
		hi := math.Min(best.Offset+o.Step, o.Range)
		if off, r, ok := o.refine(call, response, lo, hi); ok && r > bestCorr+tieTolerance {
			bestCorr = r
			best.Offset = off
		}
	}

	best.Correlation = &bestCorr
	return best, nil
}

func (o Optimizer) validate() error {
	if !(o.Step > 0) || math.IsInf(o.Step, 0) {
		return fmt.Errorf("optimizer step %v: %w", o.Step, section.ErrInvalidInput)
	}
	if !(o.Range >= 0) || math.IsInf(o.Range, 0) {
		return fmt.Errorf("optimizer range %v: %w", o.Range, section.ErrInvalidInput)
	}
	if o.Range/o.Step > maxGridPoints {
		return fmt.Errorf("optimizer grid of %.0f points: %w", o.Range/o.Step, section.ErrInvalidInput)
	}
	return nil
}

// refine is a golden-section search for the maximum on [lo, hi].
func (o Optimizer) refine(call, response contour.Contour, lo, hi float64) (float64, float64, bool) {
	f := func(x float64) float64 {
		if r, ok := correlationAt(call, response, x); ok {
			return r
		}
		return math.Inf(-1)
	}

	a, b := lo, hi
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := f(c), f(d)
	for i := 0; i < o.RefineIterations; i++ {
		if fc >= fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}

	x, fx := c, fc
	if fd > fc {
		x, fx = d, fd
	}
	if math.IsInf(fx, -1) {
		return 0, 0, false
	}
	return x, fx, true
}

// OptimizeAll computes the optimal offset for every pair. Pairs without pitch
// data get offset 0 and no correlation.
func OptimizeAll(track contour.Contour, pairs []Pair) []Alignment {
	opt := NewOptimizer()
	out := make([]Alignment, 0, len(pairs))
	for _, p := range pairs {
		call := track.Window(p.Call.Start, p.Call.End)
		resp := track.Window(p.Response.Start, p.Response.End)
		a := Alignment{PairID: p.ID}
		if res, err := opt.Search(call, resp); err == nil {
			a.OptimalOffset = res.Offset
			a.Correlation = res.Correlation
		}
		out = append(out, a)
	}
	return out
}
