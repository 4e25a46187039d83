package fingerprint

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

const maxClusterIterations = 20

type region struct {
	start, end float64
	voiced     int
	median     float64
	shape      []float64
}

// regions finds runs of voiced frames, bridging gaps shorter than MaxGap.
func (f *Fingerprinter) regions(track contour.Contour) []region {
	frame := track.FrameInterval()
	var (
		out        []region
		cur        *region
		lastVoiced float64
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.end = lastVoiced + frame
		if cur.end-cur.start >= f.opts.MinRegion && cur.voiced >= f.opts.MinRegionVoiced {
			out = append(out, *cur)
		}
		cur = nil
	}

	for i, t := range track.Times {
		if !track.Voiced(i) {
			continue
		}
		if cur != nil && t-lastVoiced-frame >= f.opts.MaxGap {
			flush()
		}
		if cur == nil {
			cur = &region{start: t}
		}
		cur.voiced++
		lastVoiced = t
	}
	flush()

	for i := range out {
		r := &out[i]
		w := track.Window(r.start, r.end)
		r.median = contour.Median(w.Pitch)
		r.shape = track.Resample(r.start, r.end-r.start, f.opts.TemplatePoints)
		contour.CenterVoiced(r.shape)
		for j, v := range r.shape {
			if math.IsNaN(v) {
				r.shape[j] = 0
			}
		}
	}
	return out
}

type centroid struct {
	median float64
	shape  []float64
}

// distance combines contour shape (RMS difference) and register (median
// difference), both in semitones.
func distance(r region, c centroid) float64 {
	d := floats.Distance(r.shape, c.shape, 2) / math.Sqrt(float64(len(r.shape)))
	m := r.median - c.median
	return math.Sqrt(d*d + m*m)
}

func centroidOf(r region) centroid {
	shape := make([]float64, len(r.shape))
	copy(shape, r.shape)
	return centroid{median: r.median, shape: shape}
}

func (f *Fingerprinter) autoDetect(ctx context.Context, track contour.Contour) ([]section.Section, error) {
	regs := f.regions(track)
	f.logger.Info("voiced regions found", "regions", len(regs))
	if len(regs) == 0 {
		return nil, nil
	}

	assign, conf, ok := f.cluster(ctx, regs)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("cluster regions: %w", err)
	}
	if !ok {
		f.logger.Info("regions not separable, alternating labels")
		return f.alternate(regs), nil
	}

	out := make([]section.Section, len(regs))
	for i, r := range regs {
		label := section.Call
		if assign[i] != assign[0] {
			label = section.Response
		}
		c := conf[i]
		out[i] = section.Section{ID: uuid.NewString(), Start: r.start, End: r.end, Label: label, Confidence: &c}
	}
	return out, nil
}

// cluster splits regions into two families with 2-means, seeded by the first
// region and the region farthest from it. ok is false when no split exists.
func (f *Fingerprinter) cluster(ctx context.Context, regs []region) (assign []int, conf []float64, ok bool) {
	if len(regs) < 2 {
		return nil, nil, false
	}

	seed := centroidOf(regs[0])
	far, farDist := 0, 0.0
	for i, r := range regs {
		if d := distance(r, seed); d > farDist {
			far, farDist = i, d
		}
	}
	if farDist < f.opts.MinSeparation {
		return nil, nil, false
	}

	cents := [2]centroid{seed, centroidOf(regs[far])}
	assign = make([]int, len(regs))
	for iter := 0; iter < maxClusterIterations; iter++ {
		if ctx.Err() != nil {
			return nil, nil, false
		}
		changed := iter == 0
		for i, r := range regs {
			k := 0
			if distance(r, cents[1]) < distance(r, cents[0]) {
				k = 1
			}
			if assign[i] != k {
				assign[i] = k
				changed = true
			}
		}
		f.opts.report(iter+1, maxClusterIterations)
		if !changed {
			break
		}

		var counts [2]int
		next := [2]centroid{
			{shape: make([]float64, len(seed.shape))},
			{shape: make([]float64, len(seed.shape))},
		}
		for i, r := range regs {
			k := assign[i]
			counts[k]++
			next[k].median += r.median
			floats.Add(next[k].shape, r.shape)
		}
		if counts[0] == 0 || counts[1] == 0 {
			return nil, nil, false
		}
		for k := range next {
			next[k].median /= float64(counts[k])
			floats.Scale(1/float64(counts[k]), next[k].shape)
		}
		cents = next
	}

	if distance(region{median: cents[0].median, shape: cents[0].shape}, cents[1]) < f.opts.MinSeparation {
		return nil, nil, false
	}

	conf = make([]float64, len(regs))
	for i, r := range regs {
		own := distance(r, cents[assign[i]])
		other := distance(r, cents[1-assign[i]])
		if own+other > 0 {
			conf[i] = math.Max(0, math.Min((other-own)/(other+own), f.opts.MaxAutoConfidence))
		}
	}
	f.opts.report(maxClusterIterations, maxClusterIterations)
	return assign, conf, true
}

// alternate labels regions call, response, call... restarting with call after
// every silence longer than SilenceGap.
func (f *Fingerprinter) alternate(regs []region) []section.Section {
	out := make([]section.Section, len(regs))
	label := section.Call
	for i, r := range regs {
		if i > 0 {
			if r.start-regs[i-1].end > f.opts.SilenceGap {
				label = section.Call
			} else {
				label = label.Opposite()
			}
		}
		conf := 0.5
		out[i] = section.Section{ID: uuid.NewString(), Start: r.start, End: r.end, Label: label, Confidence: &conf}
	}
	return out
}
