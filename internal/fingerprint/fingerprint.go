// Package fingerprint detects call and response sections in a vocal pitch track.
package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

// ErrNoVoicedContent is returned when the track has too little voiced audio to analyse.
var ErrNoVoicedContent = errors.New("no voiced content")

// maxMatchConfidence caps template matches other than the reference itself.
const maxMatchConfidence = 0.99

// Reference is a user-supplied example of a label.
type Reference struct {
	Label section.Label `json:"label"`
	section.Range
}

// Fingerprinter produces labeled candidate sections from a pitch track.
type Fingerprinter struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Fingerprinter {
	return &Fingerprinter{opts: opts.withDefaults(), logger: logger}
}

// Detect returns candidate sections sorted by start. With at least one
// reference it runs template matching; otherwise it clusters voiced regions.
// An empty result is not an error.
func (f *Fingerprinter) Detect(ctx context.Context, track contour.Contour, refs []Reference) ([]section.Section, error) {
	if err := validateRefs(track, refs); err != nil {
		return nil, err
	}
	voiced := track.VoicedCount()
	if voiced < f.opts.MinVoicedFrames {
		return nil, fmt.Errorf("%d voiced frames, need %d: %w", voiced, f.opts.MinVoicedFrames, ErrNoVoicedContent)
	}

	var (
		out []section.Section
		err error
	)
	if len(refs) > 0 {
		f.logger.Info("fingerprinting with references", "references", len(refs), "frames", track.Len())
		out, err = f.matchTemplates(ctx, track, refs)
	} else {
		f.logger.Info("fingerprinting without references", "frames", track.Len())
		out, err = f.autoDetect(ctx, track)
	}
	if err != nil {
		return nil, err
	}

	section.Sort(out)
	f.logger.Info("fingerprinting complete",
		"sections", len(out),
		"calls", len(section.ByLabel(out, section.Call)),
		"responses", len(section.ByLabel(out, section.Response)),
	)
	return out, nil
}

func validateRefs(track contour.Contour, refs []Reference) error {
	end := track.Duration()
	if track.Len() > 0 {
		end += track.Times[0]
	}
	for i, r := range refs {
		if !r.Label.Valid() {
			return fmt.Errorf("reference %d: unknown label %q: %w", i, r.Label, section.ErrInvalidInput)
		}
		if err := r.Range.Validate(); err != nil {
			return fmt.Errorf("reference %d: %w", i, err)
		}
		if r.End > end+1e-6 {
			return fmt.Errorf("reference %d ends at %.3f past track end %.3f: %w", i, r.End, end, section.ErrInvalidInput)
		}
	}
	return nil
}

type template struct {
	ref      Reference
	values   []float64
	voiced   int
	startIdx int
}

type candidate struct {
	start, end  float64
	label       section.Label
	score       float64
	isReference bool
}

func (f *Fingerprinter) matchTemplates(ctx context.Context, track contour.Contour, refs []Reference) ([]section.Section, error) {
	n := f.opts.TemplatePoints

	var templates []template
	for _, r := range refs {
		vals := track.Resample(r.Start, r.Duration(), n)
		voiced := contour.CountVoiced(vals)
		if voiced < f.opts.MinTemplateVoiced {
			f.logger.Warn("skipping reference with too little voiced pitch",
				"label", r.Label, "start", r.Start, "end", r.End, "voiced_points", voiced)
			continue
		}
		contour.CenterVoiced(vals)
		templates = append(templates, template{ref: r, values: vals, voiced: voiced, startIdx: track.Index(r.Start)})
	}

	trackEnd := track.Times[track.Len()-1] + track.FrameInterval()
	byLabel := map[section.Label][]candidate{}
	for ti, tpl := range templates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("match templates: %w", err)
		}
		cands := f.slide(track, tpl, trackEnd)
		byLabel[tpl.ref.Label] = append(byLabel[tpl.ref.Label], cands...)
		f.logger.Debug("template matched", "label", tpl.ref.Label, "start", tpl.ref.Start, "candidates", len(cands))
		f.opts.report(ti+1, len(templates))
	}

	var out []section.Section
	for _, label := range []section.Label{section.Call, section.Response} {
		for _, c := range suppress(byLabel[label]) {
			conf := c.score
			out = append(out, section.Section{
				ID:          uuid.NewString(),
				Start:       c.start,
				End:         c.end,
				Label:       c.label,
				Confidence:  &conf,
				IsReference: c.isReference,
			})
		}
	}
	return out, nil
}

// slide scores the template at every frame position and returns local maxima
// at or above the threshold. The reference's own position is always kept.
func (f *Fingerprinter) slide(track contour.Contour, tpl template, trackEnd float64) []candidate {
	dur := tpl.ref.Duration()
	n := len(tpl.values)
	minJoint := int(math.Ceil(f.opts.MinCoverage * float64(tpl.voiced)))
	if minJoint < contour.MinCorrelationSamples {
		minJoint = contour.MinCorrelationSamples
	}

	last := track.Len()
	for last > 0 && track.Times[last-1]+dur > trackEnd+1e-9 {
		last--
	}
	scores := make([]float64, last)
	for i := 0; i < last; i++ {
		if !track.Voiced(i) {
			continue
		}
		w := track.Resample(track.Times[i], dur, n)
		x, y := contour.Joint(tpl.values, w)
		if len(x) < minJoint {
			continue
		}
		if r, ok := contour.Pearson(x, y); ok && r > 0 {
			scores[i] = r
		}
	}

	out := []candidate{{
		start:       tpl.ref.Start,
		end:         tpl.ref.End,
		label:       tpl.ref.Label,
		score:       1,
		isReference: true,
	}}
	for i, s := range scores {
		if i == tpl.startIdx || s < f.opts.Threshold {
			continue
		}
		if i > 0 && scores[i-1] > s {
			continue
		}
		if i+1 < len(scores) && scores[i+1] >= s {
			continue
		}
		out = append(out, candidate{
			start: track.Times[i],
			end:   track.Times[i] + dur,
			label: tpl.ref.Label,
			score: math.Min(s, maxMatchConfidence),
		})
	}
	return out
}
