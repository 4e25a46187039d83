package fingerprint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

const frame = 0.01

type segment struct {
	start, end float64
	pitch      func(u float64) float64
}

func track(total float64, segs ...segment) contour.Contour {
	n := int(math.Round(total / frame))
	times := make([]float64, n)
	pitch := make([]float64, n)
	for i := range times {
		t := float64(i) * frame
		times[i] = t
		pitch[i] = math.NaN()
		for _, s := range segs {
			if t >= s.start && t < s.end {
				pitch[i] = s.pitch(t - s.start)
			}
		}
	}
	return contour.Contour{Times: times, Pitch: pitch}
}

func phrase(base float64) func(float64) float64 {
	return func(u float64) float64 { return base + 3*math.Sin(math.Pi*u) + 0.5*u*u }
}

func answer(base float64) func(float64) float64 {
	return func(u float64) float64 { return base - 3*math.Sin(math.Pi*u) }
}

func flat(base float64) func(float64) float64 {
	return func(float64) float64 { return base }
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDetect_ReferenceFindsRepeat(t *testing.T) {
	tr := track(16,
		segment{1, 3, phrase(-5)},
		segment{4, 6, flat(2)},
		segment{10, 12, phrase(-5)},
		segment{13, 15, flat(2)},
	)
	fp := New(DefaultOptions(), testLogger())

	out, err := fp.Detect(context.Background(), tr, []Reference{
		{Label: section.Call, Range: section.Range{Start: 1, End: 3}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := section.ByLabel(out, section.Call)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d: %+v", len(calls), calls)
	}

	ref := calls[0]
	if !ref.IsReference || ref.Start != 1 || ref.End != 3 || *ref.Confidence != 1 {
		t.Errorf("expected reference section [1,3) with confidence 1, got %+v", ref)
	}

	match := calls[1]
	if math.Abs(match.Start-10) > 0.015 || math.Abs(match.End-12) > 0.015 {
		t.Errorf("expected match near [10,12), got [%v,%v)", match.Start, match.End)
	}
	if match.IsReference {
		t.Error("repeat must not be marked as reference")
	}
	if *match.Confidence < 0.95 || *match.Confidence >= 1 {
		t.Errorf("expected high confidence below 1, got %v", *match.Confidence)
	}
	if !section.IsSorted(out) {
		t.Error("expected sorted output")
	}
}

func TestDetect_WindowDurationFollowsReference(t *testing.T) {
	noisy := func(u float64) float64 {
		return phrase(-5)(u) + 0.8*math.Sin(2*math.Pi*7*u)
	}
	tr := track(15,
		segment{1, 3.3, phrase(-5)},
		segment{10, 12.3, noisy},
	)
	fp := New(DefaultOptions(), testLogger())

	out, err := fp.Detect(context.Background(), tr, []Reference{
		{Label: section.Call, Range: section.Range{Start: 1, End: 3.3}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var found bool
	for _, s := range out {
		if s.IsReference {
			continue
		}
		if math.Abs(s.Start-10) < 0.05 {
			found = true
			if math.Abs((s.End-s.Start)-2.3) > 1e-9 {
				t.Errorf("expected duration 2.3, got %v", s.End-s.Start)
			}
			if s.Label != section.Call {
				t.Errorf("expected call label, got %s", s.Label)
			}
			if *s.Confidence < 0.6 || *s.Confidence >= 1 {
				t.Errorf("confidence %v outside [0.6,1)", *s.Confidence)
			}
		}
	}
	if !found {
		t.Fatalf("expected a match starting near 10, got %+v", out)
	}
}

func TestDetect_SkipsSilentReference(t *testing.T) {
	tr := track(10, segment{1, 3, phrase(-5)})
	fp := New(DefaultOptions(), testLogger())

	out, err := fp.Detect(context.Background(), tr, []Reference{
		{Label: section.Response, Range: section.Range{Start: 5, End: 7}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected no sections, got %+v", out)
	}
}

func TestDetect_InvalidReference(t *testing.T) {
	tr := track(10, segment{1, 3, phrase(-5)})
	fp := New(DefaultOptions(), testLogger())

	tests := []struct {
		name string
		ref  Reference
	}{
		{"reversed", Reference{Label: section.Call, Range: section.Range{Start: 3, End: 1}}},
		{"past end", Reference{Label: section.Call, Range: section.Range{Start: 9, End: 20}}},
		{"bad label", Reference{Label: "verse", Range: section.Range{Start: 1, End: 2}}},
		{"nan", Reference{Label: section.Call, Range: section.Range{Start: math.NaN(), End: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fp.Detect(context.Background(), tr, []Reference{tt.ref})
			if !errors.Is(err, section.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestDetect_NoVoicedContent(t *testing.T) {
	tr := track(5)
	fp := New(DefaultOptions(), testLogger())

	_, err := fp.Detect(context.Background(), tr, nil)
	if !errors.Is(err, ErrNoVoicedContent) {
		t.Errorf("expected ErrNoVoicedContent, got %v", err)
	}
}

func TestDetect_AutoClustersByRegister(t *testing.T) {
	tr := track(12,
		segment{0, 2, phrase(-10)},
		segment{3, 5, answer(2)},
		segment{6, 8, phrase(-10)},
		segment{9, 11, answer(2)},
	)
	var progressCalls int
	opts := DefaultOptions()
	opts.Progress = func(done, total int) { progressCalls++ }
	fp := New(opts, testLogger())

	out, err := fp.Detect(context.Background(), tr, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 sections, got %d", len(out))
	}
	want := []section.Label{section.Call, section.Response, section.Call, section.Response}
	for i, s := range out {
		if s.Label != want[i] {
			t.Errorf("section %d: expected %s, got %s", i, want[i], s.Label)
		}
		if s.Confidence == nil || *s.Confidence > 0.9 || *s.Confidence < 0.5 {
			t.Errorf("section %d: unexpected confidence %v", i, s.Confidence)
		}
	}
	if progressCalls == 0 {
		t.Error("expected progress to be reported")
	}
}

func TestDetect_AutoFallsBackToAlternation(t *testing.T) {
	tr := track(16,
		segment{0, 2, phrase(-5)},
		segment{3, 5, phrase(-5)},
		segment{6, 8, phrase(-5)},
		segment{12, 14, phrase(-5)},
	)
	fp := New(DefaultOptions(), testLogger())

	out, err := fp.Detect(context.Background(), tr, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []section.Label{section.Call, section.Response, section.Call, section.Call}
	if len(out) != len(want) {
		t.Fatalf("expected %d sections, got %d", len(want), len(out))
	}
	for i, s := range out {
		if s.Label != want[i] {
			t.Errorf("section %d: expected %s, got %s", i, want[i], s.Label)
		}
		if *s.Confidence != 0.5 {
			t.Errorf("section %d: expected confidence 0.5, got %v", i, *s.Confidence)
		}
	}
}

func TestDetect_AutoBridgesShortGaps(t *testing.T) {
	tr := track(6,
		segment{0, 1.0, phrase(-5)},
		segment{1.1, 2.2, phrase(-4)},
	)
	fp := New(DefaultOptions(), testLogger())

	out, err := fp.Detect(context.Background(), tr, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one bridged region, got %+v", out)
	}
	if out[0].Start != 0 || math.Abs(out[0].End-2.2) > 0.02 {
		t.Errorf("expected region [0,2.2), got [%v,%v)", out[0].Start, out[0].End)
	}
}

func TestDetect_ContextCancelled(t *testing.T) {
	tr := track(10, segment{1, 3, phrase(-5)})
	fp := New(DefaultOptions(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fp.Detect(ctx, tr, []Reference{{Label: section.Call, Range: section.Range{Start: 1, End: 3}}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSuppress(t *testing.T) {
	cands := []candidate{
		{start: 0, end: 2, score: 0.7},
		{start: 1, end: 3, score: 0.9},
		{start: 2.5, end: 4, score: 0.8},
		{start: 5, end: 6, score: 0.65},
		{start: 5.5, end: 6.5, score: 0.65},
	}
	kept := suppress(cands)
	if len(kept) != 2 {
		t.Fatalf("expected 2 survivors, got %+v", kept)
	}
	if kept[0].start != 1 || kept[1].start != 5 {
		t.Errorf("unexpected survivors %+v", kept)
	}
}

func TestIsCandidateBetter(t *testing.T) {
	tests := []struct {
		name string
		a, b candidate
		want bool
	}{
		{"reference wins", candidate{isReference: true, score: 0.1}, candidate{score: 0.99}, true},
		{"higher score", candidate{score: 0.9}, candidate{score: 0.8}, true},
		{"earlier start on tie", candidate{score: 0.8, start: 1}, candidate{score: 0.8, start: 2}, true},
		{"later start on tie", candidate{score: 0.8, start: 3}, candidate{score: 0.8, start: 2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isCandidateBetter(tt.a, tt.b); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestProposeReferences(t *testing.T) {
	sections := []section.Section{
		{ID: "c1", Label: section.Call, Confidence: section.Float(0.4)},
		{ID: "c2", Label: section.Call, Confidence: section.Float(0.9)},
		{ID: "c3", Label: section.Call},
		{ID: "r1", Label: section.Response, Confidence: section.Float(0.7)},
	}
	p := ProposeReferences(sections, 2)
	if len(p.Calls) != 2 || p.Calls[0].ID != "c2" || p.Calls[1].ID != "c1" {
		t.Errorf("unexpected call proposals %+v", p.Calls)
	}
	if len(p.Responses) != 1 || p.Responses[0].ID != "r1" {
		t.Errorf("unexpected response proposals %+v", p.Responses)
	}
}
