package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/antiphon/internal/alignment"
	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/fingerprint"
	"github.com/MikeSquared-Agency/antiphon/internal/hermes"
	"github.com/MikeSquared-Agency/antiphon/internal/pitch"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// callResponseTrack has a call phrase at 1s and 10s and a held answer at 4s and 13s.
func callResponseTrack() contour.Contour {
	const frame = 0.01
	n := 1600
	times := make([]float64, n)
	p := make([]float64, n)
	for i := range times {
		t := float64(i) * frame
		times[i] = t
		p[i] = math.NaN()
		for _, start := range []float64{1, 10} {
			if t >= start && t < start+2 {
				u := t - start
				p[i] = -5 + 3*math.Sin(math.Pi*u) + 0.5*u*u
			}
		}
		for _, start := range []float64{4, 13} {
			if t >= start && t < start+2 {
				p[i] = 2
			}
		}
	}
	return contour.Contour{Times: times, Pitch: p}
}

type fakeTarget struct {
	id    string
	audio *pitch.Audio
	track *contour.Contour

	mu       sync.Mutex
	applied  bool
	sections []section.Section
	aligns   []alignment.Alignment
}

func (f *fakeTarget) SessionID() string { return f.id }

func (f *fakeTarget) Input() (*pitch.Audio, *contour.Contour, bool) {
	return f.audio, f.track, f.audio != nil || f.track != nil
}

func (f *fakeTarget) Apply(_ context.Context, _ contour.Contour, s []section.Section, a []alignment.Alignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = true
	f.sections = s
	f.aligns = a
	return nil
}

type staticProvider struct {
	track contour.Contour
	err   error
	block chan struct{}
}

func (p *staticProvider) Contour(ctx context.Context, _ pitch.Audio, _ *section.Range) (contour.Contour, error) {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return contour.Contour{}, ctx.Err()
		}
	}
	return p.track, p.err
}

type recordingIsolator struct{ calls int }

func (i *recordingIsolator) Isolate(_ context.Context, mix pitch.Audio) (pitch.Audio, error) {
	i.calls++
	return mix, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []hermes.AnalysisEvent
}

func (p *recordingPublisher) Publish(subject string, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	if evt, ok := data.(hermes.AnalysisEvent); ok {
		p.events = append(p.events, evt)
	}
	return nil
}

func wait(t *testing.T, r *Runner, id string) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := r.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	return st
}

var callRefs = []fingerprint.Reference{
	{Label: section.Call, Range: section.Range{Start: 1, End: 3}},
	{Label: section.Response, Range: section.Range{Start: 4, End: 6}},
}

func TestRunner_AudioPipeline(t *testing.T) {
	iso := &recordingIsolator{}
	pub := &recordingPublisher{}
	r := NewRunner(Config{}, iso, &staticProvider{track: callResponseTrack()}, pub, testLogger())
	target := &fakeTarget{id: "s1", audio: &pitch.Audio{Samples: make([]float64, 100), SampleRate: 8000}}

	if err := r.Start(context.Background(), target, callRefs); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := wait(t, r, "s1")
	if st.Stage != StageComplete || st.Progress != 1 {
		t.Fatalf("expected complete, got %+v", st)
	}
	if st.StartedAt == nil || st.FinishedAt == nil {
		t.Error("expected start and finish times")
	}
	if iso.calls != 1 {
		t.Errorf("expected one isolation call, got %d", iso.calls)
	}

	target.mu.Lock()
	defer target.mu.Unlock()
	if !target.applied {
		t.Fatal("expected results to be applied")
	}
	if calls := section.ByLabel(target.sections, section.Call); len(calls) != 2 {
		t.Errorf("expected 2 calls, got %d", len(calls))
	}
	if len(target.aligns) != 1 {
		t.Errorf("expected one alignment, got %d", len(target.aligns))
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.subjects) != 2 || pub.subjects[0] != hermes.SubjectAnalysisStarted || pub.subjects[1] != hermes.SubjectAnalysisCompleted {
		t.Errorf("unexpected events %v", pub.subjects)
	}
	if pub.events[1].Sections != len(target.sections) {
		t.Errorf("completed event reports %d sections, applied %d", pub.events[1].Sections, len(target.sections))
	}
}

func TestRunner_UploadedContourSkipsIsolation(t *testing.T) {
	iso := &recordingIsolator{}
	tr := callResponseTrack()
	r := NewRunner(Config{}, iso, &staticProvider{err: errors.New("must not be called")}, nil, testLogger())
	target := &fakeTarget{id: "s2", track: &tr}

	if err := r.Start(context.Background(), target, callRefs); err != nil {
		t.Fatalf("start: %v", err)
	}
	if st := wait(t, r, "s2"); st.Stage != StageComplete {
		t.Fatalf("expected complete, got %+v", st)
	}
	if iso.calls != 0 {
		t.Errorf("expected isolation to be skipped, got %d calls", iso.calls)
	}
}

func TestRunner_FailureLeavesTargetUntouched(t *testing.T) {
	pub := &recordingPublisher{}
	r := NewRunner(Config{}, &recordingIsolator{}, &staticProvider{err: errors.New("decoder crashed")}, pub, testLogger())
	target := &fakeTarget{id: "s3", audio: &pitch.Audio{Samples: []float64{0}, SampleRate: 8000}}

	if err := r.Start(context.Background(), target, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := wait(t, r, "s3")
	if st.Stage != StageError || !strings.Contains(st.Error, "decoder crashed") {
		t.Fatalf("expected error stage, got %+v", st)
	}
	if target.applied {
		t.Error("failed run must not apply results")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if pub.subjects[len(pub.subjects)-1] != hermes.SubjectAnalysisFailed {
		t.Errorf("expected failed event last, got %v", pub.subjects)
	}
}

func TestRunner_NoVoicedContentIsAnError(t *testing.T) {
	silent := contour.Contour{Times: []float64{0, 0.01, 0.02}, Pitch: []float64{math.NaN(), math.NaN(), math.NaN()}}
	r := NewRunner(Config{}, &recordingIsolator{}, nil, nil, testLogger())
	if err := r.Start(context.Background(), &fakeTarget{id: "s4", track: &silent}, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := wait(t, r, "s4")
	if st.Stage != StageError || !strings.Contains(st.Error, fingerprint.ErrNoVoicedContent.Error()) {
		t.Errorf("expected no voiced content error, got %+v", st)
	}
}

func TestRunner_RejectsConcurrentRun(t *testing.T) {
	block := make(chan struct{})
	r := NewRunner(Config{}, &recordingIsolator{}, &staticProvider{track: callResponseTrack(), block: block}, nil, testLogger())
	target := &fakeTarget{id: "s5", audio: &pitch.Audio{Samples: []float64{0}, SampleRate: 8000}}

	if err := r.Start(context.Background(), target, callRefs); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(context.Background(), target, callRefs); !errors.Is(err, ErrAnalysisRunning) {
		t.Errorf("expected ErrAnalysisRunning, got %v", err)
	}
	close(block)
	if st := wait(t, r, "s5"); st.Stage != StageComplete {
		t.Fatalf("expected complete, got %+v", st)
	}

	// A finished run may be restarted and keeps the log cursor monotonic.
	_, before := r.Logs("s5", 0)
	if err := r.Start(context.Background(), target, callRefs); err != nil {
		t.Fatalf("restart: %v", err)
	}
	wait(t, r, "s5")
	lines, after := r.Logs("s5", before)
	if after <= before || len(lines) != after-before {
		t.Errorf("expected new lines after cursor %d, got %d lines and cursor %d", before, len(lines), after)
	}
}

func TestRunner_NoAudio(t *testing.T) {
	r := NewRunner(Config{}, &recordingIsolator{}, nil, nil, testLogger())
	if err := r.Start(context.Background(), &fakeTarget{id: "s6"}, nil); !errors.Is(err, ErrNoAudio) {
		t.Errorf("expected ErrNoAudio, got %v", err)
	}
	if st := r.Status("s6"); st.Stage != StagePending {
		t.Errorf("expected pending for a session that never ran, got %v", st.Stage)
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner(Config{Timeout: 20 * time.Millisecond}, &recordingIsolator{},
		&staticProvider{block: make(chan struct{})}, nil, testLogger())
	target := &fakeTarget{id: "s7", audio: &pitch.Audio{Samples: []float64{0}, SampleRate: 8000}}
	if err := r.Start(context.Background(), target, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	st := wait(t, r, "s7")
	if st.Stage != StageError || !strings.Contains(st.Error, context.DeadlineExceeded.Error()) {
		t.Errorf("expected deadline error, got %+v", st)
	}
}

func TestRunner_LogsCarryStages(t *testing.T) {
	tr := callResponseTrack()
	r := NewRunner(Config{}, &recordingIsolator{}, nil, nil, testLogger())
	if err := r.Start(context.Background(), &fakeTarget{id: "s8", track: &tr}, callRefs); err != nil {
		t.Fatalf("start: %v", err)
	}
	wait(t, r, "s8")

	lines, next := r.Logs("s8", 0)
	if next != len(lines) {
		t.Errorf("expected cursor %d, got %d", len(lines), next)
	}
	var joined []string
	for _, l := range lines {
		joined = append(joined, l.Message)
	}
	all := strings.Join(joined, "\n")
	for _, want := range []string{"analysis started", "stage=fingerprinting", "analysis complete"} {
		if !strings.Contains(all, want) {
			t.Errorf("expected log to contain %q, got:\n%s", want, all)
		}
	}
}

func TestLogBuffer_Since(t *testing.T) {
	b := NewLogBuffer(3)
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		b.Append(Line{Message: m})
	}

	tests := []struct {
		name   string
		cursor int
		want   []string
		next   int
	}{
		{"dropped lines are skipped", 0, []string{"c", "d", "e"}, 5},
		{"mid ring", 4, []string{"e"}, 5},
		{"caught up", 5, nil, 5},
		{"ahead of writer", 9, nil, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines, next := b.Since(tt.cursor)
			if next != tt.next {
				t.Errorf("expected next %d, got %d", tt.next, next)
			}
			if len(lines) != len(tt.want) {
				t.Fatalf("expected %d lines, got %d", len(tt.want), len(lines))
			}
			for i, l := range lines {
				if l.Message != tt.want[i] {
					t.Errorf("line %d: expected %q, got %q", i, tt.want[i], l.Message)
				}
			}
		})
	}
}

func TestTeeHandler_FiltersAndFormats(t *testing.T) {
	b := NewLogBuffer(10)
	logger := newTeeLogger(testLogger(), b).With("pair", 2)
	logger.Debug("hidden")
	logger.Info("offset chosen", "offset", 0.25)

	lines, _ := b.Since(0)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0].Message != "offset chosen pair=2 offset=0.25" {
		t.Errorf("unexpected message %q", lines[0].Message)
	}
	if lines[0].Level != "INFO" {
		t.Errorf("expected INFO, got %q", lines[0].Level)
	}
}
