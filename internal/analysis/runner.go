// Package analysis runs the background pipeline that turns a recording into
// labelled sections and optimal offsets: vocal isolation, pitch estimation,
// fingerprinting and alignment.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/antiphon/internal/alignment"
	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/fingerprint"
	"github.com/MikeSquared-Agency/antiphon/internal/hermes"
	"github.com/MikeSquared-Agency/antiphon/internal/pitch"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

var (
	ErrAnalysisRunning = errors.New("analysis already running")
	ErrNoAudio         = errors.New("no audio loaded")
)

type Stage string

const (
	StagePending         Stage = "pending"
	StageVocalIsolation  Stage = "vocal_isolation"
	StagePitchEstimation Stage = "pitch_estimation"
	StageFingerprinting  Stage = "fingerprinting"
	StageAlignment       Stage = "alignment"
	StageComplete        Stage = "complete"
	StageError           Stage = "error"
)

type Status struct {
	Stage      Stage      `json:"stage"`
	Progress   float64    `json:"progress"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Isolator extracts the vocal stem from a mix.
type Isolator interface {
	Isolate(ctx context.Context, mix pitch.Audio) (pitch.Audio, error)
}

// Publisher sends analysis lifecycle events. *hermes.Client satisfies it.
type Publisher interface {
	Publish(subject string, data any) error
}

// Target is the session an analysis run reads from and writes back into.
type Target interface {
	SessionID() string
	// Input returns the uploaded audio or, when only a contour was uploaded,
	// that contour. ok is false when neither is present.
	Input() (audio *pitch.Audio, track *contour.Contour, ok bool)
	// Apply installs the results in one step. It is only called on success.
	Apply(ctx context.Context, track contour.Contour, sections []section.Section, aligns []alignment.Alignment) error
}

type Config struct {
	Timeout     time.Duration
	Fingerprint fingerprint.Options
}

// Runner owns at most one active run per session.
type Runner struct {
	cfg       Config
	isolator  Isolator
	pitch     pitch.Provider
	publisher Publisher
	logger    *slog.Logger

	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	mu     sync.Mutex
	status Status
	logs   *LogBuffer
	cancel context.CancelFunc
	done   chan struct{}
}

func (j *job) snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *job) set(fn func(s *Status)) {
	j.mu.Lock()
	fn(&j.status)
	j.mu.Unlock()
}

// NewRunner creates a runner. publisher may be nil.
func NewRunner(cfg Config, iso Isolator, pp pitch.Provider, pub Publisher, logger *slog.Logger) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Runner{
		cfg:       cfg,
		isolator:  iso,
		pitch:     pp,
		publisher: pub,
		logger:    logger,
		jobs:      make(map[string]*job),
	}
}

// Start launches a run in the background. The run is detached from ctx and
// bounded by the configured timeout instead.
func (r *Runner) Start(_ context.Context, target Target, refs []fingerprint.Reference) error {
	if _, _, ok := target.Input(); !ok {
		return ErrNoAudio
	}

	id := target.SessionID()
	r.mu.Lock()
	j, exists := r.jobs[id]
	if exists {
		select {
		case <-j.done:
		default:
			r.mu.Unlock()
			return ErrAnalysisRunning
		}
	}
	logs := NewLogBuffer(LogCapacity)
	if exists {
		logs = j.logs
	}
	runCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	now := time.Now().UTC()
	j = &job{
		status: Status{Stage: StagePending, StartedAt: &now},
		logs:   logs,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.jobs[id] = j
	r.mu.Unlock()

	go func() {
		defer close(j.done)
		defer cancel()
		r.run(runCtx, j, target, refs)
	}()
	return nil
}

// Status returns the latest status; a session that never ran is pending.
func (r *Runner) Status(sessionID string) Status {
	r.mu.Lock()
	j, ok := r.jobs[sessionID]
	r.mu.Unlock()
	if !ok {
		return Status{Stage: StagePending}
	}
	return j.snapshot()
}

// Logs returns log lines after cursor and the next cursor.
func (r *Runner) Logs(sessionID string, cursor int) ([]Line, int) {
	r.mu.Lock()
	j, ok := r.jobs[sessionID]
	r.mu.Unlock()
	if !ok {
		return []Line{}, 0
	}
	return j.logs.Since(cursor)
}

// Wait blocks until the session's current run finishes or ctx is done.
func (r *Runner) Wait(ctx context.Context, sessionID string) (Status, error) {
	r.mu.Lock()
	j, ok := r.jobs[sessionID]
	r.mu.Unlock()
	if !ok {
		return Status{Stage: StagePending}, nil
	}
	select {
	case <-j.done:
		return j.snapshot(), nil
	case <-ctx.Done():
		return j.snapshot(), ctx.Err()
	}
}

// Forget cancels any run and drops its status and logs.
func (r *Runner) Forget(sessionID string) {
	r.mu.Lock()
	j, ok := r.jobs[sessionID]
	delete(r.jobs, sessionID)
	r.mu.Unlock()
	if ok {
		j.cancel()
	}
}

// Shutdown cancels all active runs and waits for them to exit.
func (r *Runner) Shutdown(ctx context.Context) {
	r.mu.Lock()
	jobs := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()
	for _, j := range jobs {
		j.cancel()
		select {
		case <-j.done:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) run(ctx context.Context, j *job, target Target, refs []fingerprint.Reference) {
	id := target.SessionID()
	logger := newTeeLogger(r.logger.With("session_id", id), j.logs)
	began := time.Now()

	r.publish(hermes.AnalysisEvent{
		SessionID: id,
		Stage:     string(StagePending),
		Timestamp: began.UTC().Format(time.RFC3339),
	})
	logger.Info("analysis started", "references", len(refs))

	sections, aligns, err := r.pipeline(ctx, j, target, refs, logger)
	finished := time.Now().UTC()
	if err != nil {
		logger.Error("analysis failed", "error", err)
		j.set(func(s *Status) {
			s.Stage = StageError
			s.Error = err.Error()
			s.Message = ""
			s.FinishedAt = &finished
		})
		r.publish(hermes.AnalysisEvent{
			SessionID: id,
			Stage:     string(StageError),
			Error:     err.Error(),
			Seconds:   time.Since(began).Seconds(),
			Timestamp: finished.Format(time.RFC3339),
		})
		return
	}

	logger.Info("analysis complete", "sections", len(sections), "pairs", len(aligns))
	j.set(func(s *Status) {
		s.Stage = StageComplete
		s.Progress = 1
		s.Message = fmt.Sprintf("%d sections, %d pairs", len(sections), len(aligns))
		s.FinishedAt = &finished
	})
	r.publish(hermes.AnalysisEvent{
		SessionID: id,
		Stage:     string(StageComplete),
		Sections:  len(sections),
		Pairs:     len(aligns),
		Seconds:   time.Since(began).Seconds(),
		Timestamp: finished.Format(time.RFC3339),
	})
}

func (r *Runner) pipeline(ctx context.Context, j *job, target Target, refs []fingerprint.Reference, logger *slog.Logger) ([]section.Section, []alignment.Alignment, error) {
	enter := func(stage Stage, progress float64, msg string) {
		j.set(func(s *Status) {
			s.Stage = stage
			s.Progress = progress
			s.Message = msg
		})
		logger.Info(msg, "stage", string(stage))
	}

	audio, uploaded, ok := target.Input()
	if !ok {
		return nil, nil, ErrNoAudio
	}

	var track contour.Contour
	if audio != nil {
		enter(StageVocalIsolation, 0.05, "isolating vocals")
		vocals, err := r.isolator.Isolate(ctx, *audio)
		if err != nil {
			return nil, nil, fmt.Errorf("isolate vocals: %w", err)
		}

		enter(StagePitchEstimation, 0.2, "estimating pitch")
		track, err = r.pitch.Contour(ctx, vocals, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("estimate pitch: %w", err)
		}
		logger.Info("pitch contour ready", "frames", track.Len(), "voiced", track.VoicedCount())
	} else {
		track = *uploaded
		logger.Info("using uploaded contour", "frames", track.Len(), "voiced", track.VoicedCount())
	}

	enter(StageFingerprinting, 0.4, "detecting sections")
	opts := r.cfg.Fingerprint
	opts.Progress = func(done, total int) {
		if total <= 0 {
			return
		}
		j.set(func(s *Status) { s.Progress = 0.4 + 0.4*float64(done)/float64(total) })
	}
	sections, err := fingerprint.New(opts, logger).Detect(ctx, track, refs)
	if err != nil {
		return nil, nil, fmt.Errorf("detect sections: %w", err)
	}

	enter(StageAlignment, 0.8, "optimizing offsets")
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("align pairs: %w", err)
	}
	pairs := alignment.Pairs(sections)
	aligns := alignment.OptimizeAll(track, pairs)
	logger.Info("offsets optimized", "pairs", len(pairs), "unpaired", len(alignment.Unpaired(sections)))

	if err := target.Apply(ctx, track, sections, aligns); err != nil {
		return nil, nil, fmt.Errorf("apply results: %w", err)
	}
	return sections, aligns, nil
}

func (r *Runner) publish(evt hermes.AnalysisEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(evt.Subject(), evt); err != nil {
		r.logger.Warn("failed to publish analysis event", "subject", evt.Subject(), "error", err)
	}
}
