// Package session keeps the live state of editing sessions: the editor, the
// uploaded audio and the full-track pitch contour.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/antiphon/internal/alignment"
	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/editor"
	"github.com/MikeSquared-Agency/antiphon/internal/fingerprint"
	"github.com/MikeSquared-Agency/antiphon/internal/pitch"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

// ExportVersion is the version tag written into project exports.
const ExportVersion = "1.0"

// Session serializes every read and mutation of one session.
type Session struct {
	id     string
	store  Store
	logger *slog.Logger

	mu     sync.Mutex
	editor *editor.Editor
	audio  *pitch.Audio
	track  *contour.Contour
}

// PairView is a pair together with its alignment state.
type PairView struct {
	alignment.Pair
	Alignment alignment.Alignment `json:"alignment"`
}

// Window is the contour of one section with times relative to its start.
type Window struct {
	Section section.Section  `json:"section"`
	Samples []contour.Sample `json:"samples"`
	Stats   contour.Stats    `json:"stats"`
}

type PairPitch struct {
	PairID   int    `json:"pair_id"`
	Call     Window `json:"call"`
	Response Window `json:"response"`
}

type Export struct {
	Version    string                `json:"version"`
	ExportedAt time.Time             `json:"exported_at"`
	SessionID  string                `json:"session_id"`
	Sections   []section.Section     `json:"sections"`
	Alignments []alignment.Alignment `json:"alignments"`
}

func (s *Session) ID() string { return s.id }

// SessionID lets a Session act as an analysis target.
func (s *Session) SessionID() string { return s.id }

// Edit runs fn with exclusive access to the editor.
func (s *Session) Edit(fn func(e *editor.Editor) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.editor)
}

// SetAudio replaces the recording. Any contour derived from the previous
// recording is dropped, in memory and in the store.
func (s *Session) SetAudio(ctx context.Context, a pitch.Audio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil && s.track != nil {
		if err := s.store.DeleteContour(ctx, s.id); err != nil {
			return fmt.Errorf("drop contour: %w: %w", editor.ErrStorage, err)
		}
	}
	s.audio = &a
	s.track = nil
	return nil
}

// SetContour installs a precomputed full-track contour in place of audio.
func (s *Session) SetContour(ctx context.Context, c contour.Contour) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		if err := s.store.SaveContour(ctx, s.id, c); err != nil {
			return fmt.Errorf("save contour: %w: %w", editor.ErrStorage, err)
		}
	}
	s.audio = nil
	s.track = &c
	return nil
}

// Input implements analysis.Target.
func (s *Session) Input() (*pitch.Audio, *contour.Contour, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio, s.track, s.audio != nil || s.track != nil
}

// Apply installs an analysis result: the contour, the detected sections as
// one undoable step and the optimal offsets. Contour and sections are stored
// in one write. A cancelled ctx means the run was abandoned and nothing is
// installed.
func (s *Session) Apply(ctx context.Context, track contour.Contour, sections []section.Section, aligns []alignment.Alignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("apply results to session %s: %w", s.id, err)
	}
	var save editor.SaveFunc
	if s.store != nil {
		save = func(ctx context.Context, snap editor.Snapshot) error {
			return s.store.SaveAnalysis(ctx, s.id, track, snap)
		}
	}
	if err := s.editor.ReplaceWith(ctx, sections, aligns, save); err != nil {
		return err
	}
	s.track = &track
	s.logger.Info("analysis results applied", "session_id", s.id, "sections", len(sections), "pairs", len(aligns))
	return nil
}

// Reset clears sections, history, alignments, audio and contour.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var save editor.SaveFunc
	if s.store != nil {
		save = func(ctx context.Context, snap editor.Snapshot) error {
			return s.store.ResetSession(ctx, s.id, snap)
		}
	}
	if err := s.editor.ResetWith(ctx, save); err != nil {
		return err
	}
	s.audio = nil
	s.track = nil
	return nil
}

func (s *Session) Sections() []section.Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Sections()
}

func (s *Session) Pairs() []PairView {
	s.mu.Lock()
	defer s.mu.Unlock()
	pairs := alignment.Pairs(s.editor.Sections())
	aligns := s.editor.Alignments()
	out := make([]PairView, len(pairs))
	for i, p := range pairs {
		out[i] = PairView{Pair: p, Alignment: aligns[i]}
	}
	return out
}

func (s *Session) Alignments() []alignment.Alignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editor.Alignments()
}

// pair returns the pair and the full-track contour, or an error when either
// is missing. Callers hold s.mu.
func (s *Session) pair(pairID int) (alignment.Pair, contour.Contour, error) {
	p, ok := alignment.FindPair(s.editor.Sections(), pairID)
	if !ok {
		return alignment.Pair{}, contour.Contour{}, fmt.Errorf("pair %d: %w", pairID, section.ErrNotFound)
	}
	if s.track == nil {
		return alignment.Pair{}, contour.Contour{}, fmt.Errorf("session %s has no contour: %w", s.id, alignment.ErrNoPitchData)
	}
	return p, *s.track, nil
}

// PairPitch returns both halves of a pair as windowed contours with summary
// statistics.
func (s *Session) PairPitch(pairID int) (PairPitch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, track, err := s.pair(pairID)
	if err != nil {
		return PairPitch{}, err
	}
	window := func(sec section.Section) Window {
		w := track.Window(sec.Start, sec.End)
		return Window{Section: sec, Samples: w.Samples(), Stats: w.Summarize()}
	}
	return PairPitch{PairID: pairID, Call: window(p.Call), Response: window(p.Response)}, nil
}

// PairMetrics evaluates a pair at offset, or at its effective offset when
// offset is nil.
func (s *Session) PairMetrics(pairID int, offset *float64) (alignment.Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, track, err := s.pair(pairID)
	if err != nil {
		return alignment.Metrics{}, err
	}
	var at float64
	if offset != nil {
		at = *offset
	} else {
		a, err := s.editor.Alignment(pairID)
		if err != nil {
			return alignment.Metrics{}, err
		}
		at = a.Effective()
	}
	call := track.Window(p.Call.Start, p.Call.End)
	resp := track.Window(p.Response.Start, p.Response.End)
	return alignment.Evaluate(call, resp, at)
}

// Reoptimize recomputes optimal offsets for the current pairs, keeping
// custom offsets.
func (s *Session) Reoptimize(ctx context.Context) ([]alignment.Alignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil {
		return nil, fmt.Errorf("session %s has no contour: %w", s.id, alignment.ErrNoPitchData)
	}
	results := alignment.OptimizeAll(*s.track, alignment.Pairs(s.editor.Sections()))
	if err := s.editor.SetOptimalOffsets(ctx, results); err != nil {
		return nil, err
	}
	return s.editor.Alignments(), nil
}

func (s *Session) Proposals(topN int) fingerprint.Proposals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fingerprint.ProposeReferences(s.editor.Sections(), topN)
}

func (s *Session) Export() Export {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Export{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		SessionID:  s.id,
		Sections:   s.editor.Sections(),
		Alignments: s.editor.Alignments(),
	}
}
