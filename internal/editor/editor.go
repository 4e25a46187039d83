// Package editor is the authoritative, undoable section state of one session.
//
// Every mutation validates its input, builds the next state on copies,
// persists it and only then commits it in memory. A persistence failure leaves
// the in-memory state untouched. The editor does no locking; callers
// serialize access per session.
package editor

import (
	"context"
	"errors"
	"fmt"

	"github.com/MikeSquared-Agency/antiphon/internal/alignment"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

var (
	ErrInvalidBoundary = errors.New("invalid split boundary")
	ErrInvalidMerge    = errors.New("invalid merge")
	ErrStorage         = errors.New("storage failure")
)

// HistoryCapacity bounds each of the undo and redo stacks.
const HistoryCapacity = 50

// Snapshot is the persisted form of a session's editable state.
type Snapshot struct {
	Sections   []section.Section     `json:"sections"`
	Alignments []alignment.Alignment `json:"alignments"`
	Undo       [][]section.Section   `json:"undo"`
	Redo       [][]section.Section   `json:"redo"`
}

// Persister stores a whole snapshot atomically.
type Persister interface {
	SaveSnapshot(ctx context.Context, sessionID string, snap Snapshot) error
}

type Editor struct {
	sessionID string
	persist   Persister
	newID     func() string
	st        state
}

type state struct {
	sections   []section.Section
	alignments []alignment.Alignment
	undo       [][]section.Section
	redo       [][]section.Section
}

// New returns an empty editor. persist may be nil for purely in-memory use.
func New(sessionID string, persist Persister, newID func() string) *Editor {
	return &Editor{sessionID: sessionID, persist: persist, newID: newID}
}

// Restore rebuilds an editor from a persisted snapshot.
func Restore(sessionID string, snap Snapshot, persist Persister, newID func() string) (*Editor, error) {
	for _, s := range snap.Sections {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("restore section %s: %w", s.ID, err)
		}
	}
	e := New(sessionID, persist, newID)
	e.st = state{
		sections:   section.CloneAll(snap.Sections),
		alignments: cloneAlignments(snap.Alignments),
		undo:       trim(snap.Undo),
		redo:       trim(snap.Redo),
	}
	section.Sort(e.st.sections)
	return e, nil
}

func (e *Editor) SessionID() string { return e.sessionID }

// Sections returns a deep copy of the current list, sorted by start.
func (e *Editor) Sections() []section.Section {
	out := section.CloneAll(e.st.sections)
	if out == nil {
		out = []section.Section{}
	}
	return out
}

// Section returns one section by id.
func (e *Editor) Section(id string) (section.Section, error) {
	i := section.IndexOf(e.st.sections, id)
	if i < 0 {
		return section.Section{}, fmt.Errorf("section %s: %w", id, section.ErrNotFound)
	}
	return e.st.sections[i].Clone(), nil
}

func (e *Editor) CanUndo() bool { return len(e.st.undo) > 0 }
func (e *Editor) CanRedo() bool { return len(e.st.redo) > 0 }

// Snapshot returns a deep copy of the full editable state.
func (e *Editor) Snapshot() Snapshot {
	return e.st.snapshot()
}

func (s state) snapshot() Snapshot {
	snap := Snapshot{
		Sections:   section.CloneAll(s.sections),
		Alignments: cloneAlignments(s.alignments),
		Undo:       make([][]section.Section, len(s.undo)),
		Redo:       make([][]section.Section, len(s.redo)),
	}
	for i, u := range s.undo {
		snap.Undo[i] = section.CloneAll(u)
	}
	for i, r := range s.redo {
		snap.Redo[i] = section.CloneAll(r)
	}
	return snap
}

// SaveFunc writes a snapshot, together with any state the editor does not
// own, as one atomic write.
type SaveFunc func(ctx context.Context, snap Snapshot) error

// commit persists next through the editor's Persister and, on success, makes
// it current.
func (e *Editor) commit(ctx context.Context, next state) error {
	var save SaveFunc
	if e.persist != nil {
		save = func(ctx context.Context, snap Snapshot) error {
			return e.persist.SaveSnapshot(ctx, e.sessionID, snap)
		}
	}
	return e.commitWith(ctx, next, save)
}

// commitWith is commit with a caller-supplied write. A nil save keeps the
// change in memory only.
func (e *Editor) commitWith(ctx context.Context, next state, save SaveFunc) error {
	if save != nil {
		if err := save(ctx, next.snapshot()); err != nil {
			return fmt.Errorf("save session %s: %w: %w", e.sessionID, ErrStorage, err)
		}
	}
	e.st = next
	return nil
}

// edit commits a new section list as one undoable step.
func (e *Editor) edit(ctx context.Context, sections []section.Section) error {
	section.Sort(sections)
	next := state{
		sections:   sections,
		alignments: e.st.alignments,
		undo:       push(e.st.undo, section.CloneAll(e.st.sections)),
	}
	return e.commit(ctx, next)
}

// push appends a snapshot to a copy of the stack, evicting the oldest entry
// beyond HistoryCapacity.
func push(stack [][]section.Section, snap []section.Section) [][]section.Section {
	out := make([][]section.Section, 0, len(stack)+1)
	out = append(out, stack...)
	out = append(out, snap)
	return trim(out)
}

func trim(stack [][]section.Section) [][]section.Section {
	if len(stack) > HistoryCapacity {
		stack = stack[len(stack)-HistoryCapacity:]
	}
	return stack
}

// Undo restores the list before the last edit. It reports false, without
// error, when there is nothing to undo.
func (e *Editor) Undo(ctx context.Context) (bool, error) {
	n := len(e.st.undo)
	if n == 0 {
		return false, nil
	}
	next := state{
		sections:   section.CloneAll(e.st.undo[n-1]),
		alignments: e.st.alignments,
		undo:       e.st.undo[:n-1:n-1],
		redo:       push(e.st.redo, section.CloneAll(e.st.sections)),
	}
	if err := e.commit(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

// Redo re-applies the last undone edit. It reports false, without error,
// when there is nothing to redo.
func (e *Editor) Redo(ctx context.Context) (bool, error) {
	n := len(e.st.redo)
	if n == 0 {
		return false, nil
	}
	next := state{
		sections:   section.CloneAll(e.st.redo[n-1]),
		alignments: e.st.alignments,
		undo:       push(e.st.undo, section.CloneAll(e.st.sections)),
		redo:       e.st.redo[:n-1:n-1],
	}
	if err := e.commit(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

// Reset clears sections, alignments and history.
func (e *Editor) Reset(ctx context.Context) error {
	return e.commit(ctx, state{})
}

// ResetWith is Reset persisted through save instead of the Persister.
func (e *Editor) ResetWith(ctx context.Context, save SaveFunc) error {
	return e.commitWith(ctx, state{}, save)
}

func cloneAlignments(list []alignment.Alignment) []alignment.Alignment {
	if list == nil {
		return nil
	}
	out := make([]alignment.Alignment, len(list))
	for i, a := range list {
		out[i] = cloneAlignment(a)
	}
	return out
}

func cloneAlignment(a alignment.Alignment) alignment.Alignment {
	if a.CustomOffset != nil {
		v := *a.CustomOffset
		a.CustomOffset = &v
	}
	if a.Correlation != nil {
		v := *a.Correlation
		a.Correlation = &v
	}
	return a
}
