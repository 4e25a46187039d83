package editor

import (
	"context"
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/antiphon/internal/alignment"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

// Replace installs an analysis result: the new section list as one undoable
// edit and the computed optimal offsets, in a single commit. Custom offsets
// are discarded because the pairs they referred to no longer exist.
func (e *Editor) Replace(ctx context.Context, sections []section.Section, aligns []alignment.Alignment) error {
	next, err := e.replaced(sections, aligns)
	if err != nil {
		return err
	}
	return e.commit(ctx, next)
}

// ReplaceWith is Replace persisted through save instead of the Persister, so
// the caller can store the result together with data it derived from.
func (e *Editor) ReplaceWith(ctx context.Context, sections []section.Section, aligns []alignment.Alignment, save SaveFunc) error {
	next, err := e.replaced(sections, aligns)
	if err != nil {
		return err
	}
	return e.commitWith(ctx, next, save)
}

func (e *Editor) replaced(sections []section.Section, aligns []alignment.Alignment) (state, error) {
	next := section.CloneAll(sections)
	for i := range next {
		if next[i].ID == "" {
			next[i].ID = e.newID()
		}
		if err := next[i].Validate(); err != nil {
			return state{}, fmt.Errorf("replace sections: %w", err)
		}
	}
	section.Sort(next)

	fresh := make([]alignment.Alignment, len(aligns))
	for i, a := range aligns {
		a = cloneAlignment(a)
		a.CustomOffset = nil
		fresh[i] = a
	}

	return state{
		sections:   next,
		alignments: fresh,
		undo:       push(e.st.undo, section.CloneAll(e.st.sections)),
	}, nil
}

// Alignments returns one entry per current pair. Pairs without stored state
// report a zero optimal offset.
func (e *Editor) Alignments() []alignment.Alignment {
	n := len(alignment.Pairs(e.st.sections))
	out := make([]alignment.Alignment, n)
	for i := range out {
		out[i] = alignment.Alignment{PairID: i}
	}
	for _, a := range e.st.alignments {
		if a.PairID >= 0 && a.PairID < n {
			out[a.PairID] = cloneAlignment(a)
		}
	}
	return out
}

// Alignment returns the state of one pair.
func (e *Editor) Alignment(pairID int) (alignment.Alignment, error) {
	all := e.Alignments()
	if pairID < 0 || pairID >= len(all) {
		return alignment.Alignment{}, fmt.Errorf("pair %d: %w", pairID, section.ErrNotFound)
	}
	return all[pairID], nil
}

// SetOptimalOffsets stores freshly computed optimal offsets, keeping any
// custom offsets already set for those pairs.
func (e *Editor) SetOptimalOffsets(ctx context.Context, results []alignment.Alignment) error {
	current := e.Alignments()
	for _, r := range results {
		if r.PairID < 0 || r.PairID >= len(current) {
			return fmt.Errorf("pair %d: %w", r.PairID, section.ErrNotFound)
		}
		a := cloneAlignment(r)
		a.CustomOffset = current[r.PairID].CustomOffset
		current[r.PairID] = a
	}
	return e.setAlignments(ctx, current)
}

// SetCustomOffset saves a user-chosen offset for a pair.
func (e *Editor) SetCustomOffset(ctx context.Context, pairID int, offset float64) (alignment.Alignment, error) {
	if math.IsNaN(offset) || math.Abs(offset) > alignment.MaxOffset {
		return alignment.Alignment{}, fmt.Errorf("custom offset %v outside [-%v, %v]: %w", offset, alignment.MaxOffset, alignment.MaxOffset, section.ErrInvalidInput)
	}
	return e.updateAlignment(ctx, pairID, func(a *alignment.Alignment) {
		a.CustomOffset = &offset
	})
}

// ResetCustomOffset clears a pair's custom offset so the optimal one applies.
func (e *Editor) ResetCustomOffset(ctx context.Context, pairID int) (alignment.Alignment, error) {
	return e.updateAlignment(ctx, pairID, func(a *alignment.Alignment) {
		a.CustomOffset = nil
	})
}

func (e *Editor) updateAlignment(ctx context.Context, pairID int, fn func(a *alignment.Alignment)) (alignment.Alignment, error) {
	current := e.Alignments()
	if pairID < 0 || pairID >= len(current) {
		return alignment.Alignment{}, fmt.Errorf("pair %d: %w", pairID, section.ErrNotFound)
	}
	fn(&current[pairID])
	if err := e.setAlignments(ctx, current); err != nil {
		return alignment.Alignment{}, err
	}
	return cloneAlignment(current[pairID]), nil
}

// setAlignments commits alignment state without touching undo history.
func (e *Editor) setAlignments(ctx context.Context, aligns []alignment.Alignment) error {
	return e.commit(ctx, state{
		sections:   e.st.sections,
		alignments: aligns,
		undo:       e.st.undo,
		redo:       e.st.redo,
	})
}
