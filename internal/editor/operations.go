package editor

import (
	"context"
	"fmt"
	"math"

	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

// Update carries the fields of a partial section update. Nil fields are left alone.
type Update struct {
	Start       *float64       `json:"start,omitempty"`
	End         *float64       `json:"end,omitempty"`
	Label       *section.Label `json:"label,omitempty"`
	IsReference *bool          `json:"is_reference,omitempty"`
}

// Create inserts a manually drawn section. Any supplied id or confidence is
// discarded.
func (e *Editor) Create(ctx context.Context, s section.Section) (section.Section, error) {
	s.ID = e.newID()
	s.Confidence = nil
	if err := s.Validate(); err != nil {
		return section.Section{}, fmt.Errorf("create section: %w", err)
	}

	next := append(section.CloneAll(e.st.sections), s)
	if err := e.edit(ctx, next); err != nil {
		return section.Section{}, err
	}
	return s.Clone(), nil
}

func (e *Editor) Update(ctx context.Context, id string, u Update) (section.Section, error) {
	next := section.CloneAll(e.st.sections)
	i := section.IndexOf(next, id)
	if i < 0 {
		return section.Section{}, fmt.Errorf("update section %s: %w", id, section.ErrNotFound)
	}

	s := next[i]
	changed := false
	if u.Start != nil && *u.Start != s.Start {
		s.Start, changed = *u.Start, true
	}
	if u.End != nil && *u.End != s.End {
		s.End, changed = *u.End, true
	}
	if u.Label != nil && *u.Label != s.Label {
		s.Label, changed = *u.Label, true
	}
	if u.IsReference != nil {
		s.IsReference = *u.IsReference
	}
	if changed {
		s.Confidence = nil
	}
	if err := s.Validate(); err != nil {
		return section.Section{}, fmt.Errorf("update section %s: %w", id, err)
	}

	next[i] = s
	if err := e.edit(ctx, next); err != nil {
		return section.Section{}, err
	}
	return s.Clone(), nil
}

func (e *Editor) Delete(ctx context.Context, id string) error {
	i := section.IndexOf(e.st.sections, id)
	if i < 0 {
		return fmt.Errorf("delete section %s: %w", id, section.ErrNotFound)
	}
	next := make([]section.Section, 0, len(e.st.sections)-1)
	for j, s := range e.st.sections {
		if j != i {
			next = append(next, s.Clone())
		}
	}
	return e.edit(ctx, next)
}

// ToggleLabel flips call and response and clears the confidence.
func (e *Editor) ToggleLabel(ctx context.Context, id string) (section.Section, error) {
	next := section.CloneAll(e.st.sections)
	i := section.IndexOf(next, id)
	if i < 0 {
		return section.Section{}, fmt.Errorf("toggle section %s: %w", id, section.ErrNotFound)
	}
	next[i].Label = next[i].Label.Opposite()
	next[i].Confidence = nil
	toggled := next[i].Clone()
	if err := e.edit(ctx, next); err != nil {
		return section.Section{}, err
	}
	return toggled, nil
}

// Split cuts a section at t into two contiguous sections with fresh ids.
func (e *Editor) Split(ctx context.Context, id string, at float64) ([2]section.Section, error) {
	var halves [2]section.Section
	i := section.IndexOf(e.st.sections, id)
	if i < 0 {
		return halves, fmt.Errorf("split section %s: %w", id, section.ErrNotFound)
	}
	orig := e.st.sections[i]
	if math.IsNaN(at) || at <= orig.Start || at >= orig.End {
		return halves, fmt.Errorf("split %s at %v outside (%v, %v): %w", id, at, orig.Start, orig.End, ErrInvalidBoundary)
	}

	halves[0] = section.Section{ID: e.newID(), Start: orig.Start, End: at, Label: orig.Label, IsReference: orig.IsReference}
	halves[1] = section.Section{ID: e.newID(), Start: at, End: orig.End, Label: orig.Label, IsReference: orig.IsReference}

	next := make([]section.Section, 0, len(e.st.sections)+1)
	for j, s := range e.st.sections {
		if j == i {
			next = append(next, halves[0], halves[1])
			continue
		}
		next = append(next, s.Clone())
	}
	if err := e.edit(ctx, next); err != nil {
		return [2]section.Section{}, err
	}
	return halves, nil
}

// Merge joins two or more sections of the same label into one spanning all of them.
func (e *Editor) Merge(ctx context.Context, ids []string) (section.Section, error) {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	if len(seen) < 2 || len(seen) != len(ids) {
		return section.Section{}, fmt.Errorf("merge needs at least two distinct ids, got %v: %w", ids, ErrInvalidMerge)
	}

	var parts []section.Section
	for _, id := range ids {
		i := section.IndexOf(e.st.sections, id)
		if i < 0 {
			return section.Section{}, fmt.Errorf("merge section %s: %w", id, section.ErrNotFound)
		}
		parts = append(parts, e.st.sections[i])
	}

	merged := section.Section{
		ID:    e.newID(),
		Start: parts[0].Start,
		End:   parts[0].End,
		Label: parts[0].Label,
	}
	for _, p := range parts {
		if p.Label != merged.Label {
			return section.Section{}, fmt.Errorf("merge mixes %s and %s: %w", merged.Label, p.Label, ErrInvalidMerge)
		}
		merged.Start = math.Min(merged.Start, p.Start)
		merged.End = math.Max(merged.End, p.End)
		merged.IsReference = merged.IsReference || p.IsReference
	}

	next := make([]section.Section, 0, len(e.st.sections)-len(parts)+1)
	for _, s := range e.st.sections {
		if !seen[s.ID] {
			next = append(next, s.Clone())
		}
	}
	next = append(next, merged)
	if err := e.edit(ctx, next); err != nil {
		return section.Section{}, err
	}
	return merged.Clone(), nil
}
