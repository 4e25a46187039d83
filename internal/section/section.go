package section

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrInvalidInput is returned for malformed sections, ranges or arguments.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a section or pair id does not exist.
	ErrNotFound = errors.New("not found")
)

type Label string

const (
	Call     Label = "call"
	Response Label = "response"
)

func (l Label) Valid() bool {
	return l == Call || l == Response
}

// Opposite returns the other label of the call/response dichotomy.
func (l Label) Opposite() Label {
	if l == Call {
		return Response
	}
	return Call
}

// Section is a labeled time span of the vocal track. Confidence is nil for
// manually created or edited sections.
type Section struct {
	ID          string   `json:"id"`
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
	Label       Label    `json:"label"`
	Confidence  *float64 `json:"confidence"`
	IsReference bool     `json:"is_reference"`
}

// Range is a transient [Start, End) span, used for reference examples.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (r Range) Duration() float64 { return r.End - r.Start }

// Validate checks that the range is finite, non-negative and non-empty.
func (r Range) Validate() error {
	if math.IsNaN(r.Start) || math.IsNaN(r.End) || math.IsInf(r.Start, 0) || math.IsInf(r.End, 0) {
		return fmt.Errorf("non-finite range: %w", ErrInvalidInput)
	}
	if r.Start < 0 {
		return fmt.Errorf("negative start %.3f: %w", r.Start, ErrInvalidInput)
	}
	if r.End <= r.Start {
		return fmt.Errorf("end %.3f must be after start %.3f: %w", r.End, r.Start, ErrInvalidInput)
	}
	return nil
}

func (s Section) Range() Range { return Range{Start: s.Start, End: s.End} }

func (s Section) Duration() float64 { return s.End - s.Start }

// Validate checks bounds and label.
func (s Section) Validate() error {
	if err := s.Range().Validate(); err != nil {
		return err
	}
	if !s.Label.Valid() {
		return fmt.Errorf("unknown label %q: %w", s.Label, ErrInvalidInput)
	}
	if s.Confidence != nil && (*s.Confidence < 0 || *s.Confidence > 1 || math.IsNaN(*s.Confidence)) {
		return fmt.Errorf("confidence %v out of [0,1]: %w", *s.Confidence, ErrInvalidInput)
	}
	return nil
}

// Overlaps reports whether the two sections share any time.
func (s Section) Overlaps(o Section) bool {
	return s.Start < o.End && o.Start < s.End
}

// Clone returns a deep copy of the section.
func (s Section) Clone() Section {
	if s.Confidence != nil {
		c := *s.Confidence
		s.Confidence = &c
	}
	return s
}

// CloneAll deep-copies a list. A nil list stays nil.
func CloneAll(list []Section) []Section {
	if list == nil {
		return nil
	}
	out := make([]Section, len(list))
	for i, s := range list {
		out[i] = s.Clone()
	}
	return out
}

// Sort orders sections by start, keeping insertion order for equal starts.
func Sort(list []Section) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Start < list[j].Start
	})
}

// IsSorted reports whether the list is ordered by start.
func IsSorted(list []Section) bool {
	return sort.SliceIsSorted(list, func(i, j int) bool {
		return list[i].Start < list[j].Start
	})
}

// IndexOf returns the index of the section with the given id, or -1.
func IndexOf(list []Section, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// ByLabel returns the sections carrying the label, preserving order.
func ByLabel(list []Section, label Label) []Section {
	var out []Section
	for _, s := range list {
		if s.Label == label {
			out = append(out, s)
		}
	}
	return out
}

// Float is a helper for building optional confidences.
func Float(v float64) *float64 { return &v }
