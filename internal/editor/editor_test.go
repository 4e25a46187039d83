package editor

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/MikeSquared-Agency/antiphon/internal/alignment"
	"github.com/MikeSquared-Agency/antiphon/internal/section"
)

type memPersister struct {
	fail  bool
	saves int
	last  Snapshot
}

func (m *memPersister) SaveSnapshot(_ context.Context, _ string, snap Snapshot) error {
	if m.fail {
		return errors.New("disk on fire")
	}
	m.saves++
	m.last = snap
	return nil
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
}

func newEditor(t *testing.T) (*Editor, *memPersister) {
	t.Helper()
	p := &memPersister{}
	return New("sess", p, seqIDs()), p
}

func mustCreate(t *testing.T, e *Editor, start, end float64, label section.Label) section.Section {
	t.Helper()
	s, err := e.Create(context.Background(), section.Section{Start: start, End: end, Label: label})
	if err != nil {
		t.Fatalf("create [%v,%v): %v", start, end, err)
	}
	return s
}

func spans(list []section.Section) [][3]any {
	out := make([][3]any, len(list))
	for i, s := range list {
		out[i] = [3]any{s.Start, s.End, s.Label}
	}
	return out
}

func TestCreate_KeepsOrderAndClearsConfidence(t *testing.T) {
	e, p := newEditor(t)
	ctx := context.Background()

	mustCreate(t, e, 5, 7, section.Call)
	s, err := e.Create(ctx, section.Section{ID: "mine", Start: 0, End: 2, Label: section.Response, Confidence: section.Float(0.8)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID == "mine" || s.Confidence != nil {
		t.Errorf("expected fresh id and no confidence, got %+v", s)
	}

	list := e.Sections()
	if len(list) != 2 || list[0].Start != 0 || list[1].Start != 5 {
		t.Errorf("expected sorted sections, got %+v", list)
	}
	if p.saves != 2 || len(p.last.Sections) != 2 {
		t.Errorf("expected each edit persisted, got %d saves", p.saves)
	}
}

func TestCreate_Invalid(t *testing.T) {
	e, _ := newEditor(t)
	tests := []section.Section{
		{Start: 2, End: 1, Label: section.Call},
		{Start: -1, End: 1, Label: section.Call},
		{Start: 0, End: 1, Label: "verse"},
	}
	for _, s := range tests {
		if _, err := e.Create(context.Background(), s); !errors.Is(err, section.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for %+v, got %v", s, err)
		}
	}
	if e.CanUndo() {
		t.Error("failed creates must not enter history")
	}
}

func TestUpdate(t *testing.T) {
	e, _ := newEditor(t)
	ctx := context.Background()
	a := mustCreate(t, e, 0, 2, section.Call)
	b := mustCreate(t, e, 3, 4, section.Call)

	start := 5.0
	end := 6.0
	got, err := e.Update(ctx, a.ID, Update{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Start != 5 || got.End != 6 {
		t.Errorf("unexpected update result %+v", got)
	}
	list := e.Sections()
	if list[0].ID != b.ID || list[1].ID != a.ID {
		t.Errorf("expected re-sort after start change, got %+v", list)
	}

	bad := 1.0
	if _, err := e.Update(ctx, a.ID, Update{End: &bad}); !errors.Is(err, section.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := e.Update(ctx, "nope", Update{End: &bad}); !errors.Is(err, section.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_ClearsConfidenceOnlyOnBoundsOrLabel(t *testing.T) {
	e, _ := newEditor(t)
	ctx := context.Background()
	if err := e.Replace(ctx, []section.Section{
		{ID: "a", Start: 0, End: 2, Label: section.Call, Confidence: section.Float(0.9)},
	}, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}

	ref := true
	got, err := e.Update(ctx, "a", Update{IsReference: &ref})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Confidence == nil || *got.Confidence != 0.9 || !got.IsReference {
		t.Errorf("expected confidence kept, got %+v", got)
	}

	label := section.Response
	got, err = e.Update(ctx, "a", Update{Label: &label})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Confidence != nil {
		t.Errorf("expected confidence cleared on label change, got %v", *got.Confidence)
	}
}

func TestDelete(t *testing.T) {
	e, _ := newEditor(t)
	a := mustCreate(t, e, 0, 2, section.Call)

	if err := e.Delete(context.Background(), a.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Sections()) != 0 {
		t.Error("expected empty list")
	}
	if err := e.Delete(context.Background(), a.ID); !errors.Is(err, section.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestToggleLabelTwiceIsIdentity(t *testing.T) {
	e, _ := newEditor(t)
	ctx := context.Background()
	a := mustCreate(t, e, 0, 2, section.Call)

	once, err := e.ToggleLabel(ctx, a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if once.Label != section.Response {
		t.Errorf("expected response, got %s", once.Label)
	}
	twice, err := e.ToggleLabel(ctx, a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if twice.Label != section.Call {
		t.Errorf("expected call, got %s", twice.Label)
	}
}

func TestSplitThenMergeRestores(t *testing.T) {
	e, _ := newEditor(t)
	ctx := context.Background()
	a := mustCreate(t, e, 0, 2, section.Call)

	halves, err := e.Split(ctx, a.ID, 1)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if halves[0].Start != 0 || halves[0].End != 1 || halves[1].Start != 1 || halves[1].End != 2 {
		t.Errorf("unexpected halves %+v", halves)
	}
	if halves[0].Label != section.Call || halves[1].Label != section.Call {
		t.Error("halves must keep the label")
	}
	if halves[0].ID == a.ID || halves[1].ID == a.ID || halves[0].ID == halves[1].ID {
		t.Error("halves need fresh distinct ids")
	}

	merged, err := e.Merge(ctx, []string{halves[0].ID, halves[1].ID})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.Start != 0 || merged.End != 2 || merged.Label != section.Call {
		t.Errorf("expected [0,2) call, got %+v", merged)
	}
	if len(e.Sections()) != 1 {
		t.Errorf("expected a single section, got %d", len(e.Sections()))
	}
}

func TestSplit_InvalidBoundary(t *testing.T) {
	e, _ := newEditor(t)
	a := mustCreate(t, e, 0, 2, section.Call)
	for _, at := range []float64{0, 2, -1, 3} {
		if _, err := e.Split(context.Background(), a.ID, at); !errors.Is(err, ErrInvalidBoundary) {
			t.Errorf("split at %v: expected ErrInvalidBoundary, got %v", at, err)
		}
	}
}

func TestMerge_Errors(t *testing.T) {
	e, _ := newEditor(t)
	ctx := context.Background()
	a := mustCreate(t, e, 0, 2, section.Call)
	b := mustCreate(t, e, 3, 4, section.Response)

	tests := []struct {
		name string
		ids  []string
		want error
	}{
		{"single id", []string{a.ID}, ErrInvalidMerge},
		{"duplicate ids", []string{a.ID, a.ID}, ErrInvalidMerge},
		{"unknown id", []string{a.ID, "ghost"}, section.ErrNotFound},
		{"mixed labels", []string{a.ID, b.ID}, ErrInvalidMerge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Merge(ctx, tt.ids); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMerge_SpansAndReferenceFlag(t *testing.T) {
	e, _ := newEditor(t)
	ctx := context.Background()
	if err := e.Replace(ctx, []section.Section{
		{ID: "a", Start: 4, End: 5, Label: section.Response},
		{ID: "b", Start: 1, End: 2, Label: section.Response, IsReference: true},
		{ID: "c", Start: 6, End: 7, Label: section.Call},
	}, nil); err != nil {
		t.Fatalf("replace: %v", err)
	}

	m, err := e.Merge(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if m.Start != 1 || m.End != 5 || !m.IsReference || m.Confidence != nil {
		t.Errorf("unexpected merge result %+v", m)
	}
}

func TestUndoRedo(t *testing.T) {
	e, _ := newEditor(t)
	ctx := context.Background()
	mustCreate(t, e, 0, 2, section.Call)
	before := e.Sections()

	b := mustCreate(t, e, 3, 5, section.Response)
	if _, err := e.Split(ctx, b.ID, 4); err != nil {
		t.Fatalf("split: %v", err)
	}
	afterSplit := e.Sections()

	ok, err := e.Undo(ctx)
	if err != nil || !ok {
		t.Fatalf("undo: %v %v", ok, err)
	}
	ok, err = e.Undo(ctx)
	if err != nil || !ok {
		t.Fatalf("undo: %v %v", ok, err)
	}
	if !reflect.DeepEqual(e.Sections(), before) {
		t.Errorf("undo did not restore state: got %+v want %+v", e.Sections(), before)
	}

	if _, err := e.Redo(ctx); err != nil {
		t.Fatalf("redo: %v", err)
	}
	if _, err := e.Redo(ctx); err != nil {
		t.Fatalf("redo: %v", err)
	}
	if !reflect.DeepEqual(e.Sections(), afterSplit) {
		t.Errorf("redo did not restore state: got %+v want %+v", e.Sections(), afterSplit)
	}
}

func TestUndoRedo_EmptyIsNoop(t *testing.T) {
	e, p := newEditor(t)
	ctx := context.Background()

	ok, err := e.Undo(ctx)
	if err != nil || ok {
		t.Errorf("expected no-op undo, got %v %v", ok, err)
	}
	ok, err = e.Redo(ctx)
	if err != nil || ok {
		t.Errorf("expected no-op redo, got %v %v", ok, err)
	}
	if p.saves != 0 {
		t.Errorf("no-op must not persist, got %d saves", p.saves)
	}
}

func TestNewEditClearsRedo(t *testing.T) {
	e, _ := newEditor(t)
	ctx := context.Background()
	mustCreate(t, e, 0, 1, section.Call)
	if _, err := e.Undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !e.CanRedo() {
		t.Fatal("expected redo available")
	}
	mustCreate(t, e, 2, 3, section.Call)
	if e.CanRedo() {
		t.Error("new edit must clear redo")
	}
}

func TestHistoryCapacity(t *testing.T) {
	e, _ := newEditor(t)
	ctx := context.Background()
	for i := 0; i < HistoryCapacity+10; i++ {
		mustCreate(t, e, float64(i), float64(i)+0.5, section.Call)
	}

	undone := 0
	for {
		ok, err := e.Undo(ctx)
		if err != nil {
			t.Fatalf("undo: %v", err)
		}
		if !ok {
			break
		}
		undone++
	}
	if undone != HistoryCapacity {
		t.Errorf("expected %d undo steps, got %d", HistoryCapacity, undone)
	}
	if n := len(e.Sections()); n != 10 {
		t.Errorf("expected oldest 10 creates to remain, got %d sections", n)
	}
}

func TestStorageFailureLeavesStateUntouched(t *testing.T) {
	e, p := newEditor(t)
	ctx := context.Background()
	a := mustCreate(t, e, 0, 2, section.Call)
	before := e.Snapshot()

	p.fail = true
	if _, err := e.Create(ctx, section.Section{Start: 3, End: 4, Label: section.Call}); !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
	if _, err := e.Split(ctx, a.ID, 1); !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
	if _, err := e.Undo(ctx); !errors.Is(err, ErrStorage) {
		t.Errorf("expected ErrStorage, got %v", err)
	}
	if !reflect.DeepEqual(e.Snapshot(), before) {
		t.Errorf("state changed after failed persist")
	}

	p.fail = false
	if _, err := e.Split(ctx, a.ID, 1); err != nil {
		t.Errorf("retry after failure should succeed: %v", err)
	}
}

func TestReplaceIsUndoable(t *testing.T) {
	e, _ := newEditor(t)
	ctx := context.Background()
	mustCreate(t, e, 0, 1, section.Call)
	before := e.Sections()

	if err := e.Replace(ctx, []section.Section{
		{Start: 3, End: 4, Label: section.Response},
		{Start: 1, End: 2, Label: section.Call},
	}, []alignment.Alignment{{PairID: 0, OptimalOffset: 0.2}}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	list := e.Sections()
	if len(list) != 2 || list[0].Start != 1 || list[0].ID == "" {
		t.Errorf("unexpected replaced list %+v", list)
	}
	if a := e.Alignments(); len(a) != 1 || a[0].OptimalOffset != 0.2 {
		t.Errorf("unexpected alignments %+v", a)
	}

	if _, err := e.Undo(ctx); err != nil {
		t.Fatalf("undo: %v", err)
	}
	if !reflect.DeepEqual(spans(e.Sections()), spans(before)) {
		t.Errorf("undo of replace failed: %+v", e.Sections())
	}
}

func TestCustomOffsets(t *testing.T) {
	e, p := newEditor(t)
	ctx := context.Background()
	mustCreate(t, e, 0, 2, section.Call)
	mustCreate(t, e, 2.1, 4, section.Response)
	if err := e.SetOptimalOffsets(ctx, []alignment.Alignment{{PairID: 0, OptimalOffset: 0.15, Correlation: section.Float(0.8)}}); err != nil {
		t.Fatalf("set optimal: %v", err)
	}
	undoDepth := len(e.Snapshot().Undo)

	a, err := e.SetCustomOffset(ctx, 0, -0.4)
	if err != nil {
		t.Fatalf("set custom: %v", err)
	}
	if a.CustomOffset == nil || *a.CustomOffset != -0.4 || a.OptimalOffset != 0.15 {
		t.Errorf("unexpected alignment %+v", a)
	}
	if p.last.Alignments[0].CustomOffset == nil {
		t.Error("custom offset not persisted")
	}
	if len(e.Snapshot().Undo) != undoDepth {
		t.Error("alignment edits must not enter undo history")
	}

	a, err = e.ResetCustomOffset(ctx, 0)
	if err != nil {
		t.Fatalf("reset custom: %v", err)
	}
	if a.CustomOffset != nil || a.Effective() != 0.15 {
		t.Errorf("expected optimal offset restored, got %+v", a)
	}

	if _, err := e.SetCustomOffset(ctx, 3, 0.1); !errors.Is(err, section.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := e.SetCustomOffset(ctx, 0, 2.5); !errors.Is(err, section.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestResetAndRestore(t *testing.T) {
	e, p := newEditor(t)
	ctx := context.Background()
	mustCreate(t, e, 0, 2, section.Call)
	mustCreate(t, e, 3, 4, section.Response)

	restored, err := Restore("sess", p.last, p, seqIDs())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !reflect.DeepEqual(restored.Sections(), e.Sections()) || !restored.CanUndo() {
		t.Errorf("restore lost state")
	}

	if err := e.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(e.Sections()) != 0 || e.CanUndo() || e.CanRedo() || len(e.Alignments()) != 0 {
		t.Error("reset must clear everything")
	}
}

func TestReplaceWithUsesSuppliedWrite(t *testing.T) {
	e, p := newEditor(t)
	ctx := context.Background()
	mustCreate(t, e, 0, 1, section.Call)
	savesBefore := p.saves
	before := e.Snapshot()

	sections := []section.Section{{Start: 1, End: 2, Label: section.Call}}
	failing := func(context.Context, Snapshot) error { return errors.New("tx aborted") }
	if err := e.ReplaceWith(ctx, sections, nil, failing); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if !reflect.DeepEqual(e.Snapshot(), before) {
		t.Error("state changed after failed write")
	}

	var written Snapshot
	save := func(_ context.Context, snap Snapshot) error { written = snap; return nil }
	if err := e.ReplaceWith(ctx, sections, nil, save); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if p.saves != savesBefore {
		t.Error("expected the persister to be bypassed")
	}
	if len(written.Sections) != 1 || written.Sections[0].Start != 1 || len(written.Undo) != 2 {
		t.Errorf("unexpected written snapshot %+v", written)
	}
	if !reflect.DeepEqual(e.Snapshot(), written) {
		t.Error("expected the written snapshot to become current")
	}
}

func TestResetWith(t *testing.T) {
	e, _ := newEditor(t)
	ctx := context.Background()
	mustCreate(t, e, 0, 1, section.Call)

	failing := func(context.Context, Snapshot) error { return errors.New("tx aborted") }
	if err := e.ResetWith(ctx, failing); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if len(e.Sections()) != 1 {
		t.Error("expected sections kept after failed reset")
	}

	if err := e.ResetWith(ctx, nil); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if len(e.Sections()) != 0 || e.CanUndo() {
		t.Error("expected empty editor after reset")
	}
}
