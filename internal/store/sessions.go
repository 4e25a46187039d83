package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/editor"
)

// CreateSession inserts a new session with empty state and returns its id.
func (s *Store) CreateSession(ctx context.Context) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO antiphon_sessions (id) VALUES ($1)`, id); err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO antiphon_session_state (session_id) VALUES ($1)`, id); err != nil {
		return uuid.Nil, fmt.Errorf("insert session state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// SaveSnapshot replaces the whole editable state of a session in one transaction.
func (s *Store) SaveSnapshot(ctx context.Context, sessionID string, snap editor.Snapshot) error {
	return s.inTx(ctx, sessionID, func(tx pgx.Tx, id uuid.UUID) error {
		return writeState(ctx, tx, id, snap)
	})
}

// SaveAnalysis stores an analysis result: the full-track contour and the
// editable state it produced, both or neither.
func (s *Store) SaveAnalysis(ctx context.Context, sessionID string, c contour.Contour, snap editor.Snapshot) error {
	return s.inTx(ctx, sessionID, func(tx pgx.Tx, id uuid.UUID) error {
		if err := writeContour(ctx, tx, id, c); err != nil {
			return err
		}
		return writeState(ctx, tx, id, snap)
	})
}

// ResetSession stores the cleared state and drops the session's contour.
func (s *Store) ResetSession(ctx context.Context, sessionID string, snap editor.Snapshot) error {
	return s.inTx(ctx, sessionID, func(tx pgx.Tx, id uuid.UUID) error {
		if _, err := tx.Exec(ctx, `DELETE FROM antiphon_contours WHERE session_id = $1`, id); err != nil {
			return fmt.Errorf("delete contour: %w", err)
		}
		return writeState(ctx, tx, id, snap)
	})
}

// inTx touches the session row and runs fn in the same transaction.
func (s *Store) inTx(ctx context.Context, sessionID string, fn func(tx pgx.Tx, id uuid.UUID) error) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE antiphon_sessions SET updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	if err := fn(tx, id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func writeState(ctx context.Context, tx pgx.Tx, id uuid.UUID, snap editor.Snapshot) error {
	sections, err := json.Marshal(nonNil(snap.Sections))
	if err != nil {
		return fmt.Errorf("marshal sections: %w", err)
	}
	aligns, err := json.Marshal(nonNil(snap.Alignments))
	if err != nil {
		return fmt.Errorf("marshal alignments: %w", err)
	}
	undo, err := json.Marshal(nonNil(snap.Undo))
	if err != nil {
		return fmt.Errorf("marshal undo stack: %w", err)
	}
	redo, err := json.Marshal(nonNil(snap.Redo))
	if err != nil {
		return fmt.Errorf("marshal redo stack: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO antiphon_session_state (session_id, sections, alignments, undo_stack, redo_stack, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (session_id) DO UPDATE SET
			sections = EXCLUDED.sections,
			alignments = EXCLUDED.alignments,
			undo_stack = EXCLUDED.undo_stack,
			redo_stack = EXCLUDED.redo_stack,
			updated_at = now()`,
		id, sections, aligns, undo, redo,
	)
	if err != nil {
		return fmt.Errorf("upsert session state: %w", err)
	}
	return nil
}

func writeContour(ctx context.Context, tx pgx.Tx, id uuid.UUID, c contour.Contour) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal contour: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO antiphon_contours (session_id, frames, samples, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id) DO UPDATE SET
			frames = EXCLUDED.frames,
			samples = EXCLUDED.samples,
			updated_at = now()`,
		id, c.Len(), data,
	)
	if err != nil {
		return fmt.Errorf("upsert contour: %w", err)
	}
	return nil
}

// LoadSnapshot reads a session's editable state.
func (s *Store) LoadSnapshot(ctx context.Context, sessionID string) (editor.Snapshot, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return editor.Snapshot{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	var sections, aligns, undo, redo []byte
	err = s.pool.QueryRow(ctx, `
		SELECT st.sections, st.alignments, st.undo_stack, st.redo_stack
		FROM antiphon_sessions se
		JOIN antiphon_session_state st ON st.session_id = se.id
		WHERE se.id = $1`, id,
	).Scan(&sections, &aligns, &undo, &redo)
	if errors.Is(err, pgx.ErrNoRows) {
		return editor.Snapshot{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return editor.Snapshot{}, fmt.Errorf("load session state: %w", err)
	}

	var snap editor.Snapshot
	if err := json.Unmarshal(sections, &snap.Sections); err != nil {
		return editor.Snapshot{}, fmt.Errorf("parse sections: %w", err)
	}
	if err := json.Unmarshal(aligns, &snap.Alignments); err != nil {
		return editor.Snapshot{}, fmt.Errorf("parse alignments: %w", err)
	}
	if err := json.Unmarshal(undo, &snap.Undo); err != nil {
		return editor.Snapshot{}, fmt.Errorf("parse undo stack: %w", err)
	}
	if err := json.Unmarshal(redo, &snap.Redo); err != nil {
		return editor.Snapshot{}, fmt.Errorf("parse redo stack: %w", err)
	}
	return snap, nil
}

// SaveContour stores the full-track pitch contour of a session.
func (s *Store) SaveContour(ctx context.Context, sessionID string, c contour.Contour) error {
	return s.inTx(ctx, sessionID, func(tx pgx.Tx, id uuid.UUID) error {
		return writeContour(ctx, tx, id, c)
	})
}

// DeleteContour drops the stored contour, if any.
func (s *Store) DeleteContour(ctx context.Context, sessionID string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return fmt.Errorf("parse session id: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM antiphon_contours WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("delete contour: %w", err)
	}
	return nil
}

// LoadContour returns the stored contour, with ok false when none was saved.
func (s *Store) LoadContour(ctx context.Context, sessionID string) (contour.Contour, bool, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return contour.Contour{}, false, nil
	}
	var data []byte
	err = s.pool.QueryRow(ctx, `SELECT samples FROM antiphon_contours WHERE session_id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return contour.Contour{}, false, nil
	}
	if err != nil {
		return contour.Contour{}, false, fmt.Errorf("load contour: %w", err)
	}
	var c contour.Contour
	if err := json.Unmarshal(data, &c); err != nil {
		return contour.Contour{}, false, fmt.Errorf("parse contour: %w", err)
	}
	return c, true, nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
