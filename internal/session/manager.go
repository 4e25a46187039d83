package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/antiphon/internal/contour"
	"github.com/MikeSquared-Agency/antiphon/internal/editor"
	"github.com/MikeSquared-Agency/antiphon/internal/store"
)

var ErrSessionNotFound = errors.New("session not found")

// Store is the persistence a Manager needs. *store.Store satisfies it.
type Store interface {
	editor.Persister
	CreateSession(ctx context.Context) (uuid.UUID, error)
	LoadSnapshot(ctx context.Context, sessionID string) (editor.Snapshot, error)
	SaveContour(ctx context.Context, sessionID string, c contour.Contour) error
	LoadContour(ctx context.Context, sessionID string) (contour.Contour, bool, error)
	DeleteContour(ctx context.Context, sessionID string) error
	// SaveAnalysis stores a contour and the state derived from it atomically.
	SaveAnalysis(ctx context.Context, sessionID string, c contour.Contour, snap editor.Snapshot) error
	// ResetSession stores a cleared state and drops the contour atomically.
	ResetSession(ctx context.Context, sessionID string, snap editor.Snapshot) error
}

// Manager creates sessions and restores them from the store on first use.
// With a nil store sessions live only in memory.
type Manager struct {
	store  Store
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(st Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:    st,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) newSession(id string, ed *editor.Editor) *Session {
	return &Session{id: id, store: m.store, logger: m.logger, editor: ed}
}

func (m *Manager) persister() editor.Persister {
	if m.store == nil {
		return nil
	}
	return m.store
}

// Create starts an empty session.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	id := uuid.NewString()
	if m.store != nil {
		uid, err := m.store.CreateSession(ctx)
		if err != nil {
			return nil, fmt.Errorf("create session: %w: %w", editor.ErrStorage, err)
		}
		id = uid.String()
	}

	s := m.newSession(id, editor.New(id, m.persister(), uuid.NewString))
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", id)
	return s, nil
}

// Get returns a live session, restoring it from the store when needed.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	if m.store == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}

	snap, err := m.store.LoadSnapshot(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w: %w", id, editor.ErrStorage, err)
	}
	ed, err := editor.Restore(id, snap, m.store, uuid.NewString)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w: %w", id, editor.ErrStorage, err)
	}
	s := m.newSession(id, ed)

	track, ok, err := m.store.LoadContour(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load contour %s: %w: %w", id, editor.ErrStorage, err)
	}
	if ok {
		s.track = &track
	}

	m.sessions[id] = s
	m.logger.Info("session restored", "session_id", id, "sections", len(snap.Sections), "has_contour", ok)
	return s, nil
}
