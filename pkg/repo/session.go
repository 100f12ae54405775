// Package repo provides session storage and the optional PostgreSQL
// conversation archive.
package repo

import (
	"context"
	"sync"
	"time"

	"github.com/chatloom/chatloom/pkg/models"
)

// SessionRepository is the session storage port. The orchestrator serializes
// requests per session id; implementations only need safe concurrent access
// across distinct sessions.
type SessionRepository interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	// Update fails with a SessionNotFound error when the session is
	// missing.
	Update(ctx context.Context, session *models.Session) (*models.Session, error)
	Delete(ctx context.Context, id string) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// MemorySessionRepository is the default process-local, non-persistent
// repository.
type MemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
}

var _ SessionRepository = (*MemorySessionRepository)(nil)

// NewMemorySessionRepository creates an empty repository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{sessions: make(map[string]*models.Session)}
}

func (r *MemorySessionRepository) Get(_ context.Context, id string) (*models.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, models.NewSessionNotFound(id)
	}
	return session, nil
}

func (r *MemorySessionRepository) Create(_ context.Context, session *models.Session) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = session
	return session, nil
}

func (r *MemorySessionRepository) Update(_ context.Context, session *models.Session) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ID]; !ok {
		return nil, models.NewSessionNotFound(session.ID)
	}
	session.UpdatedAt = time.Now().UTC()
	r.sessions[session.ID] = session
	return session, nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false, nil
	}
	delete(r.sessions, id)
	return true, nil
}

// PruneIdleBefore deletes sessions whose last activity predates cutoff and
// returns how many were removed.
func (r *MemorySessionRepository) PruneIdleBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for id, session := range r.sessions {
		if session.UpdatedAt.Before(cutoff) {
			delete(r.sessions, id)
			pruned++
		}
	}
	return pruned, nil
}

func (r *MemorySessionRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok, nil
}
