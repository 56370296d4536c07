package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fileflow-backend/internal/domain"
)

// MemoryStore is an in-process Store used by tests and single-node
// development. Semantics mirror PostgresStore exactly, including the guarded
// status transitions and exactly-once chunk membership.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*memSession
	files    map[uuid.UUID]domain.StoredFile
	order    []uuid.UUID // file insertion order, newest listing
}

type memSession struct {
	session domain.UploadSession
	chunks  map[int]struct{}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*memSession),
		files:    make(map[uuid.UUID]domain.StoredFile),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *domain.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	copied := *s
	copied.CreatedAt = now
	copied.UpdatedAt = now
	copied.Uploaded = nil
	m.sessions[s.ID] = &memSession{
		session: copied,
		chunks:  make(map[int]struct{}),
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID uuid.UUID) (*domain.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := ms.snapshot()
	return &out, nil
}

func (ms *memSession) snapshot() domain.UploadSession {
	out := ms.session
	out.Uploaded = make([]int, 0, len(ms.chunks))
	for idx := range ms.chunks {
		out.Uploaded = append(out.Uploaded, idx)
	}
	sort.Ints(out.Uploaded)
	return out
}

func (m *MemoryStore) ListSessions(_ context.Context, status *domain.SessionStatus) ([]domain.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sessions []domain.UploadSession
	for _, ms := range m.sessions {
		if status != nil && ms.session.Status != *status {
			continue
		}
		sessions = append(sessions, ms.snapshot())
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (m *MemoryStore) UpdateSessionStatus(_ context.Context, sessionID uuid.UUID, from []domain.SessionStatus, to domain.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	for _, st := range from {
		if ms.session.Status == st {
			ms.session.Status = to
			ms.session.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return ErrStatusConflict
}

func (m *MemoryStore) AddChunk(_ context.Context, sessionID uuid.UUID, chunkIndex int, _ int64, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[sessionID]
	if !ok {
		return false, ErrSessionNotFound
	}
	if _, present := ms.chunks[chunkIndex]; present {
		return false, nil
	}
	if !ms.session.Status.AcceptsChunks() {
		return false, ErrStatusConflict
	}
	ms.chunks[chunkIndex] = struct{}{}
	ms.session.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) ListTerminalBefore(_ context.Context, cutoff time.Time) ([]domain.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sessions []domain.UploadSession
	for _, ms := range m.sessions {
		if ms.session.Status.Terminal() && ms.session.UpdatedAt.Before(cutoff) {
			sessions = append(sessions, ms.snapshot())
		}
	}
	return sessions, nil
}

func (m *MemoryStore) InsertFile(_ context.Context, f *domain.StoredFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *f
	copied.CreatedAt = time.Now().UTC()
	m.files[f.ID] = copied
	m.order = append(m.order, f.ID)
	f.CreatedAt = copied.CreatedAt
	return nil
}

func (m *MemoryStore) FindFileByDigest(_ context.Context, fileDigest string) (*domain.StoredFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if f, ok := m.files[m.order[i]]; ok && f.Digest == fileDigest {
			out := f
			return &out, nil
		}
	}
	return nil, ErrFileNotFound
}

func (m *MemoryStore) GetFile(_ context.Context, fileID uuid.UUID) (*domain.StoredFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[fileID]
	if !ok {
		return nil, ErrFileNotFound
	}
	out := f
	return &out, nil
}

func (m *MemoryStore) ListFiles(_ context.Context) ([]domain.StoredFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	files := make([]domain.StoredFile, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if f, ok := m.files[m.order[i]]; ok {
			files = append(files, f)
		}
	}
	return files, nil
}
