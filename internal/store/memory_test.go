package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileflow-backend/internal/domain"
	"fileflow-backend/internal/store"
)

func newSession() *domain.UploadSession {
	return &domain.UploadSession{
		ID:           uuid.New(),
		OwnerID:      uuid.New(),
		OriginalName: "a.bin",
		TotalSize:    15,
		FileDigest:   "deadbeef",
		ChunkSize:    5,
		TotalChunks:  3,
		Status:       domain.StatusUploading,
	}
}

func TestSessionRoundTrip(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	sess := newSession()
	require.NoError(t, m.CreateSession(ctx, sess))

	got, err := m.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, domain.StatusUploading, got.Status)
	assert.Empty(t, got.Uploaded)

	_, err = m.GetSession(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestAddChunkExactlyOnce(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	sess := newSession()
	require.NoError(t, m.CreateSession(ctx, sess))

	added, err := m.AddChunk(ctx, sess.ID, 1, 5, "d1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = m.AddChunk(ctx, sess.ID, 1, 5, "d1")
	require.NoError(t, err)
	assert.False(t, added)

	got, err := m.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, got.Uploaded)

	_, err = m.AddChunk(ctx, uuid.New(), 0, 5, "d0")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestAddChunkRejectedOnTerminalSession(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	sess := newSession()
	require.NoError(t, m.CreateSession(ctx, sess))
	require.NoError(t, m.UpdateSessionStatus(ctx, sess.ID,
		[]domain.SessionStatus{domain.StatusUploading}, domain.StatusCancelled))

	_, err := m.AddChunk(ctx, sess.ID, 0, 5, "d0")
	assert.ErrorIs(t, err, store.ErrStatusConflict)
}

func TestUpdateSessionStatusGuard(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	sess := newSession()
	require.NoError(t, m.CreateSession(ctx, sess))

	err := m.UpdateSessionStatus(ctx, sess.ID,
		[]domain.SessionStatus{domain.StatusPaused}, domain.StatusUploading)
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	err = m.UpdateSessionStatus(ctx, uuid.New(),
		[]domain.SessionStatus{domain.StatusUploading}, domain.StatusPaused)
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	require.NoError(t, m.UpdateSessionStatus(ctx, sess.ID,
		[]domain.SessionStatus{domain.StatusUploading}, domain.StatusPaused))
	got, err := m.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, got.Status)
}

func TestConcurrentAddChunkLosesNoUpdates(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()
	sess := newSession()
	sess.TotalChunks = 64
	require.NoError(t, m.CreateSession(ctx, sess))

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := m.AddChunk(ctx, sess.ID, idx, 1, "d")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := m.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.Uploaded, 64)
}

func TestListSessionsByStatus(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()

	a := newSession()
	b := newSession()
	require.NoError(t, m.CreateSession(ctx, a))
	require.NoError(t, m.CreateSession(ctx, b))
	require.NoError(t, m.UpdateSessionStatus(ctx, b.ID,
		[]domain.SessionStatus{domain.StatusUploading}, domain.StatusPaused))

	paused := domain.StatusPaused
	got, err := m.ListSessions(ctx, &paused)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	got, err = m.ListSessions(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestListTerminalBefore(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()

	done := newSession()
	require.NoError(t, m.CreateSession(ctx, done))
	require.NoError(t, m.UpdateSessionStatus(ctx, done.ID,
		[]domain.SessionStatus{domain.StatusUploading}, domain.StatusCompleted))

	live := newSession()
	require.NoError(t, m.CreateSession(ctx, live))

	time.Sleep(time.Millisecond)
	got, err := m.ListTerminalBefore(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, done.ID, got[0].ID)
}

func TestFileDedupLookup(t *testing.T) {
	m := store.NewMemoryStore()
	ctx := context.Background()

	_, err := m.FindFileByDigest(ctx, "cafe")
	assert.ErrorIs(t, err, store.ErrFileNotFound)

	f := &domain.StoredFile{
		ID:           uuid.New(),
		OwnerID:      uuid.New(),
		OriginalName: "a.bin",
		StorageName:  "x_a.bin",
		StoragePath:  "/tmp/x_a.bin",
		SizeBytes:    15,
		Digest:       "cafe",
	}
	require.NoError(t, m.InsertFile(ctx, f))

	got, err := m.FindFileByDigest(ctx, "cafe")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	byID, err := m.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.bin", byID.OriginalName)

	files, err := m.ListFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
