package upload_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"fileflow-backend/internal/chunkstore"
	"fileflow-backend/internal/config"
	"fileflow-backend/internal/digest"
	"fileflow-backend/internal/domain"
	"fileflow-backend/internal/store"
	"fileflow-backend/internal/upload"
)

type testEnv struct {
	svc    *upload.Service
	store  *store.MemoryStore
	chunks *chunkstore.Store
	cfg    *config.Config
	owner  uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	chunks, err := chunkstore.NewStore(filepath.Join(t.TempDir(), "chunks"))
	require.NoError(t, err)
	cfg := &config.Config{
		DefaultChunkSizeBytes: 5,
		MaxChunkSizeBytes:     1 << 20,
		MaxUploadBytes:        1 << 30,
		FinalDir:              filepath.Join(t.TempDir(), "files"),
	}
	st := store.NewMemoryStore()
	return &testEnv{
		svc:    upload.NewService(cfg, st, chunks, zerolog.Nop()),
		store:  st,
		chunks: chunks,
		cfg:    cfg,
		owner:  uuid.New(),
	}
}

// initSession starts a session partitioning content into chunkSize pieces.
func (env *testEnv) initSession(t *testing.T, content []byte, chunkSize int64) uuid.UUID {
	t.Helper()
	res, err := env.svc.Init(context.Background(), env.owner, domain.InitRequest{
		FileName:  "report.bin",
		Size:      int64(len(content)),
		Digest:    digest.Bytes(content),
		ChunkSize: chunkSize,
	})
	require.NoError(t, err)
	require.False(t, res.Instant)
	id, err := uuid.Parse(res.UploadID)
	require.NoError(t, err)
	return id
}

func chunkOf(content []byte, chunkSize int64, index int) []byte {
	start := int64(index) * chunkSize
	end := start + chunkSize
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return content[start:end]
}

func (env *testEnv) uploadChunk(t *testing.T, id uuid.UUID, content []byte, chunkSize int64, index int) *domain.ChunkResult {
	t.Helper()
	part := chunkOf(content, chunkSize, index)
	res, err := env.svc.UploadChunk(context.Background(), id, index, digest.Bytes(part), bytes.NewReader(part))
	require.NoError(t, err)
	return res
}

func TestInitValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Init(ctx, env.owner, domain.InitRequest{FileName: "", Size: 10, Digest: "ab"})
	assert.ErrorIs(t, err, upload.ErrInvalidArgument)

	_, err = env.svc.Init(ctx, env.owner, domain.InitRequest{FileName: "a.txt", Size: 0, Digest: "ab"})
	assert.ErrorIs(t, err, upload.ErrInvalidArgument)

	_, err = env.svc.Init(ctx, env.owner, domain.InitRequest{FileName: "a.txt", Size: 10, Digest: ""})
	assert.ErrorIs(t, err, upload.ErrInvalidArgument)

	_, err = env.svc.Init(ctx, env.owner, domain.InitRequest{
		FileName: "a.txt", Size: env.cfg.MaxUploadBytes + 1, Digest: "ab",
	})
	assert.ErrorIs(t, err, upload.ErrInvalidArgument)
}

func TestInitChunkPlan(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("AAAAABBBBBCC") // 12 bytes, 5-byte chunks -> 3 chunks

	res, err := env.svc.Init(context.Background(), env.owner, domain.InitRequest{
		FileName:  "plan.bin",
		Size:      int64(len(content)),
		Digest:    digest.Bytes(content),
		ChunkSize: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.ChunkSize)
	assert.Equal(t, 3, res.TotalChunks)
}

func TestIdempotentChunkResend(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("AAAAABBBBBCCCCC")
	id := env.initSession(t, content, 5)

	first := env.uploadChunk(t, id, content, 5, 1)
	assert.False(t, first.AlreadyPresent)
	assert.Equal(t, 1, first.ReceivedChunks)

	second := env.uploadChunk(t, id, content, 5, 1)
	assert.True(t, second.AlreadyPresent)
	assert.Equal(t, 1, second.ReceivedChunks)

	status, err := env.svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, status.UploadedChunks)
}

func TestChunkIntegrityGate(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("AAAAABBBBBCCCCC")
	id := env.initSession(t, content, 5)

	// Declare the digest of different bytes than those sent.
	wrong := digest.Bytes([]byte("ZZZZZ"))
	_, err := env.svc.UploadChunk(context.Background(), id, 0, wrong, bytes.NewReader(content[:5]))
	assert.ErrorIs(t, err, chunkstore.ErrDigestMismatch)

	// The chunk must be neither a member nor persisted on disk.
	status, err := env.svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, status.UploadedChunks)

	_, err = env.chunks.OpenChunk(id, 0)
	assert.ErrorIs(t, err, chunkstore.ErrChunkMissing)
}

func TestChunkOutOfRange(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("AAAAABBBBBCCCCC")
	id := env.initSession(t, content, 5)

	part := content[:5]
	_, err := env.svc.UploadChunk(context.Background(), id, -1, digest.Bytes(part), bytes.NewReader(part))
	assert.ErrorIs(t, err, upload.ErrChunkOutOfRange)

	_, err = env.svc.UploadChunk(context.Background(), id, 3, digest.Bytes(part), bytes.NewReader(part))
	assert.ErrorIs(t, err, upload.ErrChunkOutOfRange)
}

func TestUploadChunkUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.UploadChunk(context.Background(), uuid.New(), 0, "ab", bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestCompleteMissingChunks(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("AAAAABBBBBCCCCC")
	id := env.initSession(t, content, 5)
	env.uploadChunk(t, id, content, 5, 1)

	_, err := env.svc.Complete(context.Background(), id)
	var missing *upload.MissingChunksError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []int{0, 2}, missing.Missing)

	// The failed completion must not have mutated state.
	status, err := env.svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUploading, status.Status)
	assert.Equal(t, []int{1}, status.UploadedChunks)
}

func TestOutOfOrderUploadMergesInIndexOrder(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("AAAAABBBBBCCCCC")
	id := env.initSession(t, content, 5)

	for _, idx := range []int{2, 0, 1} {
		env.uploadChunk(t, id, content, 5, idx)
	}

	result, err := env.svc.Complete(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), result.SizeBytes)
	assert.Equal(t, digest.Bytes(content), result.Digest)

	merged, err := os.ReadFile(filepath.Join(env.cfg.FinalDir, result.StorageName))
	require.NoError(t, err)
	assert.Equal(t, content, merged)
}

func TestConcreteThreeChunkScenario(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("AAAAABBBBBCCCCC") // totalSize=15, chunkSize=5 => 3 chunks
	id := env.initSession(t, content, 5)

	for idx := 0; idx < 3; idx++ {
		env.uploadChunk(t, id, content, 5, idx)
	}

	result, err := env.svc.Complete(context.Background(), id)
	require.NoError(t, err)

	merged, err := os.ReadFile(filepath.Join(env.cfg.FinalDir, result.StorageName))
	require.NoError(t, err)
	assert.Equal(t, "AAAAABBBBBCCCCC", string(merged))
	assert.Equal(t, digest.Bytes(content), result.Digest)
}

func TestDedupShortCircuit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("AAAAABBBBBCCCCC")
	id := env.initSession(t, content, 5)
	for idx := 0; idx < 3; idx++ {
		env.uploadChunk(t, id, content, 5, idx)
	}
	completed, err := env.svc.Complete(ctx, id)
	require.NoError(t, err)

	res, err := env.svc.Init(ctx, env.owner, domain.InitRequest{
		FileName: "copy.bin",
		Size:     int64(len(content)),
		Digest:   digest.Bytes(content),
	})
	require.NoError(t, err)
	assert.True(t, res.Instant)
	assert.Equal(t, completed.FileID, res.FileID)
	assert.Empty(t, res.UploadID)

	// No new session was allocated for the instant hit.
	sessions, err := env.store.ListSessions(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestPauseResumeRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("AAAAABBBBBCCCCC")
	id := env.initSession(t, content, 5)
	env.uploadChunk(t, id, content, 5, 0)

	paused, err := env.svc.Pause(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, paused.UploadedChunks)

	// Pause is advisory: chunks are still admitted while paused.
	res := env.uploadChunk(t, id, content, 5, 1)
	assert.False(t, res.AlreadyPresent)

	resumed, err := env.svc.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, resumed.UploadedChunks)
	assert.Equal(t, []int{2}, resumed.RemainingChunks)

	status, err := env.svc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUploading, status.Status)
}

func TestPauseResumeStateGuards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("AAAAABBBBBCCCCC")
	id := env.initSession(t, content, 5)

	_, err := env.svc.Resume(ctx, id)
	assert.ErrorIs(t, err, upload.ErrInvalidState)

	_, err = env.svc.Pause(ctx, id)
	require.NoError(t, err)
	_, err = env.svc.Pause(ctx, id)
	assert.ErrorIs(t, err, upload.ErrInvalidState)
}

func TestCancelCleansUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("AAAAABBBBBCCCCC")
	id := env.initSession(t, content, 5)
	env.uploadChunk(t, id, content, 5, 0)
	env.uploadChunk(t, id, content, 5, 2)

	require.NoError(t, env.svc.Cancel(ctx, id))

	for _, idx := range []int{0, 2} {
		_, err := env.chunks.OpenChunk(id, idx)
		assert.ErrorIs(t, err, chunkstore.ErrChunkMissing)
	}

	part := content[5:10]
	_, err := env.svc.UploadChunk(ctx, id, 1, digest.Bytes(part), bytes.NewReader(part))
	assert.ErrorIs(t, err, upload.ErrInvalidState)

	// Cancel is idempotent.
	assert.NoError(t, env.svc.Cancel(ctx, id))

	status, err := env.svc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, status.Status)
}

func TestCompleteIntegrityFailureIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("AAAAABBBBBCCCCC")

	// Declare a whole-file digest that cannot match the chunks.
	res, err := env.svc.Init(ctx, env.owner, domain.InitRequest{
		FileName:  "corrupt.bin",
		Size:      int64(len(content)),
		Digest:    digest.Bytes([]byte("something else entirely")),
		ChunkSize: 5,
	})
	require.NoError(t, err)
	id, err := uuid.Parse(res.UploadID)
	require.NoError(t, err)

	for idx := 0; idx < 3; idx++ {
		env.uploadChunk(t, id, content, 5, idx)
	}

	_, err = env.svc.Complete(ctx, id)
	assert.ErrorIs(t, err, chunkstore.ErrDigestMismatch)

	status, err := env.svc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, status.Status)

	// The partially-written final object was deleted and no record created.
	files, err := env.svc.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
	entries, err := os.ReadDir(env.cfg.FinalDir)
	if err == nil {
		assert.Empty(t, entries)
	}

	// Failed sessions are terminal and non-resumable.
	_, err = env.svc.Complete(ctx, id)
	assert.ErrorIs(t, err, upload.ErrInvalidState)
	_, err = env.svc.UploadChunk(ctx, id, 0, digest.Bytes(content[:5]), bytes.NewReader(content[:5]))
	assert.ErrorIs(t, err, upload.ErrInvalidState)
}

func TestCompleteAfterCompletedIsInvalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("AAAAABBBBBCCCCC")
	id := env.initSession(t, content, 5)
	for idx := 0; idx < 3; idx++ {
		env.uploadChunk(t, id, content, 5, idx)
	}
	_, err := env.svc.Complete(ctx, id)
	require.NoError(t, err)

	_, err = env.svc.Complete(ctx, id)
	assert.ErrorIs(t, err, upload.ErrInvalidState)
}

func TestConcurrentChunkUploads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := bytes.Repeat([]byte("0123456789abcdef"), 4) // 64 bytes
	const chunkSize = 8
	id := env.initSession(t, content, chunkSize)

	var g errgroup.Group
	for idx := 0; idx < 8; idx++ {
		idx := idx
		g.Go(func() error {
			part := chunkOf(content, chunkSize, idx)
			_, err := env.svc.UploadChunk(ctx, id, idx, digest.Bytes(part), bytes.NewReader(part))
			return err
		})
	}
	require.NoError(t, g.Wait())

	status, err := env.svc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, status.UploadedChunks)

	result, err := env.svc.Complete(ctx, id)
	require.NoError(t, err)
	merged, err := os.ReadFile(filepath.Join(env.cfg.FinalDir, result.StorageName))
	require.NoError(t, err)
	assert.Equal(t, content, merged)
}

func TestListFilteredByStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.initSession(t, []byte("AAAAABBBBB"), 5)
	second := env.initSession(t, []byte("CCCCCDDDDD"), 5)
	_, err := env.svc.Pause(ctx, second)
	require.NoError(t, err)

	paused := domain.StatusPaused
	views, err := env.svc.List(ctx, &paused)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, second.String(), views[0].UploadID)

	views, err = env.svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, views, 2)

	uploading := domain.StatusUploading
	views, err = env.svc.List(ctx, &uploading)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, first.String(), views[0].UploadID)
}

func TestDownloadCompletedFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := []byte("AAAAABBBBBCCCCC")
	id := env.initSession(t, content, 5)
	for idx := 0; idx < 3; idx++ {
		env.uploadChunk(t, id, content, 5, idx)
	}
	result, err := env.svc.Complete(ctx, id)
	require.NoError(t, err)

	fileID, err := uuid.Parse(result.FileID)
	require.NoError(t, err)
	f, rc, err := env.svc.OpenFile(ctx, fileID)
	require.NoError(t, err)
	defer rc.Close()

	assert.Equal(t, "report.bin", f.OriginalName)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(rc)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Bytes())

	_, _, err = env.svc.OpenFile(ctx, uuid.New())
	assert.True(t, errors.Is(err, store.ErrFileNotFound))
}
