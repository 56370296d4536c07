// Package upload implements the resumable chunked upload state machine:
// session lifecycle, chunk admission and validation, pause/resume/cancel,
// and materialization of the final file.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fileflow-backend/internal/chunkstore"
	"fileflow-backend/internal/config"
	"fileflow-backend/internal/digest"
	"fileflow-backend/internal/domain"
	"fileflow-backend/internal/store"
)

// Service orchestrates upload sessions across the session store and the
// chunk blob store.
type Service struct {
	cfg    *config.Config
	store  store.Store
	chunks *chunkstore.Store
	locks  *sessionLocks
	log    zerolog.Logger
}

// NewService constructs a Service instance.
func NewService(cfg *config.Config, st store.Store, chunks *chunkstore.Store, log zerolog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  st,
		chunks: chunks,
		locks:  newSessionLocks(),
		log:    log,
	}
}

// Init starts a new upload session, or short-circuits with an instant hit
// when a completed file with the same digest already exists. On a hit no
// session or chunk storage is allocated.
func (s *Service) Init(ctx context.Context, ownerID uuid.UUID, req domain.InitRequest) (*domain.InitResponse, error) {
	name := strings.TrimSpace(req.FileName)
	if name == "" {
		return nil, fmt.Errorf("%w: filename is required", ErrInvalidArgument)
	}
	if req.Size <= 0 {
		return nil, fmt.Errorf("%w: file size must be greater than zero", ErrInvalidArgument)
	}
	if req.Size > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: file size exceeds max limit (%d bytes)", ErrInvalidArgument, s.cfg.MaxUploadBytes)
	}
	fileDigest := digest.Normalize(req.Digest)
	if fileDigest == "" {
		return nil, fmt.Errorf("%w: file digest is required", ErrInvalidArgument)
	}

	if existing, err := s.store.FindFileByDigest(ctx, fileDigest); err == nil {
		s.log.Info().
			Str("file_id", existing.ID.String()).
			Str("digest", fileDigest).
			Msg("instant upload hit")
		return &domain.InitResponse{Instant: true, FileID: existing.ID.String()}, nil
	} else if !errors.Is(err, store.ErrFileNotFound) {
		return nil, err
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.cfg.DefaultChunkSizeBytes
	}
	if chunkSize > s.cfg.MaxChunkSizeBytes {
		chunkSize = s.cfg.MaxChunkSizeBytes
	}
	if chunkSize > req.Size {
		chunkSize = req.Size
	}
	totalChunks := int((req.Size + chunkSize - 1) / chunkSize)

	sess := &domain.UploadSession{
		ID:             uuid.New(),
		OwnerID:        ownerID,
		ConversationID: req.ConversationID,
		OriginalName:   name,
		FileExtension:  strings.TrimPrefix(filepath.Ext(name), "."),
		TotalSize:      req.Size,
		FileDigest:     fileDigest,
		ChunkSize:      chunkSize,
		TotalChunks:    totalChunks,
		Status:         domain.StatusUploading,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.chunks.EnsureSession(sess.ID); err != nil {
		_ = s.store.DeleteSession(ctx, sess.ID)
		return nil, err
	}

	s.log.Info().
		Str("upload_id", sess.ID.String()).
		Str("filename", name).
		Int64("size", req.Size).
		Int("total_chunks", totalChunks).
		Msg("upload session created")

	return &domain.InitResponse{
		UploadID:    sess.ID.String(),
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
	}, nil
}

// UploadChunk admits a single chunk: range check, idempotent resend check,
// digest verification, blob write, then membership update. The blob is
// stored before membership is recorded so a crash between the two steps can
// only leave an orphaned blob, never a false membership entry.
func (s *Service) UploadChunk(ctx context.Context, sessionID uuid.UUID, chunkIndex int, chunkDigest string, data io.Reader) (*domain.ChunkResult, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.AcceptsChunks() {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidState, sess.Status)
	}
	if chunkIndex < 0 || chunkIndex >= sess.TotalChunks {
		return nil, fmt.Errorf("%w: index %d, plan has %d chunks", ErrChunkOutOfRange, chunkIndex, sess.TotalChunks)
	}
	if sess.HasChunk(chunkIndex) {
		return &domain.ChunkResult{
			ChunkIndex:     chunkIndex,
			AlreadyPresent: true,
			ReceivedChunks: len(sess.Uploaded),
			TotalChunks:    sess.TotalChunks,
			IsComplete:     len(sess.Uploaded) == sess.TotalChunks,
		}, nil
	}

	wantDigest := digest.Normalize(chunkDigest)
	if wantDigest == "" {
		return nil, fmt.Errorf("%w: chunk digest is required", ErrInvalidArgument)
	}

	written, err := s.chunks.WriteChunk(sessionID, chunkIndex, wantDigest, data)
	if err != nil {
		return nil, err
	}

	added, err := s.store.AddChunk(ctx, sessionID, chunkIndex, written, wantDigest)
	if err != nil {
		// The session was cancelled (or removed) while the blob was being
		// written. Remove the blob so cancellation does not leak storage.
		if errors.Is(err, store.ErrStatusConflict) || errors.Is(err, store.ErrSessionNotFound) {
			_ = s.chunks.RemoveChunk(sessionID, chunkIndex)
		}
		if errors.Is(err, store.ErrStatusConflict) {
			return nil, fmt.Errorf("%w: session no longer accepts chunks", ErrInvalidState)
		}
		return nil, err
	}

	refreshed, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Str("upload_id", sessionID.String()).
		Int("chunk", chunkIndex).
		Int64("bytes", written).
		Bool("already_present", !added).
		Msg("chunk received")

	return &domain.ChunkResult{
		ChunkIndex:     chunkIndex,
		AlreadyPresent: !added,
		ReceivedChunks: len(refreshed.Uploaded),
		TotalChunks:    refreshed.TotalChunks,
		IsComplete:     len(refreshed.Uploaded) == refreshed.TotalChunks,
	}, nil
}

// GetStatus returns the session view used for polling and resume.
func (s *Service) GetStatus(ctx context.Context, sessionID uuid.UUID) (*domain.StatusResponse, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	view := statusView(sess)
	return &view, nil
}

func statusView(sess *domain.UploadSession) domain.StatusResponse {
	view := domain.StatusResponse{
		UploadID:       sess.ID.String(),
		OriginalName:   sess.OriginalName,
		Status:         sess.Status,
		TotalSize:      sess.TotalSize,
		ChunkSize:      sess.ChunkSize,
		TotalChunks:    sess.TotalChunks,
		UploadedChunks: sess.Uploaded,
		CreatedAt:      sess.CreatedAt,
		UpdatedAt:      sess.UpdatedAt,
	}
	if sess.Status == domain.StatusUploading {
		view.RemainingChunks = sess.MissingChunks()
	}
	return view
}

// Pause transitions an uploading session to paused and returns the uploaded
// set so the caller can persist a resume checkpoint. Chunks already in
// flight are still admitted while paused.
func (s *Service) Pause(ctx context.Context, sessionID uuid.UUID) (*domain.PauseResponse, error) {
	e := s.locks.lock(sessionID)
	defer s.locks.unlock(sessionID, e)

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.StatusUploading {
		return nil, fmt.Errorf("%w: cannot pause a %s session", ErrInvalidState, sess.Status)
	}
	err = s.store.UpdateSessionStatus(ctx, sessionID, []domain.SessionStatus{domain.StatusUploading}, domain.StatusPaused)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, fmt.Errorf("%w: cannot pause session", ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("upload_id", sessionID.String()).Msg("upload paused")
	return &domain.PauseResponse{
		UploadID:       sessionID.String(),
		UploadedChunks: sess.Uploaded,
	}, nil
}

// Resume transitions a paused session back to uploading and returns the
// chunks that still need transmission.
func (s *Service) Resume(ctx context.Context, sessionID uuid.UUID) (*domain.ResumeResponse, error) {
	e := s.locks.lock(sessionID)
	defer s.locks.unlock(sessionID, e)

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != domain.StatusPaused {
		return nil, fmt.Errorf("%w: cannot resume a %s session", ErrInvalidState, sess.Status)
	}
	err = s.store.UpdateSessionStatus(ctx, sessionID, []domain.SessionStatus{domain.StatusPaused}, domain.StatusUploading)
	if errors.Is(err, store.ErrStatusConflict) {
		return nil, fmt.Errorf("%w: cannot resume session", ErrInvalidState)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("upload_id", sessionID.String()).Msg("upload resumed")
	return &domain.ResumeResponse{
		UploadID:        sessionID.String(),
		UploadedChunks:  sess.Uploaded,
		RemainingChunks: sess.MissingChunks(),
	}, nil
}

// Cancel terminates a session and removes its chunk namespace. Cancelling an
// already-cancelled session is a no-op. Cleanup is best-effort: missing
// blobs never fail the cancellation.
func (s *Service) Cancel(ctx context.Context, sessionID uuid.UUID) error {
	e := s.locks.lock(sessionID)
	defer s.locks.unlock(sessionID, e)

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	switch sess.Status {
	case domain.StatusCancelled:
		return nil
	case domain.StatusCompleted, domain.StatusFailed:
		return fmt.Errorf("%w: cannot cancel a %s session", ErrInvalidState, sess.Status)
	}

	err = s.store.UpdateSessionStatus(ctx, sessionID,
		[]domain.SessionStatus{domain.StatusUploading, domain.StatusPaused},
		domain.StatusCancelled)
	if errors.Is(err, store.ErrStatusConflict) {
		return fmt.Errorf("%w: cannot cancel session", ErrInvalidState)
	}
	if err != nil {
		return err
	}

	if err := s.chunks.RemoveSession(sessionID); err != nil {
		s.log.Warn().Err(err).Str("upload_id", sessionID.String()).Msg("chunk cleanup after cancel incomplete")
	}

	s.log.Info().Str("upload_id", sessionID.String()).Msg("upload cancelled")
	return nil
}

// List enumerates sessions, optionally filtered by status.
func (s *Service) List(ctx context.Context, status *domain.SessionStatus) ([]domain.StatusResponse, error) {
	sessions, err := s.store.ListSessions(ctx, status)
	if err != nil {
		return nil, err
	}
	views := make([]domain.StatusResponse, 0, len(sessions))
	for i := range sessions {
		views = append(views, statusView(&sessions[i]))
	}
	return views, nil
}

// ListFiles enumerates completed files.
func (s *Service) ListFiles(ctx context.Context) ([]domain.FileView, error) {
	files, err := s.store.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]domain.FileView, 0, len(files))
	for _, f := range files {
		views = append(views, domain.FileView{
			FileID:       f.ID.String(),
			OriginalName: f.OriginalName,
			SizeBytes:    f.SizeBytes,
			Digest:       f.Digest,
			Extension:    f.FileExtension,
			CreatedAt:    f.CreatedAt,
		})
	}
	return views, nil
}

// OpenFile returns a completed file record and a reader over its content.
func (s *Service) OpenFile(ctx context.Context, fileID uuid.UUID) (*domain.StoredFile, io.ReadCloser, error) {
	f, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := os.Open(f.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return f, rc, nil
}
