package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"fileflow-backend/internal/chunkstore"
	"fileflow-backend/internal/domain"
)

// Complete materializes the final file from the session's chunks. It refuses
// when chunks are missing (returning the exact complement set, without
// mutating state), verifies the merged object against the declared
// whole-file digest, and on success registers the file in the dedup index,
// marks the session completed, and removes the chunk blobs. A digest
// mismatch is terminal: the output is deleted and the session marked failed.
func (s *Service) Complete(ctx context.Context, sessionID uuid.UUID) (*domain.CompleteResult, error) {
	e := s.locks.lock(sessionID)
	defer s.locks.unlock(sessionID, e)

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.AcceptsChunks() {
		return nil, fmt.Errorf("%w: session is %s", ErrInvalidState, sess.Status)
	}
	if missing := sess.MissingChunks(); len(missing) > 0 {
		return nil, &MissingChunksError{Missing: missing}
	}

	file, err := s.materialize(sess)
	if err != nil {
		if errors.Is(err, chunkstore.ErrDigestMismatch) {
			// Retrying a deterministic merge that already failed verification
			// cannot change the outcome: the chunks are corrupt at rest.
			if serr := s.store.UpdateSessionStatus(ctx, sessionID,
				[]domain.SessionStatus{domain.StatusUploading, domain.StatusPaused},
				domain.StatusFailed); serr != nil {
				s.log.Error().Err(serr).Str("upload_id", sessionID.String()).Msg("failed to mark session failed")
			}
			s.log.Error().Err(err).Str("upload_id", sessionID.String()).Msg("merge integrity check failed")
		}
		return nil, err
	}

	if err := s.store.InsertFile(ctx, file); err != nil {
		_ = os.Remove(file.StoragePath)
		return nil, err
	}
	if err := s.store.UpdateSessionStatus(ctx, sessionID,
		[]domain.SessionStatus{domain.StatusUploading, domain.StatusPaused},
		domain.StatusCompleted); err != nil {
		return nil, err
	}
	if err := s.chunks.RemoveSession(sessionID); err != nil {
		s.log.Warn().Err(err).Str("upload_id", sessionID.String()).Msg("chunk cleanup after merge incomplete")
	}

	s.log.Info().
		Str("upload_id", sessionID.String()).
		Str("file_id", file.ID.String()).
		Int64("size", file.SizeBytes).
		Msg("upload completed")

	return &domain.CompleteResult{
		FileID:      file.ID.String(),
		StorageName: file.StorageName,
		SizeBytes:   file.SizeBytes,
		Digest:      file.Digest,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// materialize concatenates the chunk blobs in strict ascending index order
// into one object in the final namespace, hashing while writing. The object
// only becomes visible after the whole-file digest has been verified.
func (s *Service) materialize(sess *domain.UploadSession) (*domain.StoredFile, error) {
	fileID := uuid.New()
	storageName := fileID.String() + "_" + sess.OriginalName
	finalPath := filepath.Join(s.cfg.FinalDir, storageName)

	if err := os.MkdirAll(s.cfg.FinalDir, 0o755); err != nil {
		return nil, err
	}

	tmpPath := finalPath + ".partial"
	out, err := os.Create(tmpPath)
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	w := io.MultiWriter(out, hasher)
	var written int64
	for i := 0; i < sess.TotalChunks; i++ {
		rc, err := s.chunks.OpenChunk(sess.ID, i)
		if err != nil {
			out.Close()
			_ = os.Remove(tmpPath)
			return nil, err
		}
		n, err := io.Copy(w, rc)
		rc.Close()
		if err != nil {
			out.Close()
			_ = os.Remove(tmpPath)
			return nil, err
		}
		written += n
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if got != sess.FileDigest {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: file declared %s, got %s", chunkstore.ErrDigestMismatch, sess.FileDigest, got)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	return &domain.StoredFile{
		ID:             fileID,
		OwnerID:        sess.OwnerID,
		ConversationID: sess.ConversationID,
		OriginalName:   sess.OriginalName,
		StorageName:    storageName,
		StoragePath:    finalPath,
		FileExtension:  sess.FileExtension,
		SizeBytes:      written,
		Digest:         got,
	}, nil
}
