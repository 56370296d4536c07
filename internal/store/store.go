package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fileflow-backend/internal/domain"
)

// Store defines persistence behavior for upload sessions, chunk membership,
// and completed file records. Single-record operations are the unit of
// consistency; no cross-session transactions are required.
type Store interface {
	// CreateSession persists a new session record.
	CreateSession(ctx context.Context, s *domain.UploadSession) error

	// GetSession returns the session with its uploaded-chunk set populated.
	// Returns ErrSessionNotFound if the id is unknown.
	GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.UploadSession, error)

	// ListSessions enumerates sessions, optionally filtered by status.
	ListSessions(ctx context.Context, status *domain.SessionStatus) ([]domain.UploadSession, error)

	// UpdateSessionStatus transitions the session to the given status only if
	// its current status is one of from. Returns ErrStatusConflict when the
	// guard fails and ErrSessionNotFound when the id is unknown.
	UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, from []domain.SessionStatus, to domain.SessionStatus) error

	// AddChunk records chunk membership exactly once. It returns false with a
	// nil error when the index is already a member, and ErrStatusConflict when
	// the session no longer accepts chunks (e.g. cancelled concurrently).
	AddChunk(ctx context.Context, sessionID uuid.UUID, chunkIndex int, sizeBytes int64, chunkDigest string) (bool, error)

	// DeleteSession removes the session record and its chunk membership rows.
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error

	// ListTerminalBefore returns terminal sessions whose last mutation is
	// older than cutoff. Used by the retention sweeper.
	ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]domain.UploadSession, error)

	// InsertFile persists a completed file record, registering its digest in
	// the dedup index.
	InsertFile(ctx context.Context, f *domain.StoredFile) error

	// FindFileByDigest returns a completed file with the given whole-file
	// digest, or ErrFileNotFound. This is the instant-upload lookup.
	FindFileByDigest(ctx context.Context, fileDigest string) (*domain.StoredFile, error)

	// GetFile returns a file record by id, or ErrFileNotFound.
	GetFile(ctx context.Context, fileID uuid.UUID) (*domain.StoredFile, error)

	// ListFiles enumerates completed file records, newest first.
	ListFiles(ctx context.Context) ([]domain.StoredFile, error)
}
