package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fileflow-backend/internal/domain"
)

// PostgresStore implements Store using a PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database using the provided connection string.
func NewPostgresStore(ctx context.Context, conn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(conn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) CreateSession(ctx context.Context, u *domain.UploadSession) error {
	query := `
		INSERT INTO upload_sessions (
			id, owner_id, conversation_id, original_name, file_extension,
			total_size, file_digest, chunk_size, total_chunks, status,
			created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now()
		)
	`
	_, err := s.pool.Exec(ctx, query,
		u.ID, u.OwnerID, u.ConversationID, u.OriginalName, u.FileExtension,
		u.TotalSize, u.FileDigest, u.ChunkSize, u.TotalChunks, string(u.Status),
	)
	return err
}

const sessionColumns = `
	s.id, s.owner_id, s.conversation_id, s.original_name, s.file_extension,
	s.total_size, s.file_digest, s.chunk_size, s.total_chunks, s.status,
	s.created_at, s.updated_at,
	COALESCE(array_agg(c.chunk_index ORDER BY c.chunk_index)
		FILTER (WHERE c.chunk_index IS NOT NULL), '{}')
`

func scanSession(row pgx.Row) (*domain.UploadSession, error) {
	var u domain.UploadSession
	var status string
	var uploaded []int32
	err := row.Scan(
		&u.ID,
		&u.OwnerID,
		&u.ConversationID,
		&u.OriginalName,
		&u.FileExtension,
		&u.TotalSize,
		&u.FileDigest,
		&u.ChunkSize,
		&u.TotalChunks,
		&status,
		&u.CreatedAt,
		&u.UpdatedAt,
		&uploaded,
	)
	if err != nil {
		return nil, err
	}
	u.Status = domain.SessionStatus(status)
	u.Uploaded = make([]int, 0, len(uploaded))
	for _, idx := range uploaded {
		u.Uploaded = append(u.Uploaded, int(idx))
	}
	return &u, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.UploadSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM upload_sessions s
		LEFT JOIN upload_chunks c ON c.session_id = s.id
		WHERE s.id = $1
		GROUP BY s.id
	`
	u, err := scanSession(s.pool.QueryRow(ctx, query, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, status *domain.SessionStatus) ([]domain.UploadSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM upload_sessions s
		LEFT JOIN upload_chunks c ON c.session_id = s.id
	`
	args := []any{}
	if status != nil {
		query += ` WHERE s.status = $1`
		args = append(args, string(*status))
	}
	query += ` GROUP BY s.id ORDER BY s.created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.UploadSession
	for rows.Next() {
		u, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *u)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, from []domain.SessionStatus, to domain.SessionStatus) error {
	allowed := make([]string, 0, len(from))
	for _, st := range from {
		allowed = append(allowed, string(st))
	}
	res, err := s.pool.Exec(ctx, `
		UPDATE upload_sessions
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3)
	`, sessionID, string(to), allowed)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 1 {
		return nil
	}
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM upload_sessions WHERE id = $1`, sessionID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	return ErrStatusConflict
}

func (s *PostgresStore) AddChunk(ctx context.Context, sessionID uuid.UUID, chunkIndex int, sizeBytes int64, chunkDigest string) (bool, error) {
	// The guarded insert makes the membership update atomic: it never lands
	// on a session that has already reached a terminal state.
	res, err := s.pool.Exec(ctx, `
		INSERT INTO upload_chunks (session_id, chunk_index, size_bytes, digest, received_at)
		SELECT $1, $2, $3, $4, now()
		WHERE EXISTS (
			SELECT 1 FROM upload_sessions
			WHERE id = $1 AND status IN ('uploading','paused')
		)
		ON CONFLICT (session_id, chunk_index) DO NOTHING
	`, sessionID, chunkIndex, sizeBytes, chunkDigest)
	if err != nil {
		return false, err
	}
	if res.RowsAffected() == 1 {
		_, err = s.pool.Exec(ctx, `
			UPDATE upload_sessions SET updated_at = now() WHERE id = $1
		`, sessionID)
		return true, err
	}

	// Zero rows: the index is already a member, the session no longer accepts
	// chunks, or the session is unknown.
	var present bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM upload_chunks WHERE session_id = $1 AND chunk_index = $2
		)
	`, sessionID, chunkIndex).Scan(&present)
	if err != nil {
		return false, err
	}
	if present {
		return false, nil
	}
	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM upload_sessions WHERE id = $1`, sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrSessionNotFound
	}
	if err != nil {
		return false, err
	}
	return false, ErrStatusConflict
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM upload_sessions WHERE id = $1`, sessionID)
	return err
}

func (s *PostgresStore) ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]domain.UploadSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM upload_sessions s
		LEFT JOIN upload_chunks c ON c.session_id = s.id
		WHERE s.status IN ('completed','cancelled','failed') AND s.updated_at < $1
		GROUP BY s.id
	`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []domain.UploadSession
	for rows.Next() {
		u, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *u)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) InsertFile(ctx context.Context, f *domain.StoredFile) error {
	query := `
		INSERT INTO files (
			id, owner_id, conversation_id, original_name, storage_name,
			storage_path, file_extension, size_bytes, digest, created_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,now()
		)
	`
	_, err := s.pool.Exec(ctx, query,
		f.ID, f.OwnerID, f.ConversationID, f.OriginalName, f.StorageName,
		f.StoragePath, f.FileExtension, f.SizeBytes, f.Digest,
	)
	return err
}

const fileColumns = `
	id, owner_id, conversation_id, original_name, storage_name,
	storage_path, file_extension, size_bytes, digest, created_at
`

func scanFile(row pgx.Row) (*domain.StoredFile, error) {
	var f domain.StoredFile
	err := row.Scan(
		&f.ID,
		&f.OwnerID,
		&f.ConversationID,
		&f.OriginalName,
		&f.StorageName,
		&f.StoragePath,
		&f.FileExtension,
		&f.SizeBytes,
		&f.Digest,
		&f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) FindFileByDigest(ctx context.Context, fileDigest string) (*domain.StoredFile, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM files
		WHERE digest = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	f, err := scanFile(s.pool.QueryRow(ctx, query, fileDigest))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *PostgresStore) GetFile(ctx context.Context, fileID uuid.UUID) (*domain.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	f, err := scanFile(s.pool.QueryRow(ctx, query, fileID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *PostgresStore) ListFiles(ctx context.Context) ([]domain.StoredFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []domain.StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}
