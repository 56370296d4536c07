// Package chunkstore persists in-flight chunk blobs on disk, one namespace
// per upload session, until they are merged into a final file.
package chunkstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"fileflow-backend/internal/digest"
)

var (
	// ErrDigestMismatch indicates the received bytes did not match the
	// declared chunk digest. The chunk is not persisted.
	ErrDigestMismatch = errors.New("chunk digest mismatch")

	// ErrChunkConflict indicates a chunk blob already exists for the key with
	// different content. Chunk blobs are write-once.
	ErrChunkConflict = errors.New("chunk already stored with different content")

	// ErrChunkMissing indicates the chunk blob is not present on disk.
	ErrChunkMissing = errors.New("chunk not found")
)

// Store keeps chunk blobs under <base>/<sessionID>/chunks/chunk-NNNNNN.
type Store struct {
	basePath string
}

// NewStore creates a Store rooted at basePath.
func NewStore(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Store{basePath: basePath}, nil
}

// SessionDir returns the namespace directory for a session.
func (s *Store) SessionDir(sessionID uuid.UUID) string {
	return filepath.Join(s.basePath, sessionID.String())
}

// ChunkPath returns the on-disk location for a chunk.
func (s *Store) ChunkPath(sessionID uuid.UUID, chunkIndex int) string {
	return filepath.Join(s.SessionDir(sessionID), "chunks", fmt.Sprintf("chunk-%06d", chunkIndex))
}

// EnsureSession creates the chunk namespace for a new session.
func (s *Store) EnsureSession(sessionID uuid.UUID) error {
	return os.MkdirAll(filepath.Join(s.SessionDir(sessionID), "chunks"), 0o755)
}

// WriteChunk streams data to disk, verifying it against wantDigest while
// writing. The blob only becomes visible under its final name once fully
// written and verified. Rewriting an existing chunk with identical content is
// a no-op; different content is a conflict.
func (s *Store) WriteChunk(sessionID uuid.UUID, chunkIndex int, wantDigest string, data io.Reader) (int64, error) {
	chunkPath := s.ChunkPath(sessionID, chunkIndex)
	if err := os.MkdirAll(filepath.Dir(chunkPath), 0o755); err != nil {
		return 0, err
	}

	if info, err := os.Stat(chunkPath); err == nil {
		existing, err := digest.File(chunkPath)
		if err != nil {
			return 0, err
		}
		if existing == wantDigest {
			return info.Size(), nil
		}
		return 0, fmt.Errorf("%w: chunk %d", ErrChunkConflict, chunkIndex)
	}

	tmpPath := chunkPath + ".partial"
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(file, hasher), data)
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if got != wantDigest {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: declared %s, got %s", ErrDigestMismatch, wantDigest, got)
	}

	if err := os.Rename(tmpPath, chunkPath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}
	return written, nil
}

// OpenChunk opens a chunk blob for reading.
func (s *Store) OpenChunk(sessionID uuid.UUID, chunkIndex int) (io.ReadCloser, error) {
	f, err := os.Open(s.ChunkPath(sessionID, chunkIndex))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: chunk %d", ErrChunkMissing, chunkIndex)
	}
	return f, err
}

// RemoveChunk deletes a single chunk blob. Missing blobs are not an error.
func (s *Store) RemoveChunk(sessionID uuid.UUID, chunkIndex int) error {
	err := os.Remove(s.ChunkPath(sessionID, chunkIndex))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// RemoveSession deletes the whole chunk namespace for a session. Removal is
// idempotent: a namespace that is already gone is not an error.
func (s *Store) RemoveSession(sessionID uuid.UUID) error {
	return os.RemoveAll(s.SessionDir(sessionID))
}
