package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus captures the lifecycle of an upload session.
type SessionStatus string

const (
	StatusUploading SessionStatus = "uploading"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
	StatusFailed    SessionStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// AcceptsChunks reports whether the session still admits chunk writes.
// Pause is advisory to the client: a paused session keeps accepting chunks.
func (s SessionStatus) AcceptsChunks() bool {
	return s == StatusUploading || s == StatusPaused
}

// Valid reports whether s is a known status value.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusUploading, StatusPaused, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// UploadSession represents one in-flight (or terminated) chunked upload.
type UploadSession struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	ConversationID string
	OriginalName   string
	FileExtension  string
	TotalSize      int64
	FileDigest     string
	ChunkSize      int64
	TotalChunks    int
	Status         SessionStatus
	Uploaded       []int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasChunk reports whether chunkIndex is already a member of the uploaded set.
func (s *UploadSession) HasChunk(chunkIndex int) bool {
	for _, idx := range s.Uploaded {
		if idx == chunkIndex {
			return true
		}
	}
	return false
}

// MissingChunks returns the ascending complement of the uploaded set.
func (s *UploadSession) MissingChunks() []int {
	present := make(map[int]struct{}, len(s.Uploaded))
	for _, idx := range s.Uploaded {
		present[idx] = struct{}{}
	}
	missing := make([]int, 0, s.TotalChunks-len(present))
	for i := 0; i < s.TotalChunks; i++ {
		if _, ok := present[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing
}

// StoredFile is the durable record of a fully materialized upload. The
// digest column doubles as the dedup index used for instant uploads.
type StoredFile struct {
	ID             uuid.UUID
	OwnerID        uuid.UUID
	ConversationID string
	OriginalName   string
	StorageName    string
	StoragePath    string
	FileExtension  string
	SizeBytes      int64
	Digest         string
	CreatedAt      time.Time
}

// InitRequest contains the payload sent by the client to start an upload.
type InitRequest struct {
	FileName       string `json:"filename"`
	Size           int64  `json:"size"`
	Digest         string `json:"digest"`
	ChunkSize      int64  `json:"chunkSize,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// InitResponse describes either an instant-upload hit or a created session.
type InitResponse struct {
	Instant     bool   `json:"instant"`
	FileID      string `json:"fileId,omitempty"`
	UploadID    string `json:"uploadId,omitempty"`
	ChunkSize   int64  `json:"chunkSize,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
}

// ChunkResult is returned after each chunk is processed.
type ChunkResult struct {
	ChunkIndex     int  `json:"chunkIndex"`
	AlreadyPresent bool `json:"alreadyPresent"`
	ReceivedChunks int  `json:"receivedChunks"`
	TotalChunks    int  `json:"totalChunks"`
	IsComplete     bool `json:"isComplete"`
}

// StatusResponse exposes session progress for polling and resume.
type StatusResponse struct {
	UploadID        string        `json:"uploadId"`
	OriginalName    string        `json:"originalName"`
	Status          SessionStatus `json:"status"`
	TotalSize       int64         `json:"totalSize"`
	ChunkSize       int64         `json:"chunkSize"`
	TotalChunks     int           `json:"totalChunks"`
	UploadedChunks  []int         `json:"uploadedChunks"`
	RemainingChunks []int         `json:"remainingChunks,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// PauseResponse returns the uploaded set so the client can checkpoint.
type PauseResponse struct {
	UploadID       string `json:"uploadId"`
	UploadedChunks []int  `json:"uploadedChunks"`
}

// ResumeResponse returns the chunks that still need transmission.
type ResumeResponse struct {
	UploadID        string `json:"uploadId"`
	UploadedChunks  []int  `json:"uploadedChunks"`
	RemainingChunks []int  `json:"remainingChunks"`
}

// CompleteResult is returned once the final file has been materialized.
type CompleteResult struct {
	FileID      string    `json:"fileId"`
	StorageName string    `json:"storageName"`
	SizeBytes   int64     `json:"size"`
	Digest      string    `json:"digest"`
	CompletedAt time.Time `json:"completedAt"`
}

// FileView describes a completed file in listings.
type FileView struct {
	FileID       string    `json:"fileId"`
	OriginalName string    `json:"originalName"`
	SizeBytes    int64     `json:"size"`
	Digest       string    `json:"digest"`
	Extension    string    `json:"extension,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
