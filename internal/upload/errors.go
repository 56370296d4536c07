package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState indicates the operation is illegal in the session's
	// current lifecycle state.
	ErrInvalidState = errors.New("operation not allowed in current session state")

	// ErrChunkOutOfRange indicates the chunk index falls outside the declared
	// chunk plan.
	ErrChunkOutOfRange = errors.New("chunk index out of range")

	// ErrInvalidArgument indicates a malformed client request.
	ErrInvalidArgument = errors.New("invalid argument")
)

// MissingChunksError reports the exact set of chunk indices still required
// before the session can be completed.
type MissingChunksError struct {
	Missing []int
}

func (e *MissingChunksError) Error() string {
	return fmt.Sprintf("missing chunks: %v", e.Missing)
}
