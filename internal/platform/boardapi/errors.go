package boardapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/todo-1m/board/internal/contracts"
)

var ErrMissingTaskID = errors.New("task id is required")

// ConflictError is returned when the server rejects a write because the
// version token is stale. ServerVersion is the server's current record.
type ConflictError struct {
	Message       string
	ServerVersion contracts.Task
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return "version conflict: " + e.Message
	}
	return "version conflict"
}

// APIError is any non-2xx response other than a version conflict.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return e.Message
}

// IsConflict reports whether err carries a version-conflict rejection.
func IsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}

// IsRejected reports whether the server answered with a non-conflict error
// status, as opposed to the request never completing.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
