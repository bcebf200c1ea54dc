package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/local/pocketmod/internal/layout"
)

// DocumentOpenError reports a source file that could not be opened or read as a PDF
type DocumentOpenError struct {
	Path string
	Err  error
}

func (e *DocumentOpenError) Error() string {
	return fmt.Sprintf("cannot open document %s: %v", e.Path, e.Err)
}

func (e *DocumentOpenError) Unwrap() error { return e.Err }

// UnsupportedInputError reports a path that is neither a .pdf file nor a directory
type UnsupportedInputError struct {
	Path   string
	Reason string
}

func (e *UnsupportedInputError) Error() string {
	return fmt.Sprintf("unsupported input %s: %s", e.Path, e.Reason)
}

// IsFatal checks if the conversion failed deterministically; fatal failures
// are never retried
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var invalid *layout.InvalidDocumentError
	if errors.As(err, &invalid) {
		return true
	}
	var empty *layout.EmptyDocumentError
	if errors.As(err, &empty) {
		return true
	}
	var open *DocumentOpenError
	if errors.As(err, &open) {
		return true
	}
	var unsupported *UnsupportedInputError
	return errors.As(err, &unsupported)
}

// IsTransient checks if the failure came from the environment and a retry
// may succeed
func IsTransient(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Network and infrastructure errors (redis, S3, downloads)
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "eof")
}
