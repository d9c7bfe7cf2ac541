package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoVideoFound marks a post without a video stream. It is an expected outcome.
var ErrNoVideoFound = errors.New("no video found")

// ErrSkipped marks an item whose existing output the overwrite policy kept.
var ErrSkipped = errors.New("skipped: output already exists")

// LookupError is a failure of the post metadata collaborator (auth, network, not found).
type LookupError struct {
	Reference  string
	StatusCode int
	Err        error
}

func (e *LookupError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("looking up `%s`: status %d: %v", e.Reference, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("looking up `%s`: %v", e.Reference, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// TransportError is a fetch that failed before or during the body transfer.
type TransportError struct {
	URL          string
	Path         string
	BytesWritten int64
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf(
		"downloading `%s` to `%s` (%d bytes written): %v",
		e.URL,
		e.Path,
		e.BytesWritten,
		e.Err,
	)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MuxProcessError is an external muxer that could not start or exited non-zero.
type MuxProcessError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *MuxProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("muxing with %s (exit=%d): %v: %s", e.Command, e.ExitCode, e.Err, e.Stderr)
	}
	return fmt.Sprintf("muxing with %s (exit=%d): %v", e.Command, e.ExitCode, e.Err)
}

func (e *MuxProcessError) Unwrap() error { return e.Err }

// FilesystemError is a failure to create, write or remove a path.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s `%s`: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// ErrorKind classifies item errors for summaries and status lines.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindNoVideo    ErrorKind = "no-video"
	KindSkipped    ErrorKind = "skipped"
	KindCancelled  ErrorKind = "cancelled"
	KindLookup     ErrorKind = "lookup"
	KindTransport  ErrorKind = "transport"
	KindMux        ErrorKind = "mux"
	KindFilesystem ErrorKind = "filesystem"
	KindUnknown    ErrorKind = "unknown"
)

// Kind maps an item error onto its ErrorKind. Cancellation wins over the stage it
// interrupted.
func Kind(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, ErrNoVideoFound) {
		return KindNoVideo
	}
	if errors.Is(err, ErrSkipped) {
		return KindSkipped
	}

	var lookupErr *LookupError
	var transportErr *TransportError
	var muxErr *MuxProcessError
	var fsErr *FilesystemError
	switch {
	case errors.As(err, &lookupErr):
		return KindLookup
	case errors.As(err, &transportErr):
		return KindTransport
	case errors.As(err, &muxErr):
		return KindMux
	case errors.As(err, &fsErr):
		return KindFilesystem
	default:
		return KindUnknown
	}
}
