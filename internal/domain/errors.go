package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the two mutual-exclusion points in the engine.
var (
	// ErrSyncRunning is returned when a retry pass is requested while
	// another pass is still in flight. Calls are not queued.
	ErrSyncRunning = errors.New("sync already in progress")

	// ErrCaptureActive is returned when a recording session is started
	// while another is still active.
	ErrCaptureActive = errors.New("capture session already active")

	// ErrNoActiveCapture is returned when stop is requested without a
	// live recording session.
	ErrNoActiveCapture = errors.New("no active capture session")

	// ErrNothingToUndo is returned when undo is requested on an empty
	// working view.
	ErrNothingToUndo = errors.New("no events to undo")
)

// CacheErrorKind categorizes cache store failures.
type CacheErrorKind string

const (
	// CacheNotFound indicates the addressed row does not exist.
	CacheNotFound CacheErrorKind = "not_found"

	// CacheStorage indicates a storage-layer failure (disk, corruption,
	// lock contention). The attempted write did not happen; callers must
	// retry, not treat it as success.
	CacheStorage CacheErrorKind = "storage"
)

// CacheError reports a cache store failure.
type CacheError struct {
	Kind CacheErrorKind
	Op   string
	Err  error
}

func (e *CacheError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cache %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("cache %s: %s", e.Op, e.Kind)
}

func (e *CacheError) Unwrap() error { return e.Err }

// SubmissionErrorKind distinguishes connectivity failures from
// requests the backend rejected, so callers can reason about retry
// eligibility.
type SubmissionErrorKind string

const (
	SubmissionNetwork  SubmissionErrorKind = "network"
	SubmissionRejected SubmissionErrorKind = "rejected"
)

// SubmissionError reports a failed round trip to the match backend.
type SubmissionError struct {
	Kind    SubmissionErrorKind
	Status  int
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Kind == SubmissionRejected && e.Message != "":
		return fmt.Sprintf("submission rejected (status %d): %s", e.Status, e.Message)
	case e.Kind == SubmissionRejected:
		return fmt.Sprintf("submission rejected (status %d)", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("submission failed: %v", e.Err)
	default:
		return "submission failed"
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TranscriptionErrorKind categorizes speech-to-text failures.
type TranscriptionErrorKind string

const (
	TranscriptionTimeout  TranscriptionErrorKind = "timeout"
	TranscriptionNetwork  TranscriptionErrorKind = "network"
	TranscriptionRejected TranscriptionErrorKind = "rejected"
	TranscriptionEmpty    TranscriptionErrorKind = "empty"
)

// TranscriptionError reports a failed transcription call. An empty
// transcript is a failure, never a success.
type TranscriptionError struct {
	Kind    TranscriptionErrorKind
	Status  int
	Message string
	Err     error
}

func (e *TranscriptionError) Error() string {
	switch e.Kind {
	case TranscriptionTimeout:
		return "transcription timed out"
	case TranscriptionEmpty:
		return "transcription returned no transcript"
	case TranscriptionRejected:
		if e.Message != "" {
			return fmt.Sprintf("transcription rejected (status %d): %s", e.Status, e.Message)
		}
		return fmt.Sprintf("transcription rejected (status %d)", e.Status)
	default:
		if e.Err != nil {
			return fmt.Sprintf("transcription failed: %v", e.Err)
		}
		return "transcription failed"
	}
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a cache miss.
func IsNotFound(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce) && ce.Kind == CacheNotFound
}

// IsRetryable reports whether err is transient: a connectivity
// failure or a timeout. Rejected requests are not retryable without
// changing the request.
func IsRetryable(err error) bool {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Kind == SubmissionNetwork
	}
	var te *TranscriptionError
	if errors.As(err, &te) {
		return te.Kind == TranscriptionNetwork || te.Kind == TranscriptionTimeout
	}
	return false
}
