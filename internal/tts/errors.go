package tts

import (
	"context"
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrConversionInProgress is returned when a conversion is already running.
	ErrConversionInProgress = errors.New("a conversion is already in progress")

	// ErrItemNotFound indicates the queue has no item with the requested id.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrQueueEmpty indicates the queue has no items
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrEmptyText indicates the input produced no speakable segments.
	ErrEmptyText = errors.New("no speakable text")

	// ErrStorageUnavailable indicates the persistence medium is missing.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrRequiresInteraction indicates playback needs a fresh user gesture.
	ErrRequiresInteraction = errors.New("playback requires user interaction")

	// ErrLoadTimeout indicates an audio resource did not load in time.
	ErrLoadTimeout = errors.New("audio resource load timed out")
)

// Kind identifies the class of a failure.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindTransientService   Kind = "TRANSIENT_SERVICE"
	KindPermanentService   Kind = "PERMANENT_SERVICE"
	KindCancelled          Kind = "CANCELLED"
	KindStorageUnavailable Kind = "STORAGE_UNAVAILABLE"
	KindPlaybackUnlock     Kind = "PLAYBACK_UNLOCK"
)

// Error is a failure surfaced to callers with a human-readable message and a
// retryable flag.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Cause      error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match the sentinel that belongs to a kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrStorageUnavailable:
		return e.Kind == KindStorageUnavailable
	case ErrRequiresInteraction:
		return e.Kind == KindPlaybackUnlock
	case context.Canceled:
		return e.Kind == KindCancelled
	}
	return false
}

// Retryable reports whether the operation may succeed if repeated.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransientService
}

// Validation returns a non-retryable input error.
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Transient returns a retryable service error.
func Transient(status int, message string, cause error) *Error {
	return &Error{Kind: KindTransientService, Message: message, StatusCode: status, Cause: cause}
}

// Permanent returns a service error that must not be retried.
func Permanent(status int, message string, cause error) *Error {
	return &Error{Kind: KindPermanentService, Message: message, StatusCode: status, Cause: cause}
}

// Cancelled returns an error for a user- or system-initiated abort.
func Cancelled(message string) *Error {
	return &Error{Kind: KindCancelled, Message: message}
}

// StorageUnavailable wraps a persistence failure.
func StorageUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindStorageUnavailable, Message: message, Cause: cause}
}

// PlaybackUnlock reports that the platform refused to start audio.
func PlaybackUnlock(message string) *Error {
	return &Error{Kind: KindPlaybackUnlock, Message: message}
}

// KindOf returns the Kind of err, or "" if err carries none. Context
// cancellation is reported as KindCancelled.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return ""
}

// IsRetryable returns true if the operation can be retried
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// IsCancelled reports whether err represents a cancellation rather than a
// failure.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}
