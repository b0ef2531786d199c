// Package errors provides the typed error used across the sync core.
package errors

import (
	"fmt"
	"time"
)

// Kind categorizes a SyncError so callers can decide whether to retry,
// surface to the user, or fold it into a conflict payload.
type Kind string

const (
	KindProtocol Kind = "protocol"
	KindStorage  Kind = "storage"
	KindConflict Kind = "conflict"
	KindNetwork  Kind = "network"
	KindManual   Kind = "manual_resolution_required"
	KindValidation Kind = "validation"
)

// SyncError is the single error type returned across the sync core.
type SyncError struct {
	Kind       Kind
	Message    string
	Operation  string
	EntityID   string
	Cause      error
	Retryable  bool
	HTTPStatus int
	Timestamp  time.Time
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Cause }

func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// Builder provides a fluent interface for assembling a SyncError, mirroring
// the builder pattern used elsewhere in this codebase for rich context objects.
type Builder struct {
	err *SyncError
}

func New(kind Kind, message string) *Builder {
	return &Builder{err: &SyncError{Kind: kind, Message: message, Timestamp: time.Now().UTC()}}
}

func (b *Builder) WithOperation(op string) *Builder {
	b.err.Operation = op
	return b
}

func (b *Builder) WithEntity(id string) *Builder {
	b.err.EntityID = id
	return b
}

func (b *Builder) WithCause(cause error) *Builder {
	b.err.Cause = cause
	return b
}

func (b *Builder) WithRetry(retryable bool) *Builder {
	b.err.Retryable = retryable
	return b
}

func (b *Builder) WithHTTPStatus(status int) *Builder {
	b.err.HTTPStatus = status
	return b
}

func (b *Builder) Build() *SyncError {
	if b.err.HTTPStatus == 0 {
		b.err.HTTPStatus = defaultStatus(b.err.Kind)
	}
	return b.err
}

func defaultStatus(k Kind) int {
	switch k {
	case KindProtocol, KindValidation:
		return 400
	case KindStorage:
		return 500
	case KindNetwork:
		return 503
	default:
		return 200 // conflict and manual-resolution are payload, not status
	}
}

// Common constructors, mirroring the spec's error kind table (§7).

func Protocol(message string) *SyncError {
	return New(KindProtocol, message).WithRetry(false).Build()
}

func Validation(field, message string) *SyncError {
	return New(KindValidation, fmt.Sprintf("%s: %s", field, message)).WithRetry(false).Build()
}

func Storage(operation string, cause error) *SyncError {
	return New(KindStorage, "storage operation failed").WithOperation(operation).WithCause(cause).WithRetry(true).Build()
}

func Network(operation string, cause error) *SyncError {
	return New(KindNetwork, "network operation failed").WithOperation(operation).WithCause(cause).WithRetry(true).Build()
}

func ManualResolutionRequired(entityID string) *SyncError {
	return New(KindManual, "concurrent versions require manual resolution").WithEntity(entityID).WithRetry(false).Build()
}
