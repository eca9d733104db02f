package apierr

import (
	"errors"
	"fmt"
)

// Stable failure codes. Dead-letter reasons and HTTP error envelopes both use
// these, so they must not change once emitted.
const (
	CodeDuplicateDelivery        = "duplicate_delivery"
	CodeUnparseablePayload       = "unparseable_payload"
	CodeTransientDependency      = "transient_dependency_failure"
	CodeOptimisticConflict       = "optimistic_conflict"
	CodeUngroundedClassification = "ungrounded_classification"
	CodeOrphanedIndexEntry       = "orphaned_index_entry"
	CodeNotFound                 = "not_found"
	CodeBadRequest               = "bad_request"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Sentinels for the pipeline failure taxonomy. Wrap with context via
// fmt.Errorf("...: %w", ErrX) so errors.Is keeps working at retry decision
// points.
var (
	ErrDuplicateDelivery        = errors.New(CodeDuplicateDelivery)
	ErrUnparseablePayload       = errors.New(CodeUnparseablePayload)
	ErrTransientDependency      = errors.New(CodeTransientDependency)
	ErrOptimisticConflict       = errors.New(CodeOptimisticConflict)
	ErrUngroundedClassification = errors.New(CodeUngroundedClassification)
	ErrOrphanedIndexEntry       = errors.New(CodeOrphanedIndexEntry)
)

// Retryable reports whether a pipeline error is worth another attempt.
// Unparseable payloads and ungrounded classifications are terminal for the
// message; transient dependency failures and optimistic conflicts are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUnparseablePayload),
		errors.Is(err, ErrUngroundedClassification),
		errors.Is(err, ErrDuplicateDelivery):
		return false
	case errors.Is(err, ErrTransientDependency),
		errors.Is(err, ErrOptimisticConflict):
		return true
	default:
		return true
	}
}

// FailureCode maps an error to the stable code recorded on dead letters.
func FailureCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnparseablePayload):
		return CodeUnparseablePayload
	case errors.Is(err, ErrTransientDependency):
		return CodeTransientDependency
	case errors.Is(err, ErrOptimisticConflict):
		return CodeOptimisticConflict
	case errors.Is(err, ErrUngroundedClassification):
		return CodeUngroundedClassification
	case errors.Is(err, ErrOrphanedIndexEntry):
		return CodeOrphanedIndexEntry
	default:
		return "internal_error"
	}
}
