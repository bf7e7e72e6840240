package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// Kind classifies an Error.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindFailure    Kind = "failure"
)

const (
	CodeNotFound      = "NOT_FOUND"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeInvalidCursor = "INVALID_CURSOR"
	CodeCorruptRecord = "CORRUPT_RECORD"
	CodeCanceled      = "CANCELED"
	CodePartialDelete = "PARTIAL_DELETE"
	CodeUnknown       = "UNKNOWN"

	// CodeConditionFailed is the store's own code for a failed write guard.
	CodeConditionFailed = "ConditionalCheckFailedException"
)

// Error is returned by every Client operation. Code is stable and machine
// readable; for store failures it is the store's error code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("repository: %s (%s)", e.Code, e.Message)
	}
	return fmt.Sprintf("repository: %s (%s): %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PartialDeleteError is the cause carried by a PARTIAL_DELETE Error. The
// conversation is left partly removed; calling DeleteConversation again
// removes the rest.
type PartialDeleteError struct {
	ConversationID string
	Deleted        int
	Remaining      int
	Err            error
}

func (e *PartialDeleteError) Error() string {
	return fmt.Sprintf("conversation %q: deleted %d items, %d remaining: %v", e.ConversationID, e.Deleted, e.Remaining, e.Err)
}

func (e *PartialDeleteError) Unwrap() error { return e.Err }

func notFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func invalid(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

func corrupt(what string, err error) *Error {
	return &Error{Kind: KindValidation, Code: CodeCorruptRecord, Message: "decode " + what, Err: err}
}

// storeError maps a failed store call to a Failure, keeping the store's code.
func storeError(op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindFailure, Code: CodeCanceled, Message: op, Err: err}
	}
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		if reason, _ := cancellationReason(err); reason == "ConditionalCheckFailed" {
			return &Error{Kind: KindFailure, Code: CodeConditionFailed, Message: op + ": transaction guard failed", Err: err}
		}
		return &Error{Kind: KindFailure, Code: tce.ErrorCode(), Message: op + ": " + reasonSummary(tce), Err: err}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &Error{Kind: KindFailure, Code: apiErr.ErrorCode(), Message: op + ": " + apiErr.ErrorMessage(), Err: err}
	}
	return &Error{Kind: KindFailure, Code: CodeUnknown, Message: op, Err: err}
}

// cancellationReason returns the first non-"None" reason of a canceled
// transaction and the index of the item it belongs to.
func cancellationReason(err error) (string, int) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return "", -1
	}
	for i, r := range tce.CancellationReasons {
		if r.Code != nil && *r.Code != "None" {
			return *r.Code, i
		}
	}
	return "", -1
}

func reasonSummary(tce *types.TransactionCanceledException) string {
	codes := make([]string, 0, len(tce.CancellationReasons))
	for _, r := range tce.CancellationReasons {
		if r.Code != nil {
			codes = append(codes, *r.Code)
		}
	}
	if len(codes) == 0 {
		return tce.ErrorMessage()
	}
	return "reasons [" + strings.Join(codes, ", ") + "]"
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// KindOf returns the Kind of err, or "" when err is not from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the Code of err, or "" when err is not from this package.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsConflict reports a write rejected by a guard, e.g. an id collision on
// create or a concurrent append under WithGuardedAppends.
func IsConflict(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindFailure && e.Code == CodeConditionFailed
}
