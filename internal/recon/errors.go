package recon

import (
	"context"
	"errors"
	"fmt"
)

// Class — к какой группе относится ошибка. По ней вызывающая сторона решает,
// повторять ли запрос и что показать оператору.
type Class string

const (
	ClassValidation  Class = "validation" // плохой ввод, повтор без изменений не поможет
	ClassConflict    Class = "conflict"   // состояние сессии не позволяет операцию
	ClassNotFound    Class = "not_found"
	ClassConsistency Class = "consistency" // нужна ручная сверка
	ClassTransport   Class = "transport"   // хранилище недоступно/таймаут, можно повторить
)

type Error struct {
	Class     Class
	Code      string
	Msg       string
	retryable bool
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Retryable() bool { return e.retryable }

func newErr(class Class, code, msg string, retryable bool) *Error {
	return &Error{Class: class, Code: code, Msg: msg, retryable: retryable}
}

var (
	ErrInvalidCode               = newErr(ClassValidation, "INVALID_CODE", "unrecognized code", false)
	ErrNothingToShip             = newErr(ClassValidation, "NOTHING_TO_SHIP", "no scanned codes and no manual quantity", false)
	ErrInvalidManualQty          = newErr(ClassValidation, "INVALID_MANUAL_QTY", "manual quantity requires a variant and must be positive", false)
	ErrInsufficientManualBalance = newErr(ClassValidation, "INSUFFICIENT_MANUAL_BALANCE", "manual quantity exceeds available stock", false)
	ErrBatchTooLarge             = newErr(ClassValidation, "BATCH_TOO_LARGE", "batch exceeds maximum size, split it", false)
	ErrInvalidRequest            = newErr(ClassValidation, "INVALID_REQUEST", "invalid request", false)

	ErrSessionNotFound   = newErr(ClassNotFound, "SESSION_NOT_FOUND", "session not found", false)
	ErrNoActiveSession   = newErr(ClassNotFound, "NO_ACTIVE_SESSION", "no active session to commit", false)
	ErrCodeNotInSession  = newErr(ClassNotFound, "CODE_NOT_IN_SESSION", "code is not part of the session", false)
	ErrSessionClosed     = newErr(ClassConflict, "SESSION_CLOSED", "session is already confirmed or cancelled", false)
	ErrSessionCommitting = newErr(ClassConflict, "SESSION_COMMITTING", "session commit in progress", true)

	ErrSessionCreateFailed     = newErr(ClassTransport, "SESSION_CREATE_FAILED", "failed to create session", true)
	ErrPartialCommitRolledBack = newErr(ClassTransport, "PARTIAL_COMMIT_ROLLED_BACK", "code commit failed, manual stock movement was reversed", true)
	ErrTimeout                 = newErr(ClassTransport, "TIMEOUT", "operation timed out, try smaller batches", true)

	ErrReversalFailed         = newErr(ClassConsistency, "REVERSAL_FAILED", "code commit failed and manual stock reversal failed, manual reconciliation required", false)
	ErrReconciliationRequired = newErr(ClassConsistency, "RECONCILIATION_REQUIRED", "session has an open reconciliation incident", false)
)

// ClassOf возвращает класс ошибки. Всё, что не классифицировано явно, считается
// транспортной ошибкой хранилища.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassTransport
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout.Code
	}
	return "INTERNAL"
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.retryable
	}
	return !errors.Is(err, context.Canceled)
}

// Этапы подтверждения, на которых может случиться сбой.
const (
	PointPrecheck = "precheck"
	PointManual   = "manual_debit"
	PointCodes    = "codes_commit"
	PointReversal = "manual_reversal"
)

// CommitError описывает сбой подтверждения с контекстом для ручной сверки.
// Kind — одна из ошибок таксономии, Err — исходная причина.
type CommitError struct {
	Kind         *Error
	SessionID    int64
	MovementID   int64
	FailurePoint string
	Err          error
}

func (e *CommitError) Error() string {
	s := fmt.Sprintf("%s (session %d, failed at %s", e.Kind.Msg, e.SessionID, e.FailurePoint)
	if e.MovementID != 0 {
		s += fmt.Sprintf(", movement %d", e.MovementID)
	}
	s += ")"
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *CommitError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ManualStockReversed — ручное списание было проведено и отменено.
func (e *CommitError) ManualStockReversed() bool {
	return e.Kind == ErrPartialCommitRolledBack
}
