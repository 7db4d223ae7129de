package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorCode classifies every error surfaced by core operations.
type ErrorCode string

const (
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeValidation        ErrorCode = "VALIDATION"
	CodeInsufficientStock ErrorCode = "INSUFFICIENT_STOCK"
	CodeMissingRecipe     ErrorCode = "MISSING_RECIPE"
	CodeIllegalTransition ErrorCode = "ILLEGAL_TRANSITION"
	CodeAlreadyFinalized  ErrorCode = "ALREADY_FINALIZED"
	CodeAlreadyArchived   ErrorCode = "ALREADY_ARCHIVED"
	CodeInUse             ErrorCode = "IN_USE"
	CodeConflict          ErrorCode = "CONFLICT"
	CodeRetry             ErrorCode = "RETRY"
	CodeNegativeBalance   ErrorCode = "NEGATIVE_BALANCE"
	CodeInternal          ErrorCode = "INTERNAL"
)

// StockShortage describes one material that cannot cover a requested exit.
type StockShortage struct {
	MaterialCode string `json:"material_code"`
	Required     int64  `json:"required"`
	Available    int64  `json:"available"`
}

// Error is the typed error returned by core operations.
type Error struct {
	Code      ErrorCode
	Message   string
	Shortages []StockShortage // INSUFFICIENT_STOCK
	Bows      []string        // MISSING_RECIPE
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, s := range e.Shortages {
		fmt.Fprintf(&b, " [%s required %d, available %d]", s.MaterialCode, s.Required, s.Available)
	}
	if len(e.Bows) > 0 {
		fmt.Fprintf(&b, " [bows: %s]", strings.Join(e.Bows, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so errors.Is(err, ErrNotFound) works
// regardless of message or payload.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrValidation        = &Error{Code: CodeValidation}
	ErrInsufficientStock = &Error{Code: CodeInsufficientStock}
	ErrMissingRecipe     = &Error{Code: CodeMissingRecipe}
	ErrIllegalTransition = &Error{Code: CodeIllegalTransition}
	ErrAlreadyFinalized  = &Error{Code: CodeAlreadyFinalized}
	ErrAlreadyArchived   = &Error{Code: CodeAlreadyArchived}
	ErrInUse             = &Error{Code: CodeInUse}
	ErrConflict          = &Error{Code: CodeConflict}
	ErrRetry             = &Error{Code: CodeRetry}
	ErrNegativeBalance   = &Error{Code: CodeNegativeBalance}
)

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Error {
	return newError(CodeNotFound, format, args...)
}

func validation(format string, args ...any) *Error {
	return newError(CodeValidation, format, args...)
}

func insufficientStock(shortages []StockShortage) *Error {
	return &Error{Code: CodeInsufficientStock, Message: "stock cannot cover the requested quantities", Shortages: shortages}
}

func missingRecipe(bows []string) *Error {
	return &Error{Code: CodeMissingRecipe, Message: "bows have no recipe rows", Bows: bows}
}

// CodeOf returns the ErrorCode carried by err, or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRetryable reports whether the caller may re-drive the operation unchanged.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeConflict, CodeRetry:
		return true
	}
	return false
}

// Postgres SQLSTATE codes the core translates.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgForeignKeyViolation  = "23503"
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
)

// classifyStoreError maps infrastructure failures onto the error taxonomy.
// Errors that are already typed pass through untouched.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeRetry, Message: "transaction budget exceeded", Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return &Error{Code: CodeConflict, Message: "concurrent update, retry", Err: err}
		case pgForeignKeyViolation:
			return &Error{Code: CodeInUse, Message: "referenced by other records", Err: err}
		case pgUniqueViolation:
			return &Error{Code: CodeValidation, Message: "duplicate value", Err: err}
		case pgCheckViolation:
			return &Error{Code: CodeValidation, Message: "constraint violated", Err: err}
		}
	}
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
