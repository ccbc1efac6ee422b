// Package errs provides the unified error type used across all of dbc.
//
// Every subsystem (config, secret, pool, gateway, server, …) wraps its native
// errors into *errs.Error before returning them to callers. Callers use the
// Is* predicates to handle errors without importing driver-specific packages,
// and the HTTP layer renders the structured JSON body from the same type.
//
// Usage:
//
//	// In the pool — wrap native errors:
//	return errs.Wrap(errs.KindUnavailable, "no session available", err)
//
//	// In a handler — check error kind:
//	if errs.IsBadRequest(err) {
//	    w.WriteHeader(http.StatusBadRequest)
//	}
package errs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind categorises an error without exposing subsystem-specific codes.
// Each kind maps onto one `type` tag in the structured JSON error body.
type Kind int

const (
	KindInternal      Kind = iota
	KindPg                 // server-side SQL error, carries SQLSTATE + position
	KindUnavailable        // pool exhausted or dial failure
	KindAuth               // password resolution or handshake failure
	KindBadRequest         // malformed body, missing header, bad pagination/filter
	KindCanceled           // request cancelled by the client
	KindInvalidConfig      // config mutation rejected
)

func (k Kind) String() string {
	switch k {
	case KindPg:
		return "PgError"
	case KindUnavailable:
		return "Unavailable"
	case KindAuth:
		return "AuthFailure"
	case KindBadRequest:
		return "BadRequest"
	case KindCanceled:
		return "Canceled"
	case KindInvalidConfig:
		return "InvalidConfig"
	default:
		return "Internal"
	}
}

// Error is the single error type returned by all dbc subsystems.
type Error struct {
	Kind    Kind
	Message string
	Cause   error // original driver-level error, preserved for logging

	// Field names the offending request field for KindBadRequest.
	Field string

	// SQL error details, set only for KindPg.
	Severity string
	Code     string
	Position int // 1-based character offset within the statement, 0 if unknown
}

func (e *Error) Error() string {
	if e.Kind == KindPg && e.Code != "" {
		if e.Position > 0 {
			return fmt.Sprintf("%s %s: %s (at position %d)", e.Severity, e.Code, e.Message, e.Position)
		}
		return fmt.Sprintf("%s %s: %s", e.Severity, e.Code, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// OffsetPosition shifts the reported error position by delta, clamping at
// zero. The rewriter prepends text to user statements, so driver-reported
// positions must be shifted back into the user's coordinate space.
func (e *Error) OffsetPosition(delta int) {
	if e.Position == 0 {
		return
	}
	if pos := e.Position + delta; pos > 0 {
		e.Position = pos
	} else {
		e.Position = 0
	}
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an *Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// BadRequest creates a KindBadRequest error naming the offending field.
func BadRequest(field, msg string) *Error {
	return &Error{Kind: KindBadRequest, Message: msg, Field: field}
}

// FromPg translates any error coming back from the driver into an *Error.
// Server-side SQL errors keep their SQLSTATE, severity, and position;
// cancellation and connectivity failures map to their own kinds.
func FromPg(err error, msg string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if errors.Is(err, context.Canceled) {
		return Wrap(KindCanceled, "request canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindUnavailable, "request deadline exceeded", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		out := &Error{
			Kind:     KindPg,
			Message:  pgErr.Message,
			Cause:    err,
			Severity: pgErr.Severity,
			Code:     pgErr.Code,
			Position: int(pgErr.Position),
		}
		// Class 28 — invalid authorization
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "28" {
			out.Kind = KindAuth
		}
		// Class 08 — connection exceptions
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			out.Kind = KindUnavailable
		}
		return out
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return Wrap(KindUnavailable, msg, err)
	}

	return Wrap(KindInternal, msg, err)
}

// --- Predicates ---

// IsPg reports whether err is a server-side SQL error.
func IsPg(err error) bool { return kindOf(err) == KindPg }

// IsUnavailable reports whether err is a pool-exhaustion or dial failure.
func IsUnavailable(err error) bool { return kindOf(err) == KindUnavailable }

// IsAuth reports whether err is a password-resolution or handshake failure.
func IsAuth(err error) bool { return kindOf(err) == KindAuth }

// IsBadRequest reports whether err was caused by bad input from the caller.
func IsBadRequest(err error) bool { return kindOf(err) == KindBadRequest }

// IsCanceled reports whether err represents client-side cancellation.
func IsCanceled(err error) bool { return kindOf(err) == KindCanceled }

// IsInvalidConfig reports whether err is a rejected config mutation.
func IsInvalidConfig(err error) bool { return kindOf(err) == KindInvalidConfig }

// kindOf extracts the Kind from any error in the chain.
func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
