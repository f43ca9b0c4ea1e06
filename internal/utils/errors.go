package utils

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by the incident engine.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindValidationFailed    Kind = "ValidationFailed"
	KindInvalidTransition   Kind = "InvalidTransition"
	KindDependencyUnmet     Kind = "DependencyUnmet"
	KindIncidentFrozen      Kind = "IncidentFrozen"
	KindTimeout             Kind = "Timeout"
	KindIntegrityBreak      Kind = "IntegrityBreak"
	KindHashChainBroken     Kind = "HashChainBroken"
	KindSerializationFailed Kind = "SerializationFailed"
	KindStoragePluginError  Kind = "StoragePluginError"
)

// Sentinels usable with errors.Is; an AppError matches the sentinel of its kind.
var (
	ErrNotFound            = kindError(KindNotFound)
	ErrValidationFailed    = kindError(KindValidationFailed)
	ErrInvalidTransition   = kindError(KindInvalidTransition)
	ErrDependencyUnmet     = kindError(KindDependencyUnmet)
	ErrIncidentFrozen      = kindError(KindIncidentFrozen)
	ErrTimeout             = kindError(KindTimeout)
	ErrIntegrityBreak      = kindError(KindIntegrityBreak)
	ErrHashChainBroken     = kindError(KindHashChainBroken)
	ErrSerializationFailed = kindError(KindSerializationFailed)
	ErrStoragePlugin       = kindError(KindStoragePluginError)
)

type kindError Kind

func (k kindError) Error() string { return string(k) }

// AppError wraps an operation, error kind, human-facing message, and underlying error.
type AppError struct {
	Op   string
	Kind Kind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *AppError) Is(target error) bool {
	k, ok := target.(kindError)
	return ok && e.Kind != "" && Kind(k) == e.Kind
}

// NewAppError constructs an AppError without a kind.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// NewKindError constructs an AppError carrying kind.
func NewKindError(op string, kind Kind, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// NotFound reports that id does not resolve.
func NotFound(op, what, id string) error {
	return &AppError{Op: op, Kind: KindNotFound, Msg: fmt.Sprintf("%s %q not found", what, id)}
}

// Validation reports a failed precondition on caller input.
func Validation(op, format string, args ...any) error {
	return &AppError{Op: op, Kind: KindValidationFailed, Msg: fmt.Sprintf(format, args...)}
}

// Timeout wraps a context error raised before a lock was acquired.
func Timeout(op string, err error) error {
	return &AppError{Op: op, Kind: KindTimeout, Msg: "deadline exceeded before lock acquisition", Err: err}
}

// KindOf returns the kind of the first AppError in err's chain, or "" when none carries one.
func KindOf(err error) Kind {
	var app *AppError
	for err != nil {
		if !errors.As(err, &app) {
			return ""
		}
		if app.Kind != "" {
			return app.Kind
		}
		err = app.Err
	}
	return ""
}
