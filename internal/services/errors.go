package services

import (
	"errors"
	"fmt"

	"asset-approval/backend/internal/repository"
)

// Kind classifies a workflow failure for callers deciding how to react.
type Kind string

const (
	KindConfig       Kind = "config"
	KindUnauthorized Kind = "unauthorized"
	KindInvalidStage Kind = "invalid_stage"
	KindPrecondition Kind = "precondition"
	KindNotFound     Kind = "not_found"
	KindValidation   Kind = "validation"
	KindContention   Kind = "contention"
	KindInternal     Kind = "internal"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrConfig       = errors.New("workflow configuration error")
	ErrUnauthorized = errors.New("not authorized")
	ErrInvalidStage = errors.New("stage is not in review")
	ErrPrecondition = errors.New("precondition failed")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("invalid input")
	ErrContention   = errors.New("too much contention, retries exhausted")
)

var kindSentinels = map[Kind]error{
	KindConfig:       ErrConfig,
	KindUnauthorized: ErrUnauthorized,
	KindInvalidStage: ErrInvalidStage,
	KindPrecondition: ErrPrecondition,
	KindNotFound:     ErrNotFound,
	KindValidation:   ErrValidation,
	KindContention:   ErrContention,
}

// Error is returned by every service operation that fails for a reason the
// caller can act on.
type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Op + ": "
	if e.Detail != "" {
		msg += e.Detail
	} else if sentinel, ok := kindSentinels[e.Kind]; ok {
		msg += sentinel.Error()
	} else {
		msg += string(e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUnauthorized) and friends match by kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// ErrorKind exposes the classification.
func (e *Error) ErrorKind() Kind { return e.Kind }

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return KindInternal
}

func newError(kind Kind, op, detail string, err error) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

func errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// storeError classifies a repository failure. ErrConflict passes through
// untouched so the retry loop can see it.
func storeError(op, what string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return newError(KindNotFound, op, what+" not found", err)
	case errors.Is(err, repository.ErrConflict):
		return err
	}
	var serr *Error
	if errors.As(err, &serr) {
		return err
	}
	return newError(KindInternal, op, "", err)
}
