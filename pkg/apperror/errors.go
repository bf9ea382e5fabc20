// Package apperror defines the error taxonomy shared by the facility core.
//
// Every rejected operation surfaces one of four kinds: validation (the request
// breaks a rule), conflict (a concurrent writer won), state (the entity is in
// the wrong lifecycle state) or not_found. Domain packages declare sentinels
// with the constructors below and compare them with errors.Is.
package apperror

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindState      Kind = "state"
	KindNotFound   Kind = "not_found"
)

// Violation is a single broken rule, addressed by field.
type Violation struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Error struct {
	Kind       Kind
	Code       string
	Violations []Violation
	Err        error
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func Validation(code string) *Error { return New(KindValidation, code) }
func Conflict(code string) *Error   { return New(KindConflict, code) }
func State(code string) *Error      { return New(KindState, code) }
func NotFound(code string) *Error   { return New(KindNotFound, code) }

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Code)
	if len(e.Violations) > 0 {
		codes := make([]string, 0, len(e.Violations))
		for _, v := range e.Violations {
			codes = append(codes, v.Code)
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(codes, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on kind and code so copies made by Wrap and WithViolations
// still compare equal to the sentinel they came from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WithViolations returns a copy of e carrying the given violations.
func (e *Error) WithViolations(v ...Violation) *Error {
	cp := *e
	cp.Violations = append(append([]Violation{}, e.Violations...), v...)
	return &cp
}

// KindOf reports the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// ViolationsOf returns the violations of the first *Error in err's chain. An
// error without an explicit list yields a single violation built from its code.
func ViolationsOf(err error) []Violation {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return nil
	}
	if len(appErr.Violations) > 0 {
		return appErr.Violations
	}
	return []Violation{{Code: appErr.Code, Message: strings.ReplaceAll(appErr.Code, "_", " ")}}
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsState(err error) bool      { return KindOf(err) == KindState }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }

// Violations accumulates broken rules before a mutation is attempted.
type Violations []Violation

func (v *Violations) Add(field, code, message string) {
	*v = append(*v, Violation{Field: field, Code: code, Message: message})
}

func (v Violations) Empty() bool { return len(v) == 0 }

// Err returns nil when nothing was collected, otherwise base carrying the list.
func (v Violations) Err(base *Error) error {
	if len(v) == 0 {
		return nil
	}
	return base.WithViolations(v...)
}
