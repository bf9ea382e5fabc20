// Package validation runs struct tag validation and reports failures as
// apperror violations keyed by json field name.
package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// Struct validates v and returns base carrying one violation per failed
// field, or nil.
func Struct(v any, base *apperror.Error) error {
	err := get().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return base.Wrap(err)
	}
	var violations apperror.Violations
	for _, fe := range fieldErrs {
		violations.Add(fieldPath(fe), codeFor(fe.Tag()), message(fe))
	}
	return violations.Err(base)
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func codeFor(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "gte", "gt", "min":
		return "too_small"
	case "lte", "lt", "max":
		return "too_large"
	case "ltefield":
		return "exceeds_field"
	case "oneof":
		return "not_allowed"
	default:
		return "invalid"
	}
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "ltefield":
		return fe.Field() + " must not exceed " + fe.Param()
	case "gte", "min":
		return fe.Field() + " must be at least " + fe.Param()
	case "lte", "max":
		return fe.Field() + " must be at most " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}
