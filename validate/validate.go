// Package validate classifies form values against the client field rules and
// returns human readable errors. It never talks to the gateway.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var ErrValidationFailed = errors.New("validation failed")

const minPasswordLength = 6

var v = validator.New()

// String requires a non-blank value made of letters only.
func String(field, value string) []string {
	if blank(value) {
		return []string{label(field) + " can't be blank"}
	}
	if v.Var(value, "alpha") != nil {
		return []string{label(field) + " value can only contain letters"}
	}
	return nil
}

// Email requires a non-blank, well formed email address.
func Email(field, value string) []string {
	if blank(value) {
		return []string{label(field) + " can't be blank"}
	}
	if v.Var(value, "email") != nil {
		return []string{label(field) + " is not a valid email"}
	}
	return nil
}

// Password requires a non-blank value of at least six characters.
func Password(field, value string) []string {
	if blank(value) {
		return []string{label(field) + " can't be blank"}
	}
	if v.Var(value, fmt.Sprintf("min=%d", minPasswordLength)) != nil {
		return []string{fmt.Sprintf("%s must be at least %d characters", label(field), minPasswordLength)}
	}
	return nil
}

// Length checks the rune count of value against min and max. A negative bound
// is not checked. With allowEmpty an empty value always passes.
func Length(field, value string, minLength, maxLength int, allowEmpty bool) []string {
	if value == "" && allowEmpty {
		return nil
	}
	if !allowEmpty && blank(value) {
		return []string{label(field) + " can't be blank"}
	}
	var errs []string
	if minLength >= 0 && v.Var(value, fmt.Sprintf("min=%d", minLength)) != nil {
		errs = append(errs, fmt.Sprintf("%s is too short (minimum is %d characters)", label(field), minLength))
	}
	if maxLength >= 0 && v.Var(value, fmt.Sprintf("max=%d", maxLength)) != nil {
		errs = append(errs, fmt.Sprintf("%s is too long (maximum is %d characters)", label(field), maxLength))
	}
	return errs
}

// Errors collects the failures of several fields keyed by field id.
type Errors map[string][]string

// Add records errs for field, ignoring an empty result.
func (e Errors) Add(field string, errs []string) {
	if len(errs) > 0 {
		e[field] = append(e[field], errs...)
	}
}

// Err returns nil when no field failed, otherwise an error wrapping
// ErrValidationFailed.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return &FieldError{Fields: e}
}

type FieldError struct {
	Fields Errors
}

func (e *FieldError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var msgs []string
	for _, f := range fields {
		msgs = append(msgs, e.Fields[f]...)
	}
	return ErrValidationFailed.Error() + ": " + strings.Join(msgs, "; ")
}

func (e *FieldError) Unwrap() error {
	return ErrValidationFailed
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// label turns a field id like "firstName" into "First name".
func label(field string) string {
	var b strings.Builder
	for i, r := range field {
		switch {
		case i == 0:
			b.WriteRune(unicode.ToUpper(r))
		case unicode.IsUpper(r):
			b.WriteRune(' ')
			b.WriteRune(unicode.ToLower(r))
		case r == '_' || r == '-':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
