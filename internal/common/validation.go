package common

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidationError is one rejected request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validator collects field errors of a submitted payload.
type Validator struct {
	errors []ValidationError
}

func NewValidator() *Validator {
	return &Validator{}
}

// Field applies rules to value and records every failure under name.
func (v *Validator) Field(name string, value any, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(name, value); err != nil {
			v.errors = append(v.errors, *err)
		}
	}
	return v
}

func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ValidationRule checks one value; nil means accepted.
type ValidationRule func(name string, value any) *ValidationError

func stringValue(value any) (string, bool) {
	switch t := value.(type) {
	case string:
		return t, true
	case *string:
		if t != nil {
			return *t, true
		}
	}
	return "", false
}

// Required rejects nil and blank strings.
func Required(name string, value any) *ValidationError {
	if value == nil {
		return &ValidationError{Field: name, Message: "is required"}
	}
	if s, ok := stringValue(value); ok && strings.TrimSpace(s) == "" {
		return &ValidationError{Field: name, Message: "is required"}
	}
	if p, ok := value.(*string); ok && p == nil {
		return &ValidationError{Field: name, Message: "is required"}
	}
	return nil
}

// MaxLength allows at most max runes.
func MaxLength(max int) ValidationRule {
	return func(name string, value any) *ValidationError {
		s, ok := stringValue(value)
		if ok && utf8.RuneCountInString(s) > max {
			return &ValidationError{Field: name, Message: fmt.Sprintf("longer than %d characters", max)}
		}
		return nil
	}
}

// UUID requires a request id in canonical UUID form.
func UUID(name string, value any) *ValidationError {
	s, ok := value.(string)
	if !ok {
		return &ValidationError{Field: name, Message: "must be a string"}
	}
	if _, err := uuid.Parse(s); err != nil {
		return &ValidationError{Field: name, Message: fmt.Sprintf("%q is not a request id", s)}
	}
	return nil
}

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// CurrencyCode accepts empty strings; use Required to demand a value.
func CurrencyCode(name string, value any) *ValidationError {
	s, ok := value.(string)
	if !ok {
		return &ValidationError{Field: name, Message: "must be a string"}
	}
	if s != "" && !currencyRegex.MatchString(s) {
		return &ValidationError{Field: name, Message: fmt.Sprintf("%q is not an ISO 4217 code", s)}
	}
	return nil
}

// Base64 requires a decodable standard base64 string when non-empty.
func Base64(name string, value any) *ValidationError {
	s, ok := value.(string)
	if !ok || s == "" {
		return nil
	}
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return &ValidationError{Field: name, Message: "is not valid base64"}
	}
	return nil
}

// ValidateAndReturnError joins the collected errors into one invalid-input
// error, or returns nil.
func ValidateAndReturnError(v *Validator) error {
	if len(v.errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(v.errors))
	for _, e := range v.errors {
		msgs = append(msgs, e.Error())
	}
	return InvalidArgumentError(strings.Join(msgs, "; "))
}
