// Package validation checks request payloads with go-playground/validator using the
// account service's custom tags.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	phonePattern = regexp.MustCompile(`^09\d{9}$`)
	jtiPattern   = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)
)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names instead of Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("jti", func(fl validator.FieldLevel) bool {
		return jtiPattern.MatchString(fl.Field().String())
	})
	return v
}

// Error maps field names to user facing messages.
type Error struct {
	Errors map[string]string `json:"errors"`
}

func (e *Error) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for field := range e.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	messages := make([]string, 0, len(fields))
	for _, field := range fields {
		messages = append(messages, fmt.Sprintf("%s: %s", field, e.Errors[field]))
	}
	return "validation failed: " + strings.Join(messages, ", ")
}

// FieldError returns an *Error for a single field.
func FieldError(field, message string) *Error {
	return &Error{Errors: map[string]string{field: message}}
}

// Struct validates a tagged request struct.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("validate: %w", err)
	}
	out := &Error{Errors: make(map[string]string, len(errs))}
	for _, fe := range errs {
		out.Errors[fe.Field()] = message(fe.Field(), fe)
	}
	return out
}

// Phone checks a phone number outside of a struct.
func Phone(phone string) error {
	return field("phone", phone, "required,phone")
}

// JTI checks a session identifier outside of a struct.
func JTI(jti string) error {
	return field("jti", jti, "required,jti")
}

func field(name, value, tag string) error {
	err := validate.Var(value, tag)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return fmt.Errorf("validate %s: %w", name, err)
	}
	return FieldError(name, message(name, errs[0]))
}

func message(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "phone":
		return "phone number must match 09XXXXXXXXX"
	case "jti":
		return "jti must be 32 hexadecimal characters"
	case "number", "numeric":
		return fmt.Sprintf("%s must contain digits only", field)
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters long", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
