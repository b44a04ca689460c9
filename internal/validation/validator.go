// Package validation provides struct validation using go-playground/validator v10.
// It provides a thread-safe singleton validator instance with the custom rules
// the churn request schema needs, and translates failures into per-field
// messages keyed by the JSON field name.
//
// Example usage:
//
//	type request struct {
//	    HasCrCard *float64 `json:"HasCrCard" validate:"required,binary"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    respondValidation(w, verr.Details())
//	}
package validation

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// singleton validator instance
var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single field validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"type"`
	Message string `json:"msg"`
}

func (e FieldError) Error() string {
	return e.Message
}

// RequestValidationError represents a collection of validation errors.
type RequestValidationError struct {
	errors []FieldError
}

// NewError builds a single-field error for failures found outside the
// validator, such as malformed JSON.
func NewError(field, tag, message string) *RequestValidationError {
	return &RequestValidationError{errors: []FieldError{{Field: field, Tag: tag, Message: message}}}
}

// Details returns the per-field failures.
func (ve *RequestValidationError) Details() []FieldError {
	return ve.errors
}

// Error implements the error interface, returning a combined error message.
func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}

	messages := make([]string, 0, len(ve.errors))
	for _, err := range ve.errors {
		messages = append(messages, err.Message)
	}
	return strings.Join(messages, "; ")
}

// Prefix returns a copy whose field names are prefixed, e.g. "[3]." for
// the fourth element of a batch.
func (ve *RequestValidationError) Prefix(prefix string) *RequestValidationError {
	out := make([]FieldError, len(ve.errors))
	for i, e := range ve.errors {
		e.Field = prefix + e.Field
		out[i] = e
	}
	return &RequestValidationError{errors: out}
}

// Merge combines several validation errors. Nil entries are skipped and nil is
// returned when nothing failed.
func Merge(errs ...*RequestValidationError) *RequestValidationError {
	var out []FieldError
	for _, e := range errs {
		if e != nil {
			out = append(out, e.errors...)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return &RequestValidationError{errors: out}
}

// GetValidator returns the singleton validator instance.
// The validator is initialized once with custom validators and options.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report JSON names so messages match the request body.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})

		// binary: a 0/1 indicator.
		if err := validate.RegisterValidation("binary", validateBinary); err != nil {
			panic(fmt.Sprintf("register binary validator: %v", err))
		}
		// finite: rejects NaN and ±Inf.
		if err := validate.RegisterValidation("finite", validateFinite); err != nil {
			panic(fmt.Sprintf("register finite validator: %v", err))
		}
	})

	return validate
}

func validateBinary(fl validator.FieldLevel) bool {
	v, ok := floatValue(fl.Field())
	return ok && (v == 0 || v == 1)
}

func validateFinite(fl validator.FieldLevel) bool {
	v, ok := floatValue(fl.Field())
	return ok && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func floatValue(f reflect.Value) (float64, bool) {
	switch f.Kind() {
	case reflect.Float32, reflect.Float64:
		return f.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(f.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(f.Uint()), true
	default:
		return 0, false
	}
}

// ValidateStruct validates a struct using the singleton validator.
// Returns nil if validation passes, or *RequestValidationError if validation fails.
func ValidateStruct(s interface{}) *RequestValidationError {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return &RequestValidationError{
			errors: []FieldError{{Field: "body", Tag: "invalid", Message: err.Error()}},
		}
	}

	fieldErrors := make([]FieldError, len(validationErrs))
	for i, fieldErr := range validationErrs {
		fieldErrors[i] = FieldError{
			Field:   fieldErr.Field(),
			Tag:     fieldErr.Tag(),
			Message: translateError(fieldErr),
		}
	}

	return &RequestValidationError{errors: fieldErrors}
}

// errorMessageTemplates maps validation tags to message templates.
var errorMessageTemplates = map[string]string{
	"required": "%s is required",
	"binary":   "%s must be 0 or 1",
	"finite":   "%s must be a finite number",
}

func translateError(fe validator.FieldError) string {
	field := fe.Field()

	if template, ok := errorMessageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(template, field)
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}
