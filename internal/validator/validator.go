package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError describes a single rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
	Rule    string `json:"rule,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// ValidationErrors aggregates every rejected field of one payload.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

// IsValidation reports whether err is (or wraps) a ValidationErrors.
// Callers ingesting batches use it to drop a bad entry and keep going
// instead of failing the whole batch.
func IsValidation(err error) bool {
	var ve ValidationErrors
	return errors.As(err, &ve)
}

// Validator wraps struct-tag validation with the engine's custom rules.
type Validator struct {
	validate *validator.Validate
}

// New creates a validator with all custom rules registered.
func New() *Validator {
	v := &Validator{validate: validator.New()}
	v.registerRules()
	return v
}

// Validate checks a struct against its tags. It returns nil on success,
// ValidationErrors when fields were rejected.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	if errs := ToValidationErrors(err); len(errs) > 0 {
		return errs
	}
	return fmt.Errorf("validate: %w", err)
}

// ToValidationErrors converts library field errors into the domain slice.
func ToValidationErrors(err error) ValidationErrors {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return nil
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: messageFor(fe),
			Value:   fe.Value(),
			Rule:    fe.Tag(),
		})
	}
	return out
}

// registerRules registers custom rule validators.
func (v *Validator) registerRules() {
	// Content identifiers are opaque backend ids: trimmed, 1-128 characters.
	v.validate.RegisterValidation("lecture_id", func(fl validator.FieldLevel) bool {
		id := fl.Field().String()
		if id != strings.TrimSpace(id) {
			return false
		}
		return len(id) >= 1 && len(id) <= 128
	})

	// A renderable question carries 2-8 answer options.
	v.validate.RegisterValidation("option_count", func(fl validator.FieldLevel) bool {
		field := fl.Field()
		if field.Kind() != reflect.Slice {
			return false
		}
		n := field.Len()
		return n >= 2 && n <= 8
	})
}

// messageFor returns user-friendly error messages.
func messageFor(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", err.Param())
	case "datetime":
		return fmt.Sprintf("must match the date layout %s", err.Param())
	case "lecture_id":
		return "must be a trimmed identifier of 1 to 128 characters"
	case "option_count":
		return "must contain between 2 and 8 options"
	default:
		return fmt.Sprintf("validation failed for rule '%s'", err.Tag())
	}
}
