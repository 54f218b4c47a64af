// Package validation is the single entry gate for use-case input. It wraps
// go-playground/validator and flattens its errors into a map keyed by field path.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// FieldError is the structured error reported for one field.
type FieldError struct {
	Message string `json:"message"`
}

// Errors maps a field path (json names, e.g. "requests[1].notes") to its error.
type Errors map[string]FieldError

func (e Errors) Error() string {
	keys := make([]string, 0, len(e))
	for key := range e {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", key, e[key].Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Normalizer is implemented by inputs that trim or canonicalise themselves
// before rules run.
type Normalizer interface {
	Normalize()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("decimal_gt0", func(fl validator.FieldLevel) bool {
		amount, err := decimal.NewFromString(fl.Field().String())
		return err == nil && amount.IsPositive()
	})
	_ = v.RegisterValidation("date_ymd", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.DateOnly, fl.Field().String())
		return err == nil
	})
	return v
}

// Validate normalises input and checks it. On success the typed input is
// returned with nil Errors.
func Validate[T any](input T) (T, Errors) {
	if normalizer, ok := any(&input).(Normalizer); ok {
		normalizer.Normalize()
	}

	err := validate.Struct(input)
	if err == nil {
		return input, nil
	}
	return input, Flatten(err)
}

// Flatten converts a validator error (single or many) into Errors.
func Flatten(err error) Errors {
	out := Errors{}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		out["input"] = FieldError{Message: "is invalid"}
		return out
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		out["input"] = FieldError{Message: err.Error()}
		return out
	}

	for _, fieldErr := range fieldErrs {
		key := fieldPath(fieldErr)
		if _, exists := out[key]; exists {
			continue
		}
		out[key] = FieldError{Message: message(fieldErr)}
	}
	return out
}

// fieldPath drops the root struct name from the namespace and falls back to
// the rule name when no path is present.
func fieldPath(fieldErr validator.FieldError) string {
	namespace := fieldErr.Namespace()
	if idx := strings.Index(namespace, "."); idx >= 0 {
		namespace = namespace[idx+1:]
	} else {
		namespace = fieldErr.Field()
	}
	if namespace == "" {
		return fieldErr.Tag()
	}
	return namespace
}

func message(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a valid identifier"
	case "decimal_gt0":
		return "must be a positive number"
	case "date_ymd":
		return "must be a date in YYYY-MM-DD format"
	case "iso3166_1_alpha2":
		return "must be a two-letter country code"
	case "oneof":
		return "must be one of: " + fieldErr.Param()
	case "gt":
		return "must be greater than " + fieldErr.Param()
	case "gte":
		return "must be at least " + fieldErr.Param()
	case "min":
		if fieldErr.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s items", fieldErr.Param())
		}
		return fmt.Sprintf("must be at least %s characters", fieldErr.Param())
	case "max":
		if fieldErr.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at most %s items", fieldErr.Param())
		}
		return fmt.Sprintf("must be at most %s characters", fieldErr.Param())
	default:
		return fmt.Sprintf("failed on the '%s' rule", fieldErr.Tag())
	}
}
