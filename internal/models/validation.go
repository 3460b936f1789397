package models

import (
	"errors"
	"fmt"
	"math"
)

// ValidationError is returned by model hooks before a write reaches the store.
type ValidationError struct {
	Model   string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s.%s: %s", e.Model, e.Field, e.Message)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func invalid(model, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Model: model, Field: field, Message: fmt.Sprintf(format, args...)}
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// percentOK accepts nil or a finite value in [0, 100].
func percentOK(v *float64) bool {
	return v == nil || (!math.IsNaN(*v) && *v >= 0 && *v <= 100)
}

// fractionOK accepts nil or a finite value in [0, 1].
func fractionOK(v *float64) bool {
	return v == nil || (!math.IsNaN(*v) && *v >= 0 && *v <= 1)
}

// Clamp01 bounds v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
