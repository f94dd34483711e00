package schema

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stores and the registry.
var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrJobNotFound  = errors.New("job not found")
)

// ValidationError rejects a malformed rule before any registry mutation.
// The authoring surface validates rules up front; this is the engine's
// defensive second line so meaningless jobs are never materialized.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule: %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
