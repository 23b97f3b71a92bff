// Package faults defines the error kinds shared across the pipeline.
//
// ErrValidation marks malformed input that is dropped and never retried.
// ErrTransientDependency marks an unreachable collaborator; the current cycle
// aborts and the next scheduled cycle is the retry. ErrConfiguration marks a
// missing required endpoint; the affected component skips its cycles until
// fixed.
package faults

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrTransientDependency = errors.New("transient dependency error")
	ErrConfiguration       = errors.New("configuration error")
)

func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Transientf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTransientDependency, fmt.Sprintf(format, args...))
}

func Configurationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientDependency)
}
