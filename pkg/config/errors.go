package config

import (
	"errors"
	"fmt"
)

// ErrConfigInvalid is the sentinel wrapped by every validation failure,
// matching spec.md's ConfigInvalid error class: fatal at startup,
// rejected at reload.
var ErrConfigInvalid = errors.New("configuration invalid")

var (
	// ErrAgentNotFound indicates the agent id was not found in the catalog.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrModelNotFound indicates the model id was not found in the catalog.
	ErrModelNotFound = errors.New("model not found")
)

// ValidationError wraps one configuration validation failure with enough
// context to locate it in the source YAML.
type ValidationError struct {
	Component string // "agent", "model", "runtime", "safety", "breaker"
	ID        string
	Field     string
	Err       error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s '%s': field '%s': %v", e.Component, e.ID, e.Field, e.Err)
	}
	return fmt.Sprintf("%s '%s': %v", e.Component, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error { return errors.Join(e.Err, ErrConfigInvalid) }

// NewValidationError builds a ValidationError for the given component/id/field.
func NewValidationError(component, id, field string, err error) *ValidationError {
	return &ValidationError{Component: component, ID: id, Field: field, Err: err}
}

// LoadError wraps a failure to load or parse a specific config file.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return errors.Join(e.Err, ErrConfigInvalid) }

// NewLoadError builds a LoadError for the given file.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
