// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrGraphCycle       = errors.New("stage graph contains a cycle")
	ErrUnknownNode      = errors.New("unknown node id")
	ErrEmptyConditions  = errors.New("required condition list is empty")
	ErrIndicatorMissing = errors.New("indicator not present on bar")
	ErrInstanceMissing  = errors.New("stage instance not available")
	ErrBarMissing       = errors.New("bar not available")
	ErrNotBoolean       = errors.New("expression did not evaluate to a boolean")
	ErrTickerNotFound   = errors.New("ticker not found")
	ErrDatabaseError    = errors.New("database error")
)

// ConfigurationError represents a fatal stage-graph or settings error,
// detected before any scanning runs.
type ConfigurationError struct {
	NodeID  string
	Field   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	where := e.Field
	if e.NodeID != "" {
		where = fmt.Sprintf("%s.%s", e.NodeID, e.Field)
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration error [%s]: %s: %v", where, e.Message, e.Err)
	}
	return fmt.Sprintf("configuration error [%s]: %s", where, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(nodeID, field, message string, err error) *ConfigurationError {
	return &ConfigurationError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// EvaluationError represents a non-fatal failure to evaluate a single
// condition expression. Callers treat it as "condition not satisfied".
type EvaluationError struct {
	Label string
	Expr  string
	Err   error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation error [%s] %q: %v", e.Label, e.Expr, e.Err)
	}
	return fmt.Sprintf("evaluation error [%s] %q", e.Label, e.Expr)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// NewEvaluationError creates a new EvaluationError.
func NewEvaluationError(label, expr string, err error) *EvaluationError {
	return &EvaluationError{
		Label: label,
		Expr:  expr,
		Err:   err,
	}
}

// DataError represents a bad bar sequence for a single ticker. Other tickers
// are unaffected.
type DataError struct {
	Ticker  string
	Message string
	Err     error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s]: %s: %v", e.Ticker, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s]: %s", e.Ticker, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(ticker, message string, err error) *DataError {
	return &DataError{
		Ticker:  ticker,
		Message: message,
		Err:     err,
	}
}

// PersistenceError represents an error raised by the persistence collaborator.
// The engine's output is pure, so retries by the caller are always safe.
type PersistenceError struct {
	Operation string
	Key       string
	Err       error
}

func (e *PersistenceError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("persistence error [%s] %s: %v", e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("persistence error [%s]: %v", e.Operation, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(operation, key string, err error) *PersistenceError {
	return &PersistenceError{
		Operation: operation,
		Key:       key,
		Err:       err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
