// Package errors provides typed errors for the chogo library.
//
// All errors support Go 1.13+ error wrapping and can be inspected with
// errors.Is / errors.As. Construction and wrapping are delegated to
// cockroachdb/errors so that stack traces are captured at the error site.
//
// The package distinguishes fatal configuration errors (dimension
// mismatches, invalid values, use of an unfitted model) from warnings
// (ConvergenceWarning), which are reported through Warn without failing
// the surrounding call.
package errors

import (
	"fmt"

	cockroacherrors "github.com/cockroachdb/errors"

	"github.com/chogo-ml/chogo/pkg/log"
)

// NotFittedError indicates that a model was used before training.
type NotFittedError struct {
	// ModelName is the estimator that was misused.
	ModelName string
	// Method is the method that requires a fitted model.
	Method string
}

// NewNotFittedError creates a NotFittedError.
func NewNotFittedError(modelName, method string) error {
	return &NotFittedError{ModelName: modelName, Method: method}
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("%s: model must be fitted before calling %s", e.ModelName, e.Method)
}

// NotInstantiatedError indicates that Fit was called on a model whose
// parameters have not been instantiated yet.
type NotInstantiatedError struct {
	// ModelName is the estimator that was misused.
	ModelName string
}

// NewNotInstantiatedError creates a NotInstantiatedError.
func NewNotInstantiatedError(modelName string) error {
	return &NotInstantiatedError{ModelName: modelName}
}

func (e *NotInstantiatedError) Error() string {
	return fmt.Sprintf("%s: model not instantiated, call Instantiate first", e.ModelName)
}

// DimensionError indicates a shape mismatch between inputs or between
// inputs and model parameters.
type DimensionError struct {
	// Op is the operation during which the mismatch was detected.
	Op string
	// Expected is the expected size along Axis.
	Expected int
	// Got is the observed size along Axis.
	Got int
	// Axis is the offending axis (0 = rows, 1 = columns).
	Axis int
}

// NewDimensionError creates a DimensionError.
func NewDimensionError(op string, expected, got, axis int) error {
	return &DimensionError{Op: op, Expected: expected, Got: got, Axis: axis}
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%s: dimension mismatch on axis %d: expected %d, got %d",
		e.Op, e.Axis, e.Expected, e.Got)
}

// ValueError indicates an invalid argument or hyper-parameter value.
type ValueError struct {
	// Op is the operation that rejected the value.
	Op string
	// Message describes the constraint violation.
	Message string
}

// NewValueError creates a ValueError.
func NewValueError(op, message string) error {
	return &ValueError{Op: op, Message: message}
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// ValidationError indicates that input data violates a dataset invariant.
type ValidationError struct {
	// Field is the input that failed validation.
	Field string
	// Message describes the violated invariant.
	Message string
	// Value is the offending value, when meaningful.
	Value interface{}
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string, value interface{}) error {
	return &ValidationError{Field: field, Message: message, Value: value}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// ConvergenceWarning reports that an iterative fit stopped without
// reaching its convergence criterion. It is a warning, not a failure:
// pass it to Warn instead of returning it.
type ConvergenceWarning struct {
	// ModelName is the estimator that did not converge.
	ModelName string
	// Iterations is the number of iterations performed.
	Iterations int
	// Message gives additional context.
	Message string
}

// NewConvergenceWarning creates a ConvergenceWarning.
func NewConvergenceWarning(modelName string, iterations int, message string) error {
	return &ConvergenceWarning{ModelName: modelName, Iterations: iterations, Message: message}
}

func (e *ConvergenceWarning) Error() string {
	return fmt.Sprintf("%s: did not converge after %d iterations: %s",
		e.ModelName, e.Iterations, e.Message)
}

// Warn logs a warning-level error without interrupting the caller.
func Warn(err error) {
	if err == nil {
		return
	}
	log.GetLogger().Warn(err.Error())
}

// New creates a new error with a stack trace.
func New(msg string) error {
	return cockroacherrors.New(msg)
}

// Newf creates a new formatted error with a stack trace.
func Newf(format string, args ...interface{}) error {
	return cockroacherrors.Newf(format, args...)
}

// Wrap annotates err with a message, preserving the cause.
func Wrap(err error, msg string) error {
	return cockroacherrors.Wrap(err, msg)
}

// Wrapf annotates err with a formatted message, preserving the cause.
func Wrapf(err error, format string, args ...interface{}) error {
	return cockroacherrors.Wrapf(err, format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return cockroacherrors.Is(err, target)
}

// As finds the first error in err's chain matching target.
func As(err error, target interface{}) bool {
	return cockroacherrors.As(err, target)
}
