// Package errors provides error handling for mantyx.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - User-facing hints and details
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
)

// Sentinel errors for the orchestrator's error taxonomy.
// Use these with errors.Is() for type-safe error checking, and
// errors.Wrap()/WithDetail() to add context while preserving the kind.
var (
	// ErrInvalidTransition indicates a workload state machine guard violation
	ErrInvalidTransition = New("invalid transition")

	// ErrNotFound indicates an unknown workload, schedule, or execution id
	ErrNotFound = New("not found")

	// ErrValidation indicates a malformed request or schedule definition
	ErrValidation = New("validation error")

	// ErrProvisioning indicates a dependency-environment failure
	ErrProvisioning = New("provisioning failure")

	// ErrLaunch indicates the process could not be started
	// (entrypoint missing, runtime missing, spawn failure)
	ErrLaunch = New("launch failure")

	// ErrTimeout indicates an operation exceeded its deadline
	ErrTimeout = New("timeout exceeded")

	// ErrInternal indicates an unexpected internal failure
	ErrInternal = New("internal failure")
)

// InvalidTransitionf builds an ErrInvalidTransition naming the current state
// and the attempted action, as surfaced to API/CLI callers.
func InvalidTransitionf(action, state string) error {
	return WithDetailf(
		Wrapf(ErrInvalidTransition, "cannot %s from state %q", action, state),
		"action: %s", action)
}

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}
