// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the change-control core
var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDeviceNotFound        = errors.New("device not found")
	ErrCredentialNotFound    = errors.New("credential not found")
	ErrCapabilityNotAllowed  = errors.New("capability not allowed")
	ErrEnvironmentNotAllowed = errors.New("environment not allowed")
	ErrValidationFailed      = errors.New("validation failed")
	ErrTokenMissing          = errors.New("approval token missing")
	ErrTokenMismatch         = errors.New("approval token mismatch")
	ErrTokenExpired          = errors.New("approval token expired")
	ErrPlanNotApplicable     = errors.New("plan not applicable")
	ErrInvalidTransition     = errors.New("invalid plan transition")
	ErrHealthCheckFailed     = errors.New("health check failed")
	ErrRollbackFailed        = errors.New("rollback failed")
	ErrPersistence           = errors.New("persistence error")
	ErrNotFound              = errors.New("resource not found")
	ErrLockBusy              = errors.New("device lock busy")
)

// UnauthorizedError reports a denied authorization decision with the
// reason left intact for the caller.
type UnauthorizedError struct {
	User              string
	Tool              string
	Reason            string
	MissingPermission string
	OutOfScopeDevices []string
}

func (e *UnauthorizedError) Error() string {
	msg := fmt.Sprintf("unauthorized: user '%s' may not invoke '%s': %s", e.User, e.Tool, e.Reason)
	if e.MissingPermission != "" {
		msg += fmt.Sprintf(" (missing permission %s)", e.MissingPermission)
	}
	if len(e.OutOfScopeDevices) > 0 {
		msg += fmt.Sprintf(" (devices out of scope: %s)", strings.Join(e.OutOfScopeDevices, ", "))
	}
	return msg
}

func (e *UnauthorizedError) Unwrap() error {
	return ErrUnauthorized
}

// DeviceNotFoundError reports a lookup of an unknown device.
type DeviceNotFoundError struct {
	DeviceID string
}

func (e *DeviceNotFoundError) Error() string {
	return fmt.Sprintf("device '%s' not found", e.DeviceID)
}

func (e *DeviceNotFoundError) Unwrap() error {
	return ErrDeviceNotFound
}

// CapabilityError reports a write blocked by a device capability flag.
type CapabilityError struct {
	DeviceID            string
	RequiredCapability  string
	CurrentValue        bool
	AllowedEnvironments []string
}

func (e *CapabilityError) Error() string {
	// allow_firewall_writes reads as "firewall write capability".
	name := strings.TrimSuffix(strings.TrimPrefix(e.RequiredCapability, "allow_"), "s")
	name = strings.ReplaceAll(name, "_", " ")
	return fmt.Sprintf("device '%s' does not have the %s capability enabled (%s=%t)",
		e.DeviceID, name, e.RequiredCapability, e.CurrentValue)
}

func (e *CapabilityError) Unwrap() error {
	return ErrCapabilityNotAllowed
}

// EnvironmentError reports a write blocked by the device environment.
type EnvironmentError struct {
	DeviceID            string
	DeviceEnvironment   string
	AllowedEnvironments []string
	Operation           string
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("operation '%s' blocked: device '%s' is in the %s environment, writes are only allowed in [%s]",
		e.Operation, e.DeviceID, e.DeviceEnvironment, strings.Join(e.AllowedEnvironments, ", "))
}

func (e *EnvironmentError) Unwrap() error {
	return ErrEnvironmentNotAllowed
}

// TransitionError reports an illegal plan state transition.
type TransitionError struct {
	PlanID string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("plan '%s': invalid transition %s -> %s", e.PlanID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// HealthError reports a failed post-change health check.
type HealthError struct {
	DeviceID string
	Check    string
	Details  string
}

func (e *HealthError) Error() string {
	msg := fmt.Sprintf("health check '%s' failed on device '%s'", e.Check, e.DeviceID)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

func (e *HealthError) Unwrap() error {
	return ErrHealthCheckFailed
}

// RollbackError reports a rollback that could not restore the snapshot.
// Terminal for the device; escalated in audit.
type RollbackError struct {
	DeviceID   string
	SnapshotID string
	Err        error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of device '%s' from snapshot '%s' failed: %v", e.DeviceID, e.SnapshotID, e.Err)
}

func (e *RollbackError) Unwrap() error {
	return ErrRollbackFailed
}

// PersistenceError wraps a store failure with the affected entity.
type PersistenceError struct {
	Entity string
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure: %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return ErrPersistence
}
