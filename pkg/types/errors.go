package types

import (
	"errors"
	"fmt"
)

// Sentinel lookup errors, matched with errors.Is at the API boundary
var (
	ErrProcessNotFound     = errors.New("process not found")
	ErrPackageNotFound     = errors.New("package not found")
	ErrPayloadNotFound     = errors.New("payload not found")
	ErrJobNotFound         = errors.New("job not found")
	ErrServiceNotFound     = errors.New("service not found")
	ErrAccessTokenNotFound = errors.New("access token not found")
	ErrNotImplemented      = errors.New("not implemented")
)

// PackageRegistrationError reports a deploy-time failure to accept a package
type PackageRegistrationError struct {
	ProcessID string
	Reason    string
	Err       error
}

func (e *PackageRegistrationError) Error() string {
	if e.ProcessID != "" {
		return fmt.Sprintf("registration of process %q failed: %s", e.ProcessID, e.Reason)
	}
	return fmt.Sprintf("package registration failed: %s", e.Reason)
}

func (e *PackageRegistrationError) Unwrap() error { return e.Err }

// PackageTypeError reports a structurally invalid package definition,
// typically a type or default that cannot be represented
type PackageTypeError struct {
	Field  string
	Reason string
}

func (e *PackageTypeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid package definition for %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid package definition: %s", e.Reason)
}

// PackageExecutionError reports a runtime failure inside a job. It marks the
// job failed but never crashes the service.
type PackageExecutionError struct {
	ProcessID string
	Message   string
	Err       error
}

func (e *PackageExecutionError) Error() string {
	if e.ProcessID != "" {
		return fmt.Sprintf("execution of process %q failed: %s", e.ProcessID, e.Message)
	}
	return fmt.Sprintf("package execution failed: %s", e.Message)
}

func (e *PackageExecutionError) Unwrap() error { return e.Err }

// ExecutionError wraps err into a PackageExecutionError unless it already
// is one, so a job failure surfaces a single taxonomy type
func ExecutionError(processID string, err error) error {
	var perr *PackageExecutionError
	if errors.As(err, &perr) {
		return err
	}
	return &PackageExecutionError{ProcessID: processID, Message: err.Error(), Err: err}
}

// ServiceRegistrationError reports a conflicting or rejected provider
// registration
type ServiceRegistrationError struct {
	Name   string
	Reason string
}

func (e *ServiceRegistrationError) Error() string {
	return fmt.Sprintf("registration of service %q failed: %s", e.Name, e.Reason)
}
