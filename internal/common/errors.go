// Package common provides shared utilities for Backdrop
package common

import "errors"

// Sentinel errors for the pipeline's taxonomy. Wrap with fmt.Errorf
// ("...: %w", err) at the point of failure and unwrap with errors.Is
// at the HTTP/job-executor boundary.
var (
	ErrValidation         = errors.New("validation error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrDataUnavailable    = errors.New("data unavailable")
	ErrPoolExhausted      = errors.New("sandbox pool exhausted")
	ErrStaging            = errors.New("staging error")
	ErrSandboxTransient   = errors.New("sandbox transient error")
	ErrSandboxFatal       = errors.New("sandbox fatal error")
	ErrUserCodeRejected   = errors.New("user code rejected")
	ErrUserCodeRuntime    = errors.New("user code runtime error")
	ErrNotFound           = errors.New("not found")
)
