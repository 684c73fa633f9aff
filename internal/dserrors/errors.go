// Package dserrors defines the error taxonomy shared by the driftsync
// reconciliation pipeline.
//
// Every stage of a reconciliation pass (fetch, render, observe, apply)
// classifies its failures into one of the types below. The controller uses
// the classification to decide whether to retry with backoff, wait for a new
// source revision, or surface the failure for operator attention. None of
// these errors crash the process; they attach to the Application's status.
package dserrors

import (
	"errors"
	"fmt"
	"regexp"
)

// SourceUnavailableError indicates the configuration source could not be
// reached or authenticated against. Transient; retried with backoff.
type SourceUnavailableError struct {
	RepoURL string
	Err     error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source unavailable: %s: %v", e.RepoURL, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// RenderValidationError indicates the fetched revision contains an invalid
// resource specification. Fatal for that revision; not retried until the
// source changes.
type RenderValidationError struct {
	// Resource names the offending resource (path or kind/name).
	Resource string
	Reason   string
}

func (e *RenderValidationError) Error() string {
	return fmt.Sprintf("render validation failed for %s: %s", e.Resource, e.Reason)
}

// PlatformUnavailableError indicates the destination cluster could not be
// reached. Transient; retried with backoff.
type PlatformUnavailableError struct {
	Err error
}

func (e *PlatformUnavailableError) Error() string {
	return fmt.Sprintf("platform unavailable: %v", e.Err)
}

func (e *PlatformUnavailableError) Unwrap() error { return e.Err }

// ResourceApplyError indicates a single resource operation failed. Isolated;
// it does not block operations on unrelated resources.
type ResourceApplyError struct {
	Kind      string
	Namespace string
	Name      string
	Operation string
	Err       error
}

func (e *ResourceApplyError) Error() string {
	return fmt.Sprintf("%s %s %s/%s failed: %v", e.Operation, e.Kind, e.Namespace, e.Name, e.Err)
}

func (e *ResourceApplyError) Unwrap() error { return e.Err }

// ConflictError indicates a concurrent external mutation was detected while
// applying a resource. The executor re-reads and retries once before
// surfacing it.
type ConflictError struct {
	Kind string
	Name string
	Err  error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s %s: %v", e.Kind, e.Name, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// IsRenderValidation checks if an error is or wraps a RenderValidationError.
func IsRenderValidation(err error) bool {
	var target *RenderValidationError
	return errors.As(err, &target)
}

// IsConflict checks if an error is or wraps a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// Transient reports whether the error warrants a backoff-and-retry rather
// than waiting for a new source revision or an operator.
func Transient(err error) bool {
	var src *SourceUnavailableError
	var platform *PlatformUnavailableError
	var conflict *ConflictError
	return errors.As(err, &src) || errors.As(err, &platform) || errors.As(err, &conflict)
}

var (
	// Absolute directory prefixes. The final path element is kept so the
	// message stays actionable.
	pathPattern = regexp.MustCompile(`(/[a-zA-Z0-9._-]+)+/`)

	// key=value credential material.
	credentialPattern = regexp.MustCompile(`(?i)(password|passwd|token|apikey|api_key|secret|bearer)(=|:\s*|\s+)\S+`)

	// Long unbroken base64-ish runs are likely secrets.
	base64Pattern = regexp.MustCompile(`[A-Za-z0-9+/_-]{40,}={0,2}`)
)

// SanitizeErrorMessage strips filesystem paths and credential material from
// an error message before it is stored in an Application's status, where it
// is visible over the operator API.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	msg = credentialPattern.ReplaceAllString(msg, "$1$2[REDACTED]")
	msg = pathPattern.ReplaceAllString(msg, "[PATH]/")
	msg = base64Pattern.ReplaceAllString(msg, "[REDACTED]")

	return msg
}
