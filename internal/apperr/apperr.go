// Package apperr holds the error taxonomy shared by the prediction pipeline and
// its collaborators. Callers branch on the concrete type with errors.As.
package apperr

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is returned when a request reaches the pipeline without an identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// ValidationError is a user-correctable input problem. Message is safe to show to users.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ArtifactError reports a missing, corrupt or mismatched model or scaler artifact.
type ArtifactError struct {
	Path string
	Err  error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact %s: %v", e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error { return e.Err }

// InferenceError reports a failed model evaluation.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// CollaboratorError wraps a failure of an external collaborator such as the user
// store or a record sink.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError and returns it.
func IsValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
