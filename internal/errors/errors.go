// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrRepositoryMissing signals that the upstream authoritatively confirmed a
// repository does not exist (404/gone/legally unavailable). It is terminal:
// the sync engine writes status=not_found and never retries automatically.
var ErrRepositoryMissing = errors.New("repository confirmed missing upstream")

// ErrRepositoryNotFoundStatus is returned when sync is requested for a
// repository already carrying the terminal not_found status. No outbound
// calls are made.
var ErrRepositoryNotFoundStatus = errors.New("repository previously marked not_found")

// ErrNoTokens is returned by the GitHub token pool when it is empty.
var ErrNoTokens = errors.New("token pool is empty")

// ErrInvalidRepoFormat is returned when a repository name is not in
// 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// ErrUnsupportedHostKind is returned when no adapter exists for a host kind.
type ErrUnsupportedHostKind struct {
	Kind string
}

func (e *ErrUnsupportedHostKind) Error() string {
	return fmt.Sprintf("unsupported host kind: %q", e.Kind)
}

// IgnorableHostError wraps a transient upstream failure (unauthorized token,
// conflict, 5xx, SAML-protected). Adapters classify these so the sync engine
// treats them as "no data this call" instead of marking the repository broken.
type IgnorableHostError struct {
	Status int
	Err    error
}

func (e *IgnorableHostError) Error() string {
	return fmt.Sprintf("ignorable host error (status %d): %v", e.Status, e.Err)
}

func (e *IgnorableHostError) Unwrap() error { return e.Err }

// IsIgnorable reports whether err is a transient host error.
func IsIgnorable(err error) bool {
	var ig *IgnorableHostError
	return errors.As(err, &ig)
}

// IsMissing reports whether err is an authoritative-missing classification.
func IsMissing(err error) bool {
	return errors.Is(err, ErrRepositoryMissing)
}
