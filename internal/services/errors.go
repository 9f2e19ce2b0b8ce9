package services

import (
	"errors"

	"github.com/souqline/api/internal/repositories"
)

// Base sentinels categorise every service failure. Specific service errors
// wrap exactly one of them so handlers can map categories to HTTP statuses
// without knowing individual services.
var (
	// ErrValidation indicates the caller supplied invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the request lost a race or violates current state.
	ErrConflict = errors.New("conflict")
	// ErrUpstream indicates a dependency outside this system failed.
	ErrUpstream = errors.New("upstream failure")
	// ErrSecurity indicates the request failed an authentication or signature check.
	ErrSecurity = errors.New("security check failed")
	// ErrIntegrity indicates persisted state contradicts an invariant.
	ErrIntegrity = errors.New("integrity violation")
)

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
