package repository

import (
	"errors"
	"fmt"
)

var (
	// ErrRepository matches every error returned while resolving a repository.
	ErrRepository = errors.New("repository error")

	// ErrContentNotFound indicates no content is bound to an address.
	ErrContentNotFound = errors.New("content not found")
)

// ConfigurationError reports repository settings the storage engine rejected.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid repository settings: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is reports whether target is ErrRepository.
func (e *ConfigurationError) Is(target error) bool { return target == ErrRepository }

// RepositoryOpenError reports an existing location that could not be attached.
type RepositoryOpenError struct {
	Location string
	Err      error
}

func (e *RepositoryOpenError) Error() string {
	return fmt.Sprintf("could not open path as cache repository %s: %v", e.Location, e.Err)
}

func (e *RepositoryOpenError) Unwrap() error { return e.Err }

// Is reports whether target is ErrRepository.
func (e *RepositoryOpenError) Is(target error) bool { return target == ErrRepository }

// RepositoryInitError reports a location where no repository could be created.
type RepositoryInitError struct {
	Location string
	Err      error
}

func (e *RepositoryInitError) Error() string {
	return fmt.Sprintf("could not initialize cache repository %s: %v", e.Location, e.Err)
}

func (e *RepositoryInitError) Unwrap() error { return e.Err }

// Is reports whether target is ErrRepository.
func (e *RepositoryInitError) Is(target error) bool { return target == ErrRepository }
