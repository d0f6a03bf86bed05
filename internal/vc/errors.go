package vc

import (
	"errors"
	"fmt"
)

// ErrUnsupported marks operations that this abstraction cannot provide
// and will not approximate.
var ErrUnsupported = errors.New("operation not supported")

// NotARepositoryError reports that a configured location does not contain
// a readable commit graph.
type NotARepositoryError struct {
	Path string
	Err  error
}

func (e *NotARepositoryError) Error() string {
	return fmt.Sprintf("%s does not appear to be a git repository", e.Path)
}

func (e *NotARepositoryError) Unwrap() error { return e.Err }

// NoSuchRevisionError reports a revision token that failed to resolve.
type NoSuchRevisionError struct {
	Rev string
}

func (e *NoSuchRevisionError) Error() string {
	if e.Rev == "" {
		return "no revision found"
	}
	return fmt.Sprintf("no revision %q found", e.Rev)
}

// NoSuchNodeError reports a path missing at an otherwise valid revision.
type NoSuchNodeError struct {
	Path string
	Rev  string
}

func (e *NoSuchNodeError) Error() string {
	return fmt.Sprintf("no node %q at revision %s", e.Path, e.Rev)
}

// DirectoryMismatchError reports that the cache was populated from a
// different repository location than the configured one. It is fatal and
// requires an explicit cache reset.
type DirectoryMismatchError struct {
	Stored     string
	Configured string
}

func (e *DirectoryMismatchError) Error() string {
	return fmt.Sprintf("cache was built from %q but the repository is configured at %q; clear the cache to resynchronize",
		e.Stored, e.Configured)
}

// IsNoSuchRevision reports whether err is a NoSuchRevisionError.
func IsNoSuchRevision(err error) bool {
	var e *NoSuchRevisionError
	return errors.As(err, &e)
}

// IsNoSuchNode reports whether err is a NoSuchNodeError.
func IsNoSuchNode(err error) bool {
	var e *NoSuchNodeError
	return errors.As(err, &e)
}
