package gate

import (
	"errors"
	"fmt"
)

// ErrNotAncestor is returned when the tagged commit is not reachable from the
// main branch tip. This is the gate's rejection signal: the tag points at
// code that was never merged.
var ErrNotAncestor = errors.New("commit is not an ancestor of the main branch")

// ErrResolveFailed is returned when a revision specification cannot be
// resolved to a valid commit (branch/tag doesn't exist, invalid hash).
var ErrResolveFailed = errors.New("cannot resolve revision")

// ErrBranchMissing is returned when the configured main branch does not exist
// locally or on the remote.
var ErrBranchMissing = errors.New("main branch does not exist")

// ErrInvalidRef is returned when a reference name or option is malformed.
var ErrInvalidRef = errors.New("invalid reference")

// WrapError wraps an error with additional context while preserving
// the ability to check against sentinel errors using errors.Is().
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// WrapErrorf wraps an error with formatted additional context while
// preserving the ability to check against sentinel errors using errors.Is().
func WrapErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
