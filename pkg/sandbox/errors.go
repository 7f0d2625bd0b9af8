package sandbox

import "errors"

var (
	// ErrRuntimeUnavailable is returned when the container runtime cannot
	// be reached
	ErrRuntimeUnavailable = errors.New("container runtime is not available")

	// ErrPathNotMounted is returned when a host path maps to no container
	// mount
	ErrPathNotMounted = errors.New("path is not mounted in the sandbox")

	// ErrEmptyCommand is returned when Execute is called without an argv
	ErrEmptyCommand = errors.New("empty command")

	// ErrExecTimeout is returned when a sandboxed command exceeds its
	// timeout
	ErrExecTimeout = errors.New("sandbox execution timed out")
)
