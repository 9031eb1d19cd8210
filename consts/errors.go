package consts

import "errors"

var (
	// ErrAliasNotFound indicates that no target exists for the requested alias.
	// Absence is a normal lookup outcome, not a fault.
	ErrAliasNotFound = errors.New("alias not found")

	// ErrDuplicateAlias indicates that an alias already maps to a target.
	ErrDuplicateAlias = errors.New("alias already exists")

	// ErrNotConnected indicates that no backend connection is active.
	ErrNotConnected = errors.New("not connected to backend")

	// ErrMalformedRequest indicates a request with the wrong verb or argument shape.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrUnsupportedCommand indicates a verb this server deliberately does not implement.
	ErrUnsupportedCommand = errors.New("unsupported command")

	ErrInternalError = errors.New("internal error")
)
