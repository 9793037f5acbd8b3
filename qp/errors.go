package qp

import "errors"

var (
	// ErrMalformedCommand is returned when a composed line does not match the
	// command grammar. Such a line is never transmitted.
	ErrMalformedCommand = errors.New("malformed command")
	// ErrTransport wraps open/write/read failures at the serial boundary.
	ErrTransport = errors.New("transport error")
	// ErrInvalidCoordinate is returned for targets that cannot be placed in
	// the horizontal frame.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	// ErrParseIgnored marks a status line that matched no known shape. It is
	// logged by the listener and never returned to callers.
	ErrParseIgnored = errors.New("status line ignored")
	// ErrControllerFault is returned when an operation's precondition does
	// not hold.
	ErrControllerFault = errors.New("controller fault")
)
