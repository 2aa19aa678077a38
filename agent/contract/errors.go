package contract

import "errors"

var (
	// ErrProtocolViolation marks a handler-contract breach (e.g. duplicate
	// tool-call signatures within one step). Fatal for the turn, never retried.
	ErrProtocolViolation = errors.New("handler protocol violation")

	// ErrMalformedArguments marks tool-call argument JSON that does not parse.
	ErrMalformedArguments = errors.New("malformed tool arguments")

	// ErrUnknownHandler marks a routing call naming no registered handler.
	ErrUnknownHandler = errors.New("unknown handler")
)
