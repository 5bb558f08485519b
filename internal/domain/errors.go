package domain

import "errors"

var (
	// ErrValidation marks malformed or empty input. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrRoutingAmbiguity marks a classification that could not be resolved
	// to a known team. Routing degrades to a best guess instead of failing.
	ErrRoutingAmbiguity = errors.New("routing ambiguity")

	// ErrUnparsableClassification is returned by classifiers whose reply
	// carries no usable {type, confidence, explanation} structure.
	ErrUnparsableClassification = errors.New("unparsable classification")

	// ErrHandlerNotFound is fatal to the current stage or phase.
	ErrHandlerNotFound = errors.New("handler not found")

	// ErrHandlerExecution wraps a failure raised inside a team handler.
	ErrHandlerExecution = errors.New("handler execution failed")

	// ErrGraphTopology indicates a malformed graph definition.
	ErrGraphTopology = errors.New("graph topology error")

	// ErrInfiniteLoop is raised when a traversal revisits a node.
	ErrInfiniteLoop = errors.New("infinite loop detected")

	// ErrSessionNotFound is returned by stores for unknown ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMaxIterations is logged when the master loop hits its bound.
	ErrMaxIterations = errors.New("max iterations reached")
)
