package contract

import "errors"

var (
	ErrValidation      = errors.New("validation failed")
	ErrUpstream        = errors.New("upstream collaborator failed")
	ErrToolFailure     = errors.New("tool invocation failed")
	ErrGenerationLimit = errors.New("tool call depth exceeded")
	ErrTimeout         = errors.New("operation timed out")
)
