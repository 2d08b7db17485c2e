package harness

import (
	"errors"
	"fmt"
)

var (
	ErrHarness           = errors.New("harness error")
	ErrProtocol          = errors.New("protocol error")
	ErrUnknownDirective  = errors.New("unknown directive")
	ErrNoActiveContainer = errors.New("no active container; FROM must come first")
	ErrActiveContainer   = errors.New("a container is already active")

	// Returned by the directive relay when invoked outside a build, i.e.
	// without the build socket environment variable.
	ErrInvalidContext = errors.New("not inside a build")
)

// Describes an aborted build execution.
type BuildFailedError struct {
	Definition string // Name of the definition whose build failed.
	Stage      string // Directive or phase that caused the failure.
	Err        error
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("build of %q failed at %s: %v", e.Definition, e.Stage, e.Err)
}

func (e *BuildFailedError) Unwrap() error {
	return e.Err
}
