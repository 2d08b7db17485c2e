package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCycle             = errors.New("cycle detected in dependency graph")
	ErrUnknownDependency = errors.New("unknown dependency")
)

// Reported when the dependency graph contains a cycle.
//
// Path is one deterministic witness of the cycle, first node repeated last.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return ErrCycle.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCycle.Error(), strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycle }

// Reported when a depends_on entry names a definition that does not exist.
type UnknownDependencyError struct {
	Name       string // The missing definition name.
	RequiredBy string // The definition that declared the dependency.
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("%s: %q required by %q", ErrUnknownDependency.Error(), e.Name, e.RequiredBy)
}

func (e *UnknownDependencyError) Unwrap() error { return ErrUnknownDependency }
