package definition

import (
	"errors"
	"fmt"
)

var (
	ErrLoad            = errors.New("failed to load definition")
	ErrEmptyDefinition = errors.New("definition is empty")
	ErrInvalidShebang  = errors.New("definition has no usable shebang")
	ErrBrokenSymlink   = errors.New("definition is a broken symbolic link")
	ErrMetadata        = errors.New("failed to parse definition metadata")
	ErrNotFound        = errors.New("definition not found")
	ErrAlreadyExists   = errors.New("definition already exists")
)

// Reported when a definition name cannot be resolved.
//
// Carries a fuzzy-matched suggestion when a similarly named definition
// exists.
type NotFoundError struct {
	Name       string // Requested definition name.
	Suggestion string // Closest existing name, empty when nothing is close.
}

func (e *NotFoundError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("definition %q not found; did you mean %q?", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("definition %q not found", e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
