package build

import "errors"

var (
	ErrNoTargets = errors.New("no build targets; name definitions or pass --all")
)
