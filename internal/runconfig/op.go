package runconfig

import (
	"fmt"
	"strings"
)

// Kind of a runtime-configuration operation.
type Kind string

const (
	KindMount  Kind = "mount"  // Bind mount, "src=<path>,dst=<path>[,ro]".
	KindDevice Kind = "device" // Host device path to expose.
	KindEnv    Kind = "env"    // Environment variable, "KEY=VALUE".
	KindArg    Kind = "arg"    // Named run option (e.g. "privileged").
)

// A single runtime-configuration operation.
//
// Ops accumulate during a build and are replayed against the run backend
// when a container is created. Values are stored verbatim; ${VAR}
// references are expanded at apply time, not at build time.
type Op struct {
	Kind   Kind   `json:"kind"`
	Value  string `json:"value"`
	Preset string `json:"preset,omitempty"` // Preset that produced this op, if any.
}

// Parses a CFG invocation into an operation.
//
// The key selects the kind; the remaining arguments join into the value.
func ParseOp(key string, args []string) (Op, error) {
	value := strings.Join(args, " ")
	if value == "" {
		return Op{}, fmt.Errorf("%w: %s needs a value", ErrInvalidOp, key)
	}

	kind := Kind(key)
	switch kind {
	case KindMount:
		if _, err := parseMount(value); err != nil {
			return Op{}, err
		}
	case KindDevice, KindEnv, KindArg:
		// Free-form; validated by the backend at apply time.
	default:
		return Op{}, fmt.Errorf("%w: %q", ErrUnknownKind, key)
	}

	return Op{Kind: kind, Value: value}, nil
}

// A parsed bind-mount specification.
type Mount struct {
	Source   string
	Dest     string
	ReadOnly bool
}

// Returns the parsed mount specification for a mount op.
func (o Op) Mount() (Mount, error) {
	if o.Kind != KindMount {
		return Mount{}, fmt.Errorf("%w: %q is not a mount", ErrInvalidOp, o.Kind)
	}
	return parseMount(o.Value)
}

// Parses "src=<path>,dst=<path>[,ro]".
func parseMount(value string) (Mount, error) {
	var m Mount
	for _, field := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(field, "=")
		switch {
		case ok && k == "src":
			m.Source = v
		case ok && k == "dst":
			m.Dest = v
		case !ok && field == "ro":
			m.ReadOnly = true
		default:
			return Mount{}, fmt.Errorf("%w: unrecognized field %q", ErrInvalidMount, field)
		}
	}

	if m.Source == "" || m.Dest == "" {
		return Mount{}, fmt.Errorf("%w: %q needs both src and dst", ErrInvalidMount, value)
	}
	return m, nil
}
