package runconfig

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Built-in preset bundles.
//
// A preset is pure sugar: a fixed, ordered list of CFG operations expanded
// inline into the accumulator.
var builtinPresets = map[string][]Op{
	"x11": {
		{Kind: KindMount, Value: "src=/tmp/.X11-unix,dst=/tmp/.X11-unix"},
		{Kind: KindEnv, Value: "DISPLAY=${DISPLAY}"},
	},
	"wayland": {
		{Kind: KindMount, Value: "src=${XDG_RUNTIME_DIR}/${WAYLAND_DISPLAY},dst=/run/wayland-0"},
		{Kind: KindEnv, Value: "WAYLAND_DISPLAY=wayland-0"},
	},
	"gpu": {
		{Kind: KindDevice, Value: "/dev/dri"},
	},
	"audio": {
		{Kind: KindMount, Value: "src=${XDG_RUNTIME_DIR}/pipewire-0,dst=/run/pipewire-0"},
	},
	"ssh-agent": {
		{Kind: KindMount, Value: "src=${SSH_AUTH_SOCK},dst=/run/ssh-agent.sock"},
		{Kind: KindEnv, Value: "SSH_AUTH_SOCK=/run/ssh-agent.sock"},
	},
}

// Named bundles of configuration operations.
type Presets struct {
	bundles map[string][]Op
}

// Loads presets: the built-in bundles overlaid with user bundles from the
// given YAML file.
//
// The file maps preset names to lists of "<kind> <value>" strings. A user
// bundle shadows a built-in of the same name. A missing file is not an
// error.
func LoadPresets(path string) (*Presets, error) {
	bundles := make(map[string][]Op, len(builtinPresets))
	for name, ops := range builtinPresets {
		bundles[name] = ops
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Presets{bundles: bundles}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPresetFile, err)
	}

	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPresetFile, err)
	}

	for name, entries := range raw {
		ops := make([]Op, 0, len(entries))
		for _, entry := range entries {
			key, rest, _ := strings.Cut(entry, " ")
			op, err := ParseOp(key, strings.Fields(rest))
			if err != nil {
				return nil, fmt.Errorf("%w: preset %q: %w", ErrPresetFile, name, err)
			}
			ops = append(ops, op)
		}
		bundles[name] = ops
	}

	return &Presets{bundles: bundles}, nil
}

// Returns the built-in bundles only.
func BuiltinPresets() *Presets {
	return &Presets{bundles: builtinPresets}
}

// Looks up a preset's operations by name.
func (p *Presets) Expand(name string) ([]Op, error) {
	ops, ok := p.bundles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return ops, nil
}

// Returns all preset names, sorted.
func (p *Presets) Names() []string {
	names := make([]string, 0, len(p.bundles))
	for name := range p.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
