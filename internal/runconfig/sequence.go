package runconfig

import (
	"encoding/json"
	"fmt"
)

// An ordered, append-only accumulator of runtime-configuration operations.
//
// The order is significant: consumers apply operations front to back, so a
// later entry overrides or extends an earlier one at the backend level.
// Repeated identical operations are legal and are not deduplicated.
type Sequence struct {
	Ops     []Op     `json:"ops,omitempty"`
	Presets []string `json:"presets,omitempty"` // Applied preset names, in order.
}

// Appends a single operation.
func (s *Sequence) Append(op Op) {
	s.Ops = append(s.Ops, op)
}

// Appends a preset's operations, preserving their order, and records the
// preset name.
func (s *Sequence) ApplyPreset(name string, ops []Op) {
	for _, op := range ops {
		op.Preset = name
		s.Ops = append(s.Ops, op)
	}
	s.Presets = append(s.Presets, name)
}

// Returns a deep copy of the parent sequence, to serve as the inherited
// prefix of a dependent's accumulator.
//
// Ancestor-declared configuration stays first; the caller appends its own
// operations after it, giving the most specific entries last.
func Inherit(parent Sequence) Sequence {
	return Sequence{
		Ops:     append([]Op(nil), parent.Ops...),
		Presets: append([]string(nil), parent.Presets...),
	}
}

// Serializes the sequence for embedding in an image label.
func (s Sequence) MarshalLabel() (string, error) {
	if len(s.Ops) == 0 && len(s.Presets) == 0 {
		return "", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return string(b), nil
}

// Parses a sequence from an image label.
//
// An empty label yields an empty sequence; foreign images carry no stored
// configuration.
func ParseLabel(label string) (Sequence, error) {
	if label == "" {
		return Sequence{}, nil
	}
	var s Sequence
	if err := json.Unmarshal([]byte(label), &s); err != nil {
		return Sequence{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return s, nil
}
