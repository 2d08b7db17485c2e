package runconfig

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseOp(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		args    []string
		want    Op
		wantErr error
	}{
		{
			name: "mount",
			key:  "mount",
			args: []string{"src=/tmp,dst=/m"},
			want: Op{Kind: KindMount, Value: "src=/tmp,dst=/m"},
		},
		{
			name: "device",
			key:  "device",
			args: []string{"/dev/dri"},
			want: Op{Kind: KindDevice, Value: "/dev/dri"},
		},
		{
			name: "env",
			key:  "env",
			args: []string{"TERM=xterm"},
			want: Op{Kind: KindEnv, Value: "TERM=xterm"},
		},
		{
			name: "arg with spaces",
			key:  "arg",
			args: []string{"hostname", "devbox"},
			want: Op{Kind: KindArg, Value: "hostname devbox"},
		},
		{
			name:    "unknown key",
			key:     "volume",
			args:    []string{"/data"},
			wantErr: ErrUnknownKind,
		},
		{
			name:    "missing value",
			key:     "mount",
			args:    nil,
			wantErr: ErrInvalidOp,
		},
		{
			name:    "bad mount",
			key:     "mount",
			args:    []string{"src=/tmp"},
			wantErr: ErrInvalidMount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := ParseOp(tt.key, tt.args)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if op != tt.want {
				t.Fatalf("op = %+v, want %+v", op, tt.want)
			}
		})
	}
}

func TestParseMount(t *testing.T) {
	m, err := parseMount("src=/tmp,dst=/m,ro")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Source != "/tmp" || m.Dest != "/m" || !m.ReadOnly {
		t.Fatalf("mount = %+v", m)
	}

	if _, err := parseMount("src=/tmp,dst=/m,rw=yes"); !errors.Is(err, ErrInvalidMount) {
		t.Fatalf("err = %v, want ErrInvalidMount", err)
	}
}

func TestInheritancePreservesOrder(t *testing.T) {
	var base Sequence
	base.Append(Op{Kind: KindMount, Value: "src=/x,dst=/x"})
	base.Append(Op{Kind: KindMount, Value: "src=/y,dst=/y"})

	child := Inherit(base)
	child.Append(Op{Kind: KindMount, Value: "src=/z,dst=/z"})

	want := []string{"src=/x,dst=/x", "src=/y,dst=/y", "src=/z,dst=/z"}
	if len(child.Ops) != len(want) {
		t.Fatalf("len = %d, want %d", len(child.Ops), len(want))
	}
	for i, v := range want {
		if child.Ops[i].Value != v {
			t.Fatalf("ops[%d] = %q, want %q", i, child.Ops[i].Value, v)
		}
	}

	// The parent is untouched.
	if len(base.Ops) != 2 {
		t.Fatalf("parent mutated: %v", base.Ops)
	}
}

func TestInheritDeepCopies(t *testing.T) {
	var base Sequence
	base.Append(Op{Kind: KindDevice, Value: "/dev/dri"})

	child := Inherit(base)
	child.Ops[0].Value = "/dev/null"

	if base.Ops[0].Value != "/dev/dri" {
		t.Fatal("child edit leaked into parent")
	}
}

func TestDuplicateOpsNotDeduplicated(t *testing.T) {
	var s Sequence
	s.Append(Op{Kind: KindMount, Value: "src=/a,dst=/m"})
	s.Append(Op{Kind: KindMount, Value: "src=/b,dst=/m"})

	if len(s.Ops) != 2 {
		t.Fatalf("len = %d, want 2 (last one wins at apply time)", len(s.Ops))
	}
}

func TestLabelRoundTrip(t *testing.T) {
	var s Sequence
	s.Append(Op{Kind: KindMount, Value: "src=/tmp,dst=/m"})
	s.ApplyPreset("gpu", []Op{{Kind: KindDevice, Value: "/dev/dri"}})

	label, err := s.MarshalLabel()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseLabel(label)
	if err != nil {
		t.Fatal(err)
	}

	if len(parsed.Ops) != 2 {
		t.Fatalf("ops = %v", parsed.Ops)
	}
	if parsed.Ops[1].Preset != "gpu" {
		t.Fatalf("preset provenance lost: %+v", parsed.Ops[1])
	}
	if len(parsed.Presets) != 1 || parsed.Presets[0] != "gpu" {
		t.Fatalf("presets = %v", parsed.Presets)
	}
}

func TestParseLabelEmpty(t *testing.T) {
	s, err := ParseLabel("")
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Ops) != 0 {
		t.Fatalf("ops = %v, want empty", s.Ops)
	}
}

func TestMarshalLabelEmpty(t *testing.T) {
	label, err := Sequence{}.MarshalLabel()
	if err != nil {
		t.Fatal(err)
	}
	if label != "" {
		t.Fatalf("label = %q, want empty", label)
	}
}

func TestLoadPresetsBuiltins(t *testing.T) {
	p, err := LoadPresets(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ops, err := p.Expand("gpu")
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Kind != KindDevice {
		t.Fatalf("gpu preset = %v", ops)
	}

	if _, err := p.Expand("nope"); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("err = %v, want ErrUnknownPreset", err)
	}
}

func TestLoadPresetsUserOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	data := "gpu:\n  - device /dev/kfd\nproject:\n  - mount src=/srv,dst=/srv\n  - env MODE=dev\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// User bundle shadows the built-in.
	ops, err := p.Expand("gpu")
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 || ops[0].Value != "/dev/kfd" {
		t.Fatalf("gpu = %v", ops)
	}

	ops, err = p.Expand("project")
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 2 || ops[0].Kind != KindMount || ops[1].Kind != KindEnv {
		t.Fatalf("project = %v", ops)
	}
}

func TestApplyPresetOrder(t *testing.T) {
	var s Sequence
	s.Append(Op{Kind: KindMount, Value: "src=/first,dst=/first"})
	s.ApplyPreset("pair", []Op{
		{Kind: KindEnv, Value: "A=1"},
		{Kind: KindEnv, Value: "B=2"},
	})

	if s.Ops[1].Value != "A=1" || s.Ops[2].Value != "B=2" {
		t.Fatalf("expansion order not preserved: %v", s.Ops)
	}
}
