package oci

import (
	"errors"
	"reflect"
	"testing"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/boxkit/boxkit/internal/runconfig"
)

func TestBuildRecordLabelsRoundTrip(t *testing.T) {
	var cfg runconfig.Sequence
	cfg.Append(runconfig.Op{Kind: runconfig.KindMount, Value: "src=/tmp,dst=/m"})
	cfg.Append(runconfig.Op{Kind: runconfig.KindEnv, Value: "DISPLAY=${DISPLAY}", Preset: "x11"})

	record := &BuildRecord{
		Path:   "/home/user/.config/box/dev.box",
		Hash:   digest.FromString("body"),
		Tree:   digest.FromString("tree"),
		Name:   "dev",
		Config: cfg,
	}

	labels, err := record.Labels()
	if err != nil {
		t.Fatalf("Labels() error = %v", err)
	}
	if labels[LabelManaged] != "true" {
		t.Fatal("managed marker missing")
	}
	if labels[LabelName] != "dev" {
		t.Fatalf("name label = %q, want %q", labels[LabelName], "dev")
	}

	parsed, ok := RecordFromLabels(labels)
	if !ok {
		t.Fatal("RecordFromLabels() rejected its own labels")
	}
	if !reflect.DeepEqual(parsed, record) {
		t.Fatalf("round trip = %+v, want %+v", parsed, record)
	}
}

func TestRecordFromLabelsUnmanaged(t *testing.T) {
	labels := map[string]string{
		LabelName: "dev",
		LabelTree: digest.FromString("tree").String(),
	}
	if _, ok := RecordFromLabels(labels); ok {
		t.Fatal("record produced for image without the managed marker")
	}
}

func TestRecordFromLabelsMangledConfig(t *testing.T) {
	labels := map[string]string{
		LabelManaged: "true",
		LabelName:    "dev",
		LabelConfig:  "{not json",
	}
	if _, ok := RecordFromLabels(labels); ok {
		t.Fatal("record produced despite mangled config label")
	}
}

func TestMergeEnv(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/root", "TERM=xterm"}
	overrides := []string{"HOME=/work", "LANG=C"}

	got := mergeEnv(base, overrides)
	want := []string{"PATH=/usr/bin", "HOME=/work", "TERM=xterm", "LANG=C"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mergeEnv() = %v, want %v", got, want)
	}
}

func TestApplyConfig(t *testing.T) {
	w := &working{
		entrypoint:    []string{"/init"},
		env:           map[string]string{"B": "2", "A": "1"},
		exposed:       []string{"8080/tcp"},
		volumes:       []string{"/data"},
		user:          "dev",
		workdir:       "/srv",
		pendingLabels: map[string]string{LabelManaged: "true"},
	}

	config := ocispec.Image{}
	config.Config.Env = []string{"A=0", "PATH=/bin"}
	config.Config.Cmd = []string{"/bin/sh"}

	w.applyConfig(&config)

	if !reflect.DeepEqual(config.Config.Entrypoint, []string{"/init"}) {
		t.Fatalf("entrypoint = %v", config.Config.Entrypoint)
	}
	// ENTRYPOINT without a CMD clears the inherited default.
	if config.Config.Cmd != nil {
		t.Fatalf("cmd = %v, want nil", config.Config.Cmd)
	}
	wantEnv := []string{"A=1", "PATH=/bin", "B=2"}
	if !reflect.DeepEqual(config.Config.Env, wantEnv) {
		t.Fatalf("env = %v, want %v", config.Config.Env, wantEnv)
	}
	if config.Config.User != "dev" || config.Config.WorkingDir != "/srv" {
		t.Fatalf("user/workdir = %q/%q", config.Config.User, config.Config.WorkingDir)
	}
	if _, ok := config.Config.ExposedPorts["8080/tcp"]; !ok {
		t.Fatal("exposed port missing")
	}
	if _, ok := config.Config.Volumes["/data"]; !ok {
		t.Fatal("volume missing")
	}
	if config.Config.Labels[LabelManaged] != "true" {
		t.Fatal("label missing")
	}
}

func TestConfigureExposeNormalizesPorts(t *testing.T) {
	w := &working{}

	if err := w.Configure(t.Context(), "EXPOSE", []string{"80", "8125/udp", "443"}); err != nil {
		t.Fatalf("Configure(EXPOSE) error = %v", err)
	}

	want := []string{"80/tcp", "8125/udp", "443/tcp"}
	if !reflect.DeepEqual(w.exposed, want) {
		t.Fatalf("exposed = %v, want %v", w.exposed, want)
	}
}

func TestTranslateSequence(t *testing.T) {
	var cfg runconfig.Sequence
	cfg.Append(runconfig.Op{Kind: runconfig.KindMount, Value: "src=/tmp,dst=/m,ro"})
	cfg.Append(runconfig.Op{Kind: runconfig.KindDevice, Value: "/dev/dri"})
	cfg.Append(runconfig.Op{Kind: runconfig.KindEnv, Value: "TERM=xterm"})
	cfg.Append(runconfig.Op{Kind: runconfig.KindArg, Value: "privileged"})

	opts, err := translateSequence(cfg)
	if err != nil {
		t.Fatalf("translateSequence() error = %v", err)
	}
	// mount + device + arg + one batched env option.
	if len(opts) != 4 {
		t.Fatalf("len(opts) = %d, want 4", len(opts))
	}
}

func TestTranslateArg(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"privileged", false},
		{"host-network", false},
		{"hostname=devbox", false},
		{"user=1000:1000", false},
		{"hostname", true},
		{"user", true},
		{"rootful", true},
	}

	for _, tt := range tests {
		_, err := translateArg(tt.value)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownOption) {
				t.Fatalf("translateArg(%q) error = %v, want ErrUnknownOption", tt.value, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("translateArg(%q) error = %v", tt.value, err)
		}
	}
}

func TestManifestGCLabels(t *testing.T) {
	m := ocispec.Manifest{
		Config: ocispec.Descriptor{Digest: digest.FromString("config")},
		Layers: []ocispec.Descriptor{
			{Digest: digest.FromString("layer0")},
			{Digest: digest.FromString("layer1")},
		},
	}

	labels := manifestGCLabels(m)
	if labels["containerd.io/gc.ref.content.config"] != m.Config.Digest.String() {
		t.Fatal("config label mismatch")
	}
	if labels["containerd.io/gc.ref.content.l.0"] != m.Layers[0].Digest.String() {
		t.Fatal("layer 0 label mismatch")
	}
	if labels["containerd.io/gc.ref.content.l.1"] != m.Layers[1].Digest.String() {
		t.Fatal("layer 1 label mismatch")
	}
	if len(labels) != 3 {
		t.Fatalf("len(labels) = %d, want 3", len(labels))
	}
}

func TestIndexGCLabels(t *testing.T) {
	idx := ocispec.Index{
		Manifests: []ocispec.Descriptor{
			{Digest: digest.FromString("manifest")},
		},
	}

	labels := indexGCLabels(idx)
	if labels["containerd.io/gc.ref.content.m.0"] != idx.Manifests[0].Digest.String() {
		t.Fatal("manifest label mismatch")
	}
}

func TestWorkingDeadAfterDestroy(t *testing.T) {
	w := &working{dead: true}

	if err := w.Run(t.Context(), "true"); !errors.Is(err, ErrCommitted) {
		t.Fatalf("Run on dead handle error = %v, want ErrCommitted", err)
	}
	if err := w.Configure(t.Context(), "CMD", []string{"sh"}); !errors.Is(err, ErrCommitted) {
		t.Fatalf("Configure on dead handle error = %v, want ErrCommitted", err)
	}
	if err := w.Add(t.Context(), "src", "dst"); !errors.Is(err, ErrCommitted) {
		t.Fatalf("Add on dead handle error = %v, want ErrCommitted", err)
	}
	if _, err := w.Commit(t.Context(), "img"); !errors.Is(err, ErrCommitted) {
		t.Fatalf("Commit on dead handle error = %v, want ErrCommitted", err)
	}
}
