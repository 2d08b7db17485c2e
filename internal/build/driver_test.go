package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/boxkit/boxkit/internal/definition"
	"github.com/boxkit/boxkit/internal/graph"
	"github.com/boxkit/boxkit/internal/harness"
	"github.com/boxkit/boxkit/internal/oci"
	"github.com/boxkit/boxkit/internal/runconfig"
)

// The harness preludes forward directives to "<executable> config ...".
// During tests the executable is the test binary itself, so re-dispatch
// those invocations to the relay before the test runner sees the args.
func TestMain(m *testing.M) {
	if len(os.Args) > 1 && os.Args[1] == "config" {
		if err := harness.Relay(os.Args[2], os.Args[3:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// In-memory backend recording begins, commands, and committed images.
type spyBackend struct {
	mu         sync.Mutex
	begins     []string                     // Container IDs passed to Begin.
	commands   []string                     // Commands run across all containers.
	images     map[string]map[string]string // Image name -> labels.
	containers map[string]runconfig.Sequence
	started    []string
	removed    []string
}

func newSpyBackend() *spyBackend {
	return &spyBackend{
		images:     make(map[string]map[string]string),
		containers: make(map[string]runconfig.Sequence),
	}
}

func (s *spyBackend) Begin(ctx context.Context, baseImage, id string) (oci.WorkingContainer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins = append(s.begins, id)
	return &spyContainer{backend: s, labels: make(map[string]string)}, nil
}

func (s *spyBackend) Inspect(ctx context.Context, imageName string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	labels, ok := s.images[imageName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", oci.ErrImageNotFound, imageName)
	}
	return labels, nil
}

func (s *spyBackend) LookupRecord(ctx context.Context, defName string) (*oci.BuildRecord, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, labels := range s.images {
		if labels[oci.LabelName] != defName {
			continue
		}
		if record, ok := oci.RecordFromLabels(labels); ok {
			return record, name, nil
		}
	}
	return nil, "", nil
}

func (s *spyBackend) CreateContainer(ctx context.Context, image, name string, cfg runconfig.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers[name] = cfg
	return nil
}

func (s *spyBackend) StartContainer(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, name)
	return nil
}

func (s *spyBackend) StopContainer(ctx context.Context, name string) error { return nil }

func (s *spyBackend) RemoveContainer(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, name)
	delete(s.containers, name)
	return nil
}

func (s *spyBackend) HasContainer(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.containers[name]
	return ok, nil
}

func (s *spyBackend) beginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.begins)
}

type spyContainer struct {
	backend *spyBackend
	labels  map[string]string
}

func (c *spyContainer) Run(ctx context.Context, command string) error {
	c.backend.mu.Lock()
	c.backend.commands = append(c.backend.commands, command)
	c.backend.mu.Unlock()
	if strings.Contains(command, "false") {
		return errors.New("command failed with exit code 1")
	}
	return nil
}

func (c *spyContainer) Add(ctx context.Context, src, dst string) error { return nil }

func (c *spyContainer) Configure(ctx context.Context, directive string, args []string) error {
	return nil
}

func (c *spyContainer) SetLabels(labels map[string]string) {
	for k, v := range labels {
		c.labels[k] = v
	}
}

func (c *spyContainer) Commit(ctx context.Context, imageName string) (string, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.backend.images[imageName] = c.labels
	return imageName, nil
}

func (c *spyContainer) Destroy(ctx context.Context) {}

func writeDef(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name+definition.Extension)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
}

func newTestDriver(dir string, backend oci.Backend) *Driver {
	return NewDriver(definition.OpenStore(dir), backend, nil)
}

func statusOf(results []Result, name string) Status {
	for _, r := range results {
		if r.Name == name {
			return r.Status
		}
	}
	return ""
}

const baseDef = `#!/bin/sh
FROM docker.io/library/alpine:latest
RUN apk add git
CFG mount src=/tmp,dst=/m
COMMIT boxkit/base
`

const appDef = `#!/bin/sh
#~ depends_on: [base]
FROM boxkit/base
CFG env APP=1
COMMIT boxkit/app
`

func TestBuildOrderAndStoredConfig(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "base", baseDef)
	writeDef(t, dir, "app", appDef)

	backend := newSpyBackend()
	d := newTestDriver(dir, backend)

	results, err := d.Build(t.Context(), Options{All: true})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(results) != 2 || results[0].Name != "base" || results[1].Name != "app" {
		t.Fatalf("results = %+v", results)
	}
	for _, r := range results {
		if r.Status != StatusBuilt {
			t.Fatalf("%s status = %s, want built", r.Name, r.Status)
		}
	}

	// The dependent's stored config starts with the inherited prefix.
	record, _, err := backend.LookupRecord(t.Context(), "app")
	if err != nil || record == nil {
		t.Fatalf("LookupRecord(app) = %v, %v", record, err)
	}
	ops := record.Config.Ops
	if len(ops) != 2 {
		t.Fatalf("ops = %+v", ops)
	}
	if ops[0].Kind != runconfig.KindMount || ops[0].Value != "src=/tmp,dst=/m" {
		t.Fatalf("inherited op = %+v", ops[0])
	}
	if ops[1].Kind != runconfig.KindEnv || ops[1].Value != "APP=1" {
		t.Fatalf("own op = %+v", ops[1])
	}
}

func TestCacheHitSkipsExecution(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "base", baseDef)
	writeDef(t, dir, "app", appDef)

	backend := newSpyBackend()
	d := newTestDriver(dir, backend)

	if _, err := d.Build(t.Context(), Options{All: true}); err != nil {
		t.Fatalf("first Build() error = %v", err)
	}
	begins := backend.beginCount()

	results, err := d.Build(t.Context(), Options{All: true})
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	for _, r := range results {
		if r.Status != StatusSkipped {
			t.Fatalf("%s status = %s, want skipped", r.Name, r.Status)
		}
		if r.Image == "" {
			t.Fatalf("%s skipped without image reference", r.Name)
		}
	}
	if backend.beginCount() != begins {
		t.Fatal("cache hit still started a container")
	}
}

func TestBaseEditRebuildsDependents(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "base", baseDef)
	writeDef(t, dir, "app", appDef)

	backend := newSpyBackend()
	d := newTestDriver(dir, backend)
	if _, err := d.Build(t.Context(), Options{All: true}); err != nil {
		t.Fatal(err)
	}

	// Touching the base invalidates the dependent's chained digest even
	// though its own file is unchanged.
	writeDef(t, dir, "base", baseDef+"RUN apk add curl\n")

	results, err := d.Build(t.Context(), Options{All: true})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if statusOf(results, "base") != StatusBuilt {
		t.Fatal("edited base not rebuilt")
	}
	if statusOf(results, "app") != StatusBuilt {
		t.Fatal("dependent of edited base not rebuilt")
	}
}

func TestLeafEditRebuildsOnlyLeaf(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "base", baseDef)
	writeDef(t, dir, "app", appDef)

	backend := newSpyBackend()
	d := newTestDriver(dir, backend)
	if _, err := d.Build(t.Context(), Options{All: true}); err != nil {
		t.Fatal(err)
	}

	writeDef(t, dir, "app", appDef+"CFG env EXTRA=1\n")

	results, err := d.Build(t.Context(), Options{All: true})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if statusOf(results, "base") != StatusSkipped {
		t.Fatal("untouched base rebuilt")
	}
	if statusOf(results, "app") != StatusBuilt {
		t.Fatal("edited leaf not rebuilt")
	}
}

func TestForceIsNotTransitive(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "base", baseDef)
	writeDef(t, dir, "app", appDef)

	backend := newSpyBackend()
	d := newTestDriver(dir, backend)
	if _, err := d.Build(t.Context(), Options{All: true}); err != nil {
		t.Fatal(err)
	}

	results, err := d.Build(t.Context(), Options{Targets: []string{"app"}, Force: true})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if statusOf(results, "base") != StatusSkipped {
		t.Fatal("force rebuilt an unrequested dependency")
	}
	if statusOf(results, "app") != StatusBuilt {
		t.Fatal("forced target not rebuilt")
	}
}

func TestCycleRejectedBeforeAnySpawn(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "a", "#!/bin/sh\n#~ depends_on: [b]\nFROM x\nCOMMIT a\n")
	writeDef(t, dir, "b", "#!/bin/sh\n#~ depends_on: [a]\nFROM x\nCOMMIT b\n")

	backend := newSpyBackend()
	d := newTestDriver(dir, backend)

	_, err := d.Build(t.Context(), Options{All: true})
	if !errors.Is(err, graph.ErrCycle) {
		t.Fatalf("error = %v, want ErrCycle", err)
	}
	if backend.beginCount() != 0 {
		t.Fatal("cyclic graph had side effects")
	}
}

func TestUnknownDependencyRejected(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "a", "#!/bin/sh\n#~ depends_on: [ghost]\nFROM x\nCOMMIT a\n")

	backend := newSpyBackend()
	d := newTestDriver(dir, backend)

	_, err := d.Build(t.Context(), Options{All: true})
	if !errors.Is(err, graph.ErrUnknownDependency) {
		t.Fatalf("error = %v, want ErrUnknownDependency", err)
	}
	if backend.beginCount() != 0 {
		t.Fatal("unknown dependency had side effects")
	}
}

func TestFailureBlocksDependents(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "base", "#!/bin/sh\nFROM alpine\nRUN false\nCOMMIT boxkit/base\n")
	writeDef(t, dir, "app", appDef)

	backend := newSpyBackend()
	d := newTestDriver(dir, backend)

	results, err := d.Build(t.Context(), Options{All: true})
	if err == nil {
		t.Fatal("Build() succeeded despite failing RUN")
	}

	var failed *harness.BuildFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("error = %v, want BuildFailedError", err)
	}
	if failed.Definition != "base" || failed.Stage != "RUN" {
		t.Fatalf("failure = %q at %q", failed.Definition, failed.Stage)
	}

	if statusOf(results, "base") != StatusFailed {
		t.Fatalf("base status = %s", statusOf(results, "base"))
	}
	if statusOf(results, "app") != StatusBlocked {
		t.Fatalf("app status = %s", statusOf(results, "app"))
	}
	if _, _, err := backend.LookupRecord(t.Context(), "base"); err != nil {
		t.Fatal(err)
	}
	if record, _, _ := backend.LookupRecord(t.Context(), "base"); record != nil {
		t.Fatal("failed build left a committed record")
	}
}

func TestParallelBuildRespectsDependencies(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "base", baseDef)
	writeDef(t, dir, "left", "#!/bin/sh\n#~ depends_on: [base]\nFROM boxkit/base\nCOMMIT boxkit/left\n")
	writeDef(t, dir, "right", "#!/bin/sh\n#~ depends_on: [base]\nFROM boxkit/base\nCOMMIT boxkit/right\n")
	writeDef(t, dir, "top", "#!/bin/sh\n#~ depends_on: [left, right]\nFROM boxkit/left\nCOMMIT boxkit/top\n")

	backend := newSpyBackend()
	d := newTestDriver(dir, backend)

	results, err := d.Build(t.Context(), Options{All: true, Jobs: 4})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("len(results) = %d", len(results))
	}
	for _, r := range results {
		if r.Status != StatusBuilt {
			t.Fatalf("%s status = %s", r.Name, r.Status)
		}
	}

	// Begin order respects the dependency gates.
	backend.mu.Lock()
	begins := append([]string(nil), backend.begins...)
	backend.mu.Unlock()
	index := func(id string) int {
		for i, b := range begins {
			if b == id {
				return i
			}
		}
		return -1
	}
	if index("boxkit-build-base") > index("boxkit-build-left") ||
		index("boxkit-build-base") > index("boxkit-build-right") ||
		index("boxkit-build-left") > index("boxkit-build-top") ||
		index("boxkit-build-right") > index("boxkit-build-top") {
		t.Fatalf("begin order violates dependencies: %v", begins)
	}
}

func TestParallelFailureBlocksWaitingDependents(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "bad", "#!/bin/sh\nFROM alpine\nRUN false\nCOMMIT boxkit/bad\n")
	writeDef(t, dir, "slow", "#!/bin/sh\nFROM alpine\nsleep 5\nCOMMIT boxkit/slow\n")
	// child waits on slow first, so the failure of bad cancels it while it
	// is still parked on an in-flight dependency.
	writeDef(t, dir, "child", "#!/bin/sh\n#~ depends_on: [slow, bad]\nFROM boxkit/slow\nCOMMIT boxkit/child\n")

	backend := newSpyBackend()
	d := newTestDriver(dir, backend)

	results, err := d.Build(t.Context(), Options{All: true, Jobs: 4})
	if err == nil {
		t.Fatal("Build() error = nil, want failure")
	}

	if got := statusOf(results, "bad"); got != StatusFailed {
		t.Fatalf("bad status = %q, want %q", got, StatusFailed)
	}
	if got := statusOf(results, "child"); got != StatusBlocked {
		t.Fatalf("child status = %q, want %q", got, StatusBlocked)
	}
	if _, ok := backend.images["boxkit/child"]; ok {
		t.Fatal("child committed an image despite a failed dependency")
	}
}

func TestUp(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "base", baseDef)

	backend := newSpyBackend()
	d := newTestDriver(dir, backend)
	if _, err := d.Build(t.Context(), Options{All: true}); err != nil {
		t.Fatal(err)
	}

	results, err := d.Up(t.Context(), false)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if len(results) != 1 || results[0].Status != UpCreated {
		t.Fatalf("results = %+v", results)
	}

	cfg, ok := backend.containers["base"]
	if !ok {
		t.Fatal("container not created")
	}
	if len(cfg.Ops) != 1 || cfg.Ops[0].Value != "src=/tmp,dst=/m" {
		t.Fatalf("container config = %+v", cfg.Ops)
	}

	// A second pass leaves the existing container alone.
	results, err = d.Up(t.Context(), false)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Status != UpExisting {
		t.Fatalf("status = %s, want existing", results[0].Status)
	}

	// Replace removes and recreates it.
	results, err = d.Up(t.Context(), true)
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Status != UpCreated {
		t.Fatalf("status = %s, want created", results[0].Status)
	}
	if len(backend.removed) != 1 || backend.removed[0] != "base" {
		t.Fatalf("removed = %v", backend.removed)
	}
}

func TestUpWithoutImage(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "base", baseDef)

	d := newTestDriver(dir, newSpyBackend())
	results, err := d.Up(t.Context(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Status != UpNoImage {
		t.Fatalf("results = %+v", results)
	}
}

func TestBuildNoTargets(t *testing.T) {
	d := newTestDriver(t.TempDir(), newSpyBackend())
	if _, err := d.Build(t.Context(), Options{}); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("error = %v, want ErrNoTargets", err)
	}
}
