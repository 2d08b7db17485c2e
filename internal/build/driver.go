package build

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/boxkit/boxkit/internal/definition"
	"github.com/boxkit/boxkit/internal/graph"
	"github.com/boxkit/boxkit/internal/harness"
	"github.com/boxkit/boxkit/internal/oci"
	"github.com/boxkit/boxkit/internal/runconfig"
)

// Outcome of one definition within a build pass.
type Status string

const (
	StatusBuilt   Status = "built"   // Harness ran and committed an image.
	StatusSkipped Status = "skipped" // Cache hit; existing image kept.
	StatusFailed  Status = "failed"  // Harness or backend error.
	StatusBlocked Status = "blocked" // A dependency failed; not attempted.
)

// Per-definition outcome of a build pass.
type Result struct {
	Name   string
	Status Status
	Image  string // Image reference backing the definition, when known.
	Err    error  // Set for StatusFailed.
}

// Build pass parameters.
type Options struct {
	Targets []string // Requested definition names.
	All     bool     // Build every known definition.
	Force   bool     // Rebuild the requested targets regardless of cache state.
	Jobs    int      // Concurrent builds; values below 2 run serially.
}

// Coordinates builds across the definition store and the container backend.
type Driver struct {
	store   *definition.Store
	backend oci.Backend
	presets *runconfig.Presets
	commits commitLocks
}

// Creates a driver over a store and a backend.
func NewDriver(store *definition.Store, backend oci.Backend, presets *runconfig.Presets) *Driver {
	if presets == nil {
		presets = runconfig.BuiltinPresets()
	}
	return &Driver{store: store, backend: backend, presets: presets}
}

// Runs a build pass.
//
// The requested targets and their transitive dependencies are ordered
// topologically; graph errors (cycles, unknown dependencies) surface here,
// before any subprocess is spawned. Each node is then either skipped on a
// cache hit or built through the harness. The first failure stops the
// pass; transitive dependents of the failed node report StatusBlocked.
func (d *Driver) Build(ctx context.Context, opts Options) ([]Result, error) {
	defs, err := d.resolveTargets(opts)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(defs, d.store.Resolve)
	if err != nil {
		return nil, err
	}

	forced := make(map[string]bool)
	if opts.Force {
		for _, name := range opts.Targets {
			forced[name] = true
		}
		if opts.All {
			for _, node := range g.Order() {
				forced[node.Def.Name] = true
			}
		}
	}

	if opts.Jobs > 1 {
		return d.buildParallel(ctx, g, forced, opts.Jobs)
	}
	return d.buildSerial(ctx, g, forced)
}

// Resolves the requested target set to definitions.
func (d *Driver) resolveTargets(opts Options) ([]*definition.Definition, error) {
	if opts.All {
		return d.store.List()
	}
	if len(opts.Targets) == 0 {
		return nil, ErrNoTargets
	}

	defs := make([]*definition.Definition, 0, len(opts.Targets))
	for _, name := range opts.Targets {
		def, err := d.store.Resolve(name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Builds nodes one at a time in topological order.
func (d *Driver) buildSerial(ctx context.Context, g *graph.Graph, forced map[string]bool) ([]Result, error) {
	results := make([]Result, 0, len(g.Order()))

	for i, node := range g.Order() {
		result := d.buildNode(ctx, node, forced[node.Def.Name])
		results = append(results, result)

		if result.Status == StatusFailed {
			// Report the dependents that will not be attempted, then stop.
			blocked := make(map[string]bool)
			for _, dep := range g.Dependents(node.Def.Name) {
				blocked[dep] = true
			}
			for _, later := range g.Order()[i+1:] {
				if blocked[later.Def.Name] {
					results = append(results, Result{Name: later.Def.Name, Status: StatusBlocked})
				}
			}
			return results, result.Err
		}
	}

	return results, nil
}

// Builds independent nodes concurrently, bounded by jobs.
//
// Every node gets a goroutine that first waits for its dependencies; the
// semaphore bounds only the executing builds, so waiting costs nothing.
// The first failure cancels the group, and nodes downstream of the failure
// report StatusBlocked.
func (d *Driver) buildParallel(ctx context.Context, g *graph.Graph, forced map[string]bool, jobs int) ([]Result, error) {
	eg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, jobs)

	var mu sync.Mutex
	outcomes := make(map[string]Result)
	done := make(map[string]chan struct{}, len(g.Order()))
	for _, node := range g.Order() {
		done[node.Def.Name] = make(chan struct{})
	}

	for _, node := range g.Order() {
		eg.Go(func() error {
			name := node.Def.Name
			defer close(done[name])

			for _, dep := range node.Def.DependsOn() {
				select {
				case <-done[dep]:
				case <-ctx.Done():
					return nil
				}
			}

			mu.Lock()
			ready := true
			for _, dep := range node.Def.DependsOn() {
				if r, ok := outcomes[dep]; !ok || r.Status == StatusFailed || r.Status == StatusBlocked {
					ready = false
				}
			}
			if !ready {
				outcomes[name] = Result{Name: name, Status: StatusBlocked}
			}
			mu.Unlock()
			if !ready {
				return nil
			}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return nil
			}

			result := d.buildNode(ctx, node, forced[name])

			mu.Lock()
			outcomes[name] = result
			mu.Unlock()

			if result.Status == StatusFailed {
				return result.Err
			}
			return nil
		})
	}

	err := eg.Wait()

	// A node waiting on a still-running dependency exits through the
	// cancelled context without an outcome; its failed ancestor still
	// makes it blocked.
	blocked := make(map[string]bool)
	for name, r := range outcomes {
		if r.Status == StatusFailed {
			for _, dep := range g.Dependents(name) {
				blocked[dep] = true
			}
		}
	}
	for _, node := range g.Order() {
		name := node.Def.Name
		if _, ok := outcomes[name]; !ok && blocked[name] {
			outcomes[name] = Result{Name: name, Status: StatusBlocked}
		}
	}

	results := make([]Result, 0, len(g.Order()))
	for _, node := range g.Order() {
		if r, ok := outcomes[node.Def.Name]; ok {
			results = append(results, r)
		}
	}
	return results, err
}

// Builds or skips a single node.
func (d *Driver) buildNode(ctx context.Context, node *graph.Node, forced bool) Result {
	name := node.Def.Name

	if !forced {
		record, imageRef, err := d.backend.LookupRecord(ctx, name)
		if err != nil {
			return Result{Name: name, Status: StatusFailed, Err: err}
		}
		if record != nil && record.Tree == node.Tree {
			slog.Debug("cache hit", "definition", name, "image", imageRef, "tree", node.Tree)
			return Result{Name: name, Status: StatusSkipped, Image: imageRef}
		}
	}

	slog.Info("building", "definition", name, "forced", forced)

	exec := &harness.Execution{
		Backend: d.backend,
		Def:     node.Def,
		Tree:    node.Tree,
		Presets: d.presets,
		Gate:    d.commits.gate,
	}

	images, err := exec.Run(ctx)
	if err != nil {
		return Result{Name: name, Status: StatusFailed, Err: err}
	}

	result := Result{Name: name, Status: StatusBuilt}
	if len(images) > 0 {
		result.Image = images[len(images)-1]
	}
	return result
}

// Mutexes keyed by image name, serializing commits that race for the same
// name under parallel builds.
type commitLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (c *commitLocks) gate(imageName string, commit func() error) error {
	c.mu.Lock()
	if c.locks == nil {
		c.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := c.locks[imageName]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[imageName] = lock
	}
	c.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return commit()
}
