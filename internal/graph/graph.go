package graph

import (
	"container/heap"
	"errors"
	"log/slog"
	"sort"

	"github.com/boxkit/boxkit/internal/definition"
)

// A definition together with its chained tree hash.
type Node struct {
	Def  *definition.Definition
	Tree TreeHash // Computed during graph construction.
}

// An immutable, validated dependency DAG over a set of definitions.
//
// Edges point from dependency to dependent, so the topological order yields
// dependencies before the definitions that build from them. Construction
// fails before any build work starts when the graph contains a cycle or
// references an unknown definition.
type Graph struct {
	nodes map[string]*Node
	order []*Node // Topological order, ties broken by name.
}

// Resolves a definition name to a loaded definition.
type Resolver func(name string) (*definition.Definition, error)

// Builds the dependency graph covering the given definitions and everything
// they transitively depend on.
//
// Missing dependencies are fetched through resolve; a resolver miss becomes
// [UnknownDependencyError], while load failures of existing definitions pass
// through unchanged. Cycles are rejected with [CycleError] carrying a
// deterministic witness path. Tree hashes are computed for every node in
// topological order.
func Build(defs []*definition.Definition, resolve Resolver) (*Graph, error) {
	nodes, err := closure(defs, resolve)
	if err != nil {
		return nil, err
	}

	g := &Graph{nodes: nodes}

	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}
	g.order = order

	computeTreeHashes(order, nodes)

	slog.Debug("dependency graph built", "nodes", len(nodes))
	return g, nil
}

// Returns the build order: a deterministic topological order over all nodes.
func (g *Graph) Order() []*Node {
	return g.order
}

// Looks up a node by definition name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Names of the definitions that directly or transitively depend on name.
//
// Used to mark dependents of a failed build as blocked.
func (g *Graph) Dependents(name string) []string {
	reached := map[string]bool{}
	frontier := []string{name}

	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]

		for _, n := range g.nodes {
			if reached[n.Def.Name] {
				continue
			}
			for _, dep := range n.Def.DependsOn() {
				if dep == next {
					reached[n.Def.Name] = true
					frontier = append(frontier, n.Def.Name)
					break
				}
			}
		}
	}

	var out []string
	for n := range reached {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Resolves the transitive closure of the given definitions.
func closure(defs []*definition.Definition, resolve Resolver) (map[string]*Node, error) {
	nodes := make(map[string]*Node, len(defs))
	var frontier []*definition.Definition

	for _, def := range defs {
		if _, ok := nodes[def.Name]; ok {
			continue
		}
		nodes[def.Name] = &Node{Def: def}
		frontier = append(frontier, def)
	}

	for len(frontier) > 0 {
		def := frontier[0]
		frontier = frontier[1:]

		for _, dep := range def.DependsOn() {
			if _, ok := nodes[dep]; ok {
				continue
			}

			resolved, err := resolve(dep)
			if errors.Is(err, definition.ErrNotFound) {
				return nil, &UnknownDependencyError{Name: dep, RequiredBy: def.Name}
			}
			if err != nil {
				// The dependency exists but failed to load; keep the
				// load error instead of calling the name unknown.
				return nil, err
			}

			nodes[dep] = &Node{Def: resolved}
			frontier = append(frontier, resolved)
		}
	}

	return nodes, nil
}

// Min-heap of definition names, used as the deterministic ready queue for
// the topological sort.
type nameHeap []string

func (h nameHeap) Len() int            { return len(h) }
func (h nameHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h nameHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nameHeap) Push(x any)         { *h = append(*h, x.(string)) }
func (h *nameHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Computes a deterministic topological order using Kahn's algorithm.
//
// The ready queue is a min-heap over names, so equal-depth nodes always
// come out in lexicographic order regardless of map iteration.
func (g *Graph) topoOrder() ([]*Node, error) {
	indeg := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))

	for name, n := range g.nodes {
		indeg[name] += 0
		for _, dep := range n.Def.DependsOn() {
			indeg[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	ready := &nameHeap{}
	heap.Init(ready)
	for name, d := range indeg {
		if d == 0 {
			heap.Push(ready, name)
		}
	}

	order := make([]*Node, 0, len(g.nodes))
	for ready.Len() > 0 {
		name := heap.Pop(ready).(string)
		order = append(order, g.nodes[name])
		for _, dependent := range dependents[name] {
			indeg[dependent]--
			if indeg[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, &CycleError{Path: g.findCycle()}
	}

	return order, nil
}

// Extracts one deterministic cycle path for error reporting.
//
// DFS over names in sorted order; the first back edge found closes the
// witness cycle.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)

	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		stack = append(stack, name)

		deps := append([]string(nil), g.nodes[name].Def.DependsOn()...)
		sort.Strings(deps)

		for _, dep := range deps {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			switch color[dep] {
			case gray:
				// Back edge: slice the stack from the first occurrence.
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}

	for _, name := range names {
		if color[name] == white && visit(name) {
			break
		}
	}

	return cycle
}
