package graph

import (
	"strings"

	"github.com/opencontainers/go-digest"
)

// Chained digest over a definition and all of its transitive dependencies.
//
// Changing any ancestor's content changes the tree hash of every descendant,
// which is what makes it usable as a cache key.
type TreeHash = digest.Digest

// Computes tree hashes for every node.
//
// The order must be topological: a node's dependencies carry their final
// tree hash before the node itself is processed. Each hash covers the
// node's own content digest followed by the tree hashes of its direct
// dependencies in declaration order, newline-delimited.
func computeTreeHashes(order []*Node, nodes map[string]*Node) {
	for _, n := range order {
		var b strings.Builder
		b.WriteString(n.Def.Hash.String())
		b.WriteString("\n")

		for _, dep := range n.Def.DependsOn() {
			b.WriteString(nodes[dep].Tree.String())
			b.WriteString("\n")
		}

		n.Tree = digest.FromString(b.String())
	}
}
