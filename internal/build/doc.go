// Package build drives build and up passes over the definition store.
//
// A build pass orders the requested definitions and their transitive
// dependencies topologically, skips every node whose stored tree digest
// still matches, and runs the harness for the rest. Because the tree
// digest chains through dependencies, editing a base definition makes
// every transitive dependent stale on the next pass without touching
// their files. With jobs above one, independent nodes build concurrently
// while commits racing for the same image name stay serialized.
package build
