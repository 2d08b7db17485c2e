// Package graph builds and orders the definition dependency DAG.
//
// Construction resolves the transitive closure of the requested
// definitions, rejects unknown dependencies and cycles before any build
// subprocess can start, and produces a deterministic topological build
// order (ties broken by definition name). Tree hashes are computed during
// construction: each node's hash chains its own content digest with the
// tree hashes of its direct dependencies, forming a Merkle chain over the
// DAG that serves as the build cache key.
package graph
