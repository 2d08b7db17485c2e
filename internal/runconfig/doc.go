// Package runconfig models the runtime configuration accumulated during a
// build and inherited across the dependency chain.
//
// A [Sequence] is an append-only log of operations (mounts, devices,
// environment variables, named run options). When a definition builds FROM
// another definition's image, the parent's stored sequence becomes the
// child's inherited prefix, so ancestor configuration applies first and the
// most specific entries come last. Sequences are serialized into an image
// label at commit time and read back by dependents and by the run driver.
package runconfig
