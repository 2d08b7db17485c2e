// Package oci drives container images and containers through containerd.
//
// [Backend] is the surface the build pipeline and the run commands depend
// on; [Runtime] is its containerd implementation. A build begins a
// [WorkingContainer] from a base image, mutates it with RUN, ADD, and
// image-config directives, and commits the result as a new image whose
// labels carry the [BuildRecord]. Committed images are later queried by
// definition name to decide whether a rebuild is needed, and instantiated
// as persistent containers with their accumulated runtime configuration
// applied.
//
// Everything is scoped to one containerd namespace so boxkit's images and
// containers never collide with other tenants of the same daemon.
package oci
