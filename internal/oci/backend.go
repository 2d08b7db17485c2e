package oci

import (
	"context"

	"github.com/boxkit/boxkit/internal/runconfig"
)

// Backend is the surface of the OCI build/run collaborator.
//
// The orchestrator never talks to containerd directly; everything goes
// through this interface so the driver and harness can be exercised against
// a spy in tests. [Runtime] is the containerd-backed implementation.
type Backend interface {

	// Starts a working container from the given base image reference.
	// The image is pulled when not present locally.
	Begin(ctx context.Context, baseImage, id string) (WorkingContainer, error)

	// Returns the labels of the named image, or [ErrImageNotFound].
	Inspect(ctx context.Context, imageName string) (map[string]string, error)

	// Finds the build record of the image produced for a definition name.
	// Returns the record and the image reference carrying it, or a nil
	// record when no such image exists.
	LookupRecord(ctx context.Context, defName string) (*BuildRecord, string, error)

	// Creates a container from an image, applying the merged runtime
	// configuration.
	CreateContainer(ctx context.Context, image, name string, cfg runconfig.Sequence) error

	// Starts a previously created container.
	StartContainer(ctx context.Context, name string) error

	// Stops a running container. Stopping a stopped container is not an
	// error.
	StopContainer(ctx context.Context, name string) error

	// Removes a container and its resources.
	RemoveContainer(ctx context.Context, name string) error

	// Reports whether a container with the given name exists.
	HasContainer(ctx context.Context, name string) (bool, error)
}

// WorkingContainer is the mutable, uncommitted image state produced by FROM
// and owned exclusively by one harness execution.
//
// After Commit or Destroy the handle is dead; further mutations fail.
type WorkingContainer interface {

	// Executes a shell command inside the container (RUN).
	Run(ctx context.Context, command string) error

	// Copies a host path into the container (ADD/COPY). Relative sources
	// resolve against the harness working directory.
	Add(ctx context.Context, src, dst string) error

	// Applies an image-config directive (CMD, LABEL, EXPOSE, ENV,
	// ENTRYPOINT, VOLUME, USER, WORKDIR). ENV and WORKDIR also affect
	// subsequent Run calls; the rest is staged until commit.
	Configure(ctx context.Context, directive string, args []string) error

	// Merges pending labels to be written on the committed image.
	SetLabels(labels map[string]string)

	// Finalizes the container into an image under the given name and
	// returns the image reference. The working container is destroyed.
	Commit(ctx context.Context, imageName string) (string, error)

	// Discards the working container and its resources.
	Destroy(ctx context.Context)
}
