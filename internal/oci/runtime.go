package oci

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (

	// Default containerd socket address.
	DefaultAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace for images and containers.
	DefaultNamespace = "boxkit"

	// Snapshotter used for container filesystems. fuse-overlayfs provides
	// overlay semantics without requiring root privileges (no mount(2)),
	// allowing boxkit to run as a regular user.
	snapshotter = "fuse-overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Containerd-backed implementation of [Backend].
type Runtime struct {
	client *containerd.Client // Containerd client for managing containers and images.
}

var _ Backend = (*Runtime)(nil)

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations to a single tenant. The
// runtime must be closed when no longer needed.
func New(address, namespace string) (*Runtime, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return &Runtime{client: client}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Returns the OCI platform for the host architecture.
func hostPlatform() string {
	return "linux/" + goruntime.GOARCH
}

// Starts a working container from the given base image reference.
//
// The image is looked up locally first; a miss pulls it from its registry.
// Layers are unpacked into the snapshotter, a container is created with a
// fresh snapshot, and a long-running task (sleep infinity) is started so
// that subsequent mutations have a running process to attach to. Any stale
// container with the same ID from a previous build is removed first.
func (rt *Runtime) Begin(ctx context.Context, baseImage, id string) (WorkingContainer, error) {
	image, err := rt.resolveOrPull(ctx, baseImage)
	if err != nil {
		return nil, err
	}

	if err := image.Unpack(ctx, snapshotter); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	w := &working{
		client:   rt.client,
		id:       id,
		platform: hostPlatform(),
		image:    image,
		env:      map[string]string{},
	}

	w.removeStale(ctx)

	ctr, err := w.create(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	if err := w.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	slog.Debug("working container started", "id", id, "image", baseImage)
	return w, nil
}

// Looks up an image locally, pulling it when absent.
func (rt *Runtime) resolveOrPull(ctx context.Context, ref string) (containerd.Image, error) {
	image, err := rt.client.GetImage(ctx, ref)
	if err == nil {
		return image, nil
	}
	if !errdefs.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	slog.Info("pulling image", "ref", ref)

	p, err := platforms.Parse(hostPlatform())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	image, err = rt.client.Pull(ctx, ref,
		containerd.WithPlatformMatcher(platforms.Only(p)),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(snapshotter),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBackend, ref, err)
	}

	return image, nil
}

// Returns the labels of the named image.
func (rt *Runtime) Inspect(ctx context.Context, imageName string) (map[string]string, error) {
	img, err := rt.client.ImageService().Get(ctx, imageName)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrImageNotFound, imageName)
		}
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return img.Labels, nil
}

// Finds the build record for a definition name.
//
// Images produced by this system carry the definition name as a label;
// committing under a name replaces the previous record, so at most one
// image matches.
func (rt *Runtime) LookupRecord(ctx context.Context, defName string) (*BuildRecord, string, error) {
	filter := fmt.Sprintf(`labels."%s"==%s`, LabelName, defName)

	matches, err := rt.client.ImageService().List(ctx, filter)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrBackend, err)
	}

	for _, img := range matches {
		if record, ok := RecordFromLabels(img.Labels); ok {
			return record, img.Name, nil
		}
	}

	return nil, "", nil
}

// Registers an image record under the given name, replacing any previous
// record with that name.
func registerImage(ctx context.Context, client *containerd.Client, name string, target ocispec.Descriptor, labels map[string]string) error {
	is := client.ImageService()

	img := images.Image{
		Name:   name,
		Target: target,
		Labels: labels,
	}

	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target", "labels"); err != nil {
			return err
		}
	}

	return nil
}
