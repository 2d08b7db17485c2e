package oci

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Commits the container's filesystem changes as a new image under the given
// name.
//
// The diff between the container's snapshot and its parent is stored as a
// new layer, the staged image-config state (ENTRYPOINT, CMD, ENV, and so on)
// is applied on top of the base image's config, and the result is registered
// in containerd's image store with the build-record labels attached. The base
// image record is never modified. The mutated manifest and config are written
// to the content store under a lease so containerd's garbage collector cannot
// reap them mid-commit. The handle is dead afterwards.
func (w *working) Commit(ctx context.Context, imageName string) (string, error) {
	if w.dead {
		return "", ErrCommitted
	}

	loaded, err := w.client.LoadContainer(ctx, w.id)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}

	info, err := loaded.Info(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}

	layer, diffID, err := w.snapshotDiff(ctx, info)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}

	ctx, done, err := w.client.WithLease(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}
	defer done(context.Background())

	target, err := w.buildCommitTarget(ctx, imageName, func(manifest *ocispec.Manifest, config *ocispec.Image) {
		manifest.Layers = append(manifest.Layers, layer)
		config.RootFS.DiffIDs = append(config.RootFS.DiffIDs, diffID)
		w.applyConfig(config)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}

	if err := registerImage(ctx, w.client, imageName, target, w.pendingLabels); err != nil {
		return "", fmt.Errorf("%w: %w", ErrBackend, err)
	}

	slog.Info("image committed", "image", imageName, "digest", target.Digest)

	w.Destroy(ctx)
	return imageName, nil
}

// Applies the staged directive state to an image config.
func (w *working) applyConfig(config *ocispec.Image) {
	if len(w.entrypoint) > 0 {
		config.Config.Entrypoint = w.entrypoint
		config.Config.Cmd = nil
	}
	if len(w.cmd) > 0 {
		config.Config.Cmd = w.cmd
	}
	if len(w.env) > 0 {
		config.Config.Env = mergeEnv(config.Config.Env, w.environ())
	}
	if w.user != "" {
		config.Config.User = w.user
	}
	if w.workdir != "" {
		config.Config.WorkingDir = w.workdir
	}
	for _, port := range w.exposed {
		if config.Config.ExposedPorts == nil {
			config.Config.ExposedPorts = make(map[string]struct{})
		}
		config.Config.ExposedPorts[port] = struct{}{}
	}
	for _, vol := range w.volumes {
		if config.Config.Volumes == nil {
			config.Config.Volumes = make(map[string]struct{})
		}
		config.Config.Volumes[vol] = struct{}{}
	}
	for k, v := range w.pendingLabels {
		if config.Config.Labels == nil {
			config.Config.Labels = make(map[string]string)
		}
		config.Config.Labels[k] = v
	}
}

// Computes the diff between the container's snapshot and its parent, returning
// the layer descriptor and its diff ID without modifying the base image.
func (w *working) snapshotDiff(ctx context.Context, info containers.Container) (ocispec.Descriptor, digest.Digest, error) {
	layer, err := rootfs.CreateDiff(ctx,
		info.SnapshotKey,
		w.client.SnapshotService(info.Snapshotter),
		w.client.DiffService(),
	)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	diffID, err := images.GetDiffID(ctx, w.client.ContentStore(), layer)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	return layer, diffID, nil
}

// Builds the committed image's target descriptor by applying a mutation to
// the base image's manifest and config.
//
// The mutated manifest, config, and (when the base's root is an index) a new
// single-entry index are written to the content store as fresh blobs. The
// base image record is left untouched, so rebuilding from the same base
// always starts clean.
func (w *working) buildCommitTarget(ctx context.Context, imageName string, mutate func(*ocispec.Manifest, *ocispec.Image)) (ocispec.Descriptor, error) {
	root := w.image.Target()

	target, index, err := w.resolveManifestDescriptor(ctx, root)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	newManifestDesc, err := w.mutateManifest(ctx, target, imageName, mutate)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	if index == nil {
		return newManifestDesc, nil
	}

	// Entries for other platforms are dropped: their layer blobs were never
	// fetched, so a multi-entry index would dangle.
	index.Manifests = []ocispec.Descriptor{newManifestDesc}
	return w.writeBlob(ctx, root.MediaType, index, imageName+"-index", content.WithLabels(indexGCLabels(*index)))
}

// Resolves the base image's root descriptor to a platform-specific manifest.
//
// If the root is an OCI Image Index, the index is read and walked to find the
// manifest matching the container's platform. Returns the manifest descriptor
// and the index (nil when the root is already a manifest).
//
// Some registries serve index entries without explicit platform metadata.
// When a descriptor lacks a platform field, the manifest and its config are
// read to extract the platform from the image config, the same fallback that
// containerd's images.Manifest uses internally.
func (w *working) resolveManifestDescriptor(ctx context.Context, root ocispec.Descriptor) (ocispec.Descriptor, *ocispec.Index, error) {
	if !images.IsIndexType(root.MediaType) {
		return root, nil, nil
	}

	idx, err := w.readIndex(ctx, root)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	p, err := platforms.Parse(w.platform)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	if i, ok := w.matchManifest(ctx, idx, platforms.OnlyStrict(p)); ok {
		return idx.Manifests[i], &idx, nil
	}

	if len(idx.Manifests) == 0 {
		return ocispec.Descriptor{}, nil, fmt.Errorf("%w: image index has no manifests", ErrBackend)
	}
	return idx.Manifests[0], &idx, nil
}

// Searches the index for a manifest matching the given platform.
//
// Descriptors with an explicit platform field are checked first. If none
// match, descriptors without a platform field are probed by reading the
// image config to discover the platform. Returns the index position and
// true when a match is found.
func (w *working) matchManifest(ctx context.Context, idx ocispec.Index, matcher platforms.MatchComparer) (int, bool) {
	for i, m := range idx.Manifests {
		if m.Platform != nil && matcher.Match(*m.Platform) {
			return i, true
		}
	}
	for i, m := range idx.Manifests {
		if m.Platform != nil || !images.IsManifestType(m.MediaType) {
			continue
		}
		if p, ok := w.configPlatform(ctx, m); ok && matcher.Match(p) {
			return i, true
		}
	}
	return 0, false
}

// Reads the image config referenced by a manifest descriptor and returns the
// platform declared in the config.
//
// Returns false when the config cannot be read.
func (w *working) configPlatform(ctx context.Context, desc ocispec.Descriptor) (ocispec.Platform, bool) {
	manifest, err := w.readManifest(ctx, desc)
	if err != nil {
		return ocispec.Platform{}, false
	}
	config, err := w.readConfig(ctx, manifest.Config)
	if err != nil {
		return ocispec.Platform{}, false
	}
	return ocispec.Platform{
		OS:           config.OS,
		Architecture: config.Architecture,
		Variant:      config.Variant,
	}, true
}

// Reads the manifest and config, applies the mutation, and writes the updated
// blobs back to the content store.
func (w *working) mutateManifest(ctx context.Context, target ocispec.Descriptor, imageName string, mutate func(*ocispec.Manifest, *ocispec.Image)) (ocispec.Descriptor, error) {
	manifest, err := w.readManifest(ctx, target)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	config, err := w.readConfig(ctx, manifest.Config)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	mutate(&manifest, &config)

	newConfigDesc, err := w.writeBlob(ctx, manifest.Config.MediaType, config, imageName+"-config")
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	manifest.Config = newConfigDesc

	return w.writeBlob(ctx, target.MediaType, manifest, imageName+"-manifest", content.WithLabels(manifestGCLabels(manifest)))
}

// Loads an OCI manifest from the content store.
func (w *working) readManifest(ctx context.Context, desc ocispec.Descriptor) (ocispec.Manifest, error) {
	b, err := content.ReadBlob(ctx, w.client.ContentStore(), desc)
	if err != nil {
		return ocispec.Manifest{}, err
	}
	var m ocispec.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return ocispec.Manifest{}, err
	}
	return m, nil
}

// Loads an OCI image index from the content store.
func (w *working) readIndex(ctx context.Context, desc ocispec.Descriptor) (ocispec.Index, error) {
	b, err := content.ReadBlob(ctx, w.client.ContentStore(), desc)
	if err != nil {
		return ocispec.Index{}, err
	}
	var idx ocispec.Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return ocispec.Index{}, err
	}
	return idx, nil
}

// Loads an OCI image config from the content store.
func (w *working) readConfig(ctx context.Context, desc ocispec.Descriptor) (ocispec.Image, error) {
	b, err := content.ReadBlob(ctx, w.client.ContentStore(), desc)
	if err != nil {
		return ocispec.Image{}, err
	}
	var img ocispec.Image
	if err := json.Unmarshal(b, &img); err != nil {
		return ocispec.Image{}, err
	}
	return img, nil
}

// Serializes a value and writes it to the content store, returning the
// descriptor that references the stored blob.
func (w *working) writeBlob(ctx context.Context, mediaType string, v any, ref string, opts ...content.Opt) (ocispec.Descriptor, error) {
	cs := w.client.ContentStore()
	b, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}
	if err := content.WriteBlob(ctx, cs, ref, bytes.NewReader(b), desc, opts...); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// Computes containerd GC reference labels for a manifest's children.
//
// These labels let containerd's garbage collector trace reachability from
// the manifest blob to its config and layer blobs.
func manifestGCLabels(m ocispec.Manifest) map[string]string {
	labels := map[string]string{
		"containerd.io/gc.ref.content.config": m.Config.Digest.String(),
	}
	for i, layer := range m.Layers {
		key := fmt.Sprintf("containerd.io/gc.ref.content.l.%d", i)
		labels[key] = layer.Digest.String()
	}
	return labels
}

// Computes containerd GC reference labels for an index's children.
func indexGCLabels(idx ocispec.Index) map[string]string {
	labels := make(map[string]string, len(idx.Manifests))
	for i, m := range idx.Manifests {
		key := fmt.Sprintf("containerd.io/gc.ref.content.m.%d", i)
		labels[key] = m.Digest.String()
	}
	return labels
}
