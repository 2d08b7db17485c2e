package oci

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// The in-progress build container behind a FROM directive.
//
// Exclusively owned by one harness execution; never shared. The handle is
// dead after Commit or Destroy.
type working struct {
	client   *containerd.Client
	id       string
	platform string
	image    containerd.Image // Base image the container was created from.
	dead     bool

	// Staged image-config state, applied to the committed image config.
	pendingLabels map[string]string
	entrypoint    []string
	cmd           []string
	env           map[string]string
	exposed       []string
	volumes       []string
	user          string
	workdir       string
}

var _ WorkingContainer = (*working)(nil)

// Executes a shell command inside the container.
//
// The command runs under "sh -c" with the staged ENV and WORKDIR applied.
// A non-zero exit is an error carrying the captured stderr.
func (w *working) Run(ctx context.Context, command string) error {
	if w.dead {
		return ErrCommitted
	}

	exitCode, stderr, err := w.execCommand(ctx, nil, nil, "/bin/sh", "-c", command)
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: command failed with exit code %d: %s", ErrBackend, exitCode, strings.TrimSpace(stderr))
	}
	return nil
}

// Applies an image-config directive.
func (w *working) Configure(ctx context.Context, directive string, args []string) error {
	if w.dead {
		return ErrCommitted
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: %s needs arguments", ErrBackend, directive)
	}

	switch directive {
	case "CMD":
		w.cmd = args
	case "ENTRYPOINT":
		w.entrypoint = args
	case "ENV":
		k, v, ok := strings.Cut(args[0], "=")
		if !ok {
			if len(args) < 2 {
				return fmt.Errorf("%w: ENV needs KEY=VALUE", ErrBackend)
			}
			k, v = args[0], strings.Join(args[1:], " ")
		}
		w.env[k] = v
	case "LABEL":
		k, v, ok := strings.Cut(strings.Join(args, " "), "=")
		if !ok {
			return fmt.Errorf("%w: LABEL needs key=value", ErrBackend)
		}
		w.SetLabels(map[string]string{k: v})
	case "EXPOSE":
		for _, port := range args {
			w.exposed = append(w.exposed, normalizePort(port))
		}
	case "VOLUME":
		w.volumes = append(w.volumes, args...)
	case "USER":
		w.user = args[0]
	case "WORKDIR":
		w.workdir = args[0]
		return w.mkdirAll(ctx, w.workdir)
	default:
		return fmt.Errorf("%w: unsupported directive %q", ErrBackend, directive)
	}

	return nil
}

// Normalizes an exposed port to the image-spec "port/proto" form.
// Bare numeric ports default to tcp.
func normalizePort(port string) string {
	if strings.Contains(port, "/") {
		return port
	}
	return port + "/tcp"
}

// Merges pending labels to be written on the committed image.
func (w *working) SetLabels(labels map[string]string) {
	if w.pendingLabels == nil {
		w.pendingLabels = map[string]string{}
	}
	for k, v := range labels {
		w.pendingLabels[k] = v
	}
}

// Removes the container and its resources.
//
// Called on both failure (the container is discarded, never committed) and
// after a successful commit. Errors are logged, not returned; destruction
// is best-effort cleanup.
func (w *working) Destroy(ctx context.Context) {
	w.dead = true

	ctr, err := w.client.LoadContainer(ctx, w.id)
	if err != nil {
		return
	}

	if task, err := ctr.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL)
		task.Delete(ctx, containerd.WithProcessKill)
	}

	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		slog.Warn("failed to delete working container", "id", w.id, "error", err)
	}
}

// Creates the containerd container with the standard build configuration.
func (w *working) create(ctx context.Context) (containerd.Container, error) {
	return w.client.NewContainer(ctx, w.id,
		containerd.WithImage(w.image),
		containerd.WithSnapshotter(snapshotter),
		containerd.WithNewSnapshot(w.id, w.image),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(
			oci.WithDefaultSpecForPlatform(w.platform),
			oci.WithImageConfig(w.image),
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostResolvconf,
			oci.WithProcessArgs("sleep", "infinity"),
		),
	)
}

// Starts the container's long-running task with no attached IO.
func (w *working) startTask(ctx context.Context, ctr containerd.Container) error {
	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return err
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return err
	}
	return nil
}

// Removes a leftover container with this ID from a previous build, if any.
func (w *working) removeStale(ctx context.Context) {
	existing, err := w.client.LoadContainer(ctx, w.id)
	if err != nil {
		return
	}
	if task, err := existing.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL)
		task.Delete(ctx, containerd.WithProcessKill)
	}
	existing.Delete(ctx, containerd.WithSnapshotCleanup)
}

// Creates a directory inside the container, including parents.
func (w *working) mkdirAll(ctx context.Context, path string) error {
	return w.mustExec(ctx, "mkdir", nil, nil, "mkdir", "-p", path)
}

// Formats the staged environment as "key=value" pairs in key order.
func (w *working) environ() []string {
	keys := make([]string, 0, len(w.env))
	for k := range w.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+w.env[k])
	}
	return env
}
