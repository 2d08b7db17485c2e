package oci

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/boxkit/boxkit/internal/runconfig"
)

// Creates a persistent container from a built image, applying the image's
// accumulated runtime configuration.
//
// The container is created stopped; StartContainer launches it. ${VAR}
// references in mount, device, and env values expand against the current
// process environment here, at apply time.
func (rt *Runtime) CreateContainer(ctx context.Context, image, name string, cfg runconfig.Sequence) error {
	img, err := rt.resolveOrPull(ctx, image)
	if err != nil {
		return err
	}

	specOpts := []oci.SpecOpts{
		oci.WithDefaultSpecForPlatform(hostPlatform()),
		oci.WithImageConfig(img),
	}

	runOpts, err := translateSequence(cfg)
	if err != nil {
		return err
	}
	specOpts = append(specOpts, runOpts...)

	_, err = rt.client.NewContainer(ctx, name,
		containerd.WithImage(img),
		containerd.WithSnapshotter(snapshotter),
		containerd.WithNewSnapshot(name, img),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		if errdefs.IsAlreadyExists(err) {
			return fmt.Errorf("%w: container %q", ErrContainerExists, name)
		}
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}

	slog.Info("container created", "name", name, "image", image)
	return nil
}

// Starts a stopped container's task.
func (rt *Runtime) StartContainer(ctx context.Context, name string) error {
	ctr, err := rt.client.LoadContainer(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}

	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}

// Stops a container's task.
//
// The running task is killed and deleted; the container metadata is
// preserved. Stopping an already-stopped container is not an error.
func (rt *Runtime) StopContainer(ctx context.Context, name string) error {
	ctr, err := rt.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}

	task.Kill(ctx, syscall.SIGKILL)
	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}

// Removes a container and its snapshot, killing any running task first.
func (rt *Runtime) RemoveContainer(ctx context.Context, name string) error {
	ctr, err := rt.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}

	if task, err := ctr.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL)
		task.Delete(ctx, containerd.WithProcessKill)
	}

	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return nil
}

// Reports whether a container with the given name exists.
func (rt *Runtime) HasContainer(ctx context.Context, name string) (bool, error) {
	_, err := rt.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	return true, nil
}

// Translates an accumulated configuration sequence into OCI spec options.
func translateSequence(cfg runconfig.Sequence) ([]oci.SpecOpts, error) {
	var opts []oci.SpecOpts
	var env []string

	for _, op := range cfg.Ops {
		value := os.ExpandEnv(op.Value)

		switch op.Kind {
		case runconfig.KindMount:
			m, err := op.Mount()
			if err != nil {
				return nil, err
			}
			opts = append(opts, withBindMount(os.ExpandEnv(m.Source), os.ExpandEnv(m.Dest), m.ReadOnly))
		case runconfig.KindDevice:
			opts = append(opts, oci.WithDevices(value, value, "rwm"))
		case runconfig.KindEnv:
			env = append(env, value)
		case runconfig.KindArg:
			opt, err := translateArg(value)
			if err != nil {
				return nil, err
			}
			opts = append(opts, opt)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownOption, op.Kind)
		}
	}

	if len(env) > 0 {
		opts = append(opts, oci.WithEnv(env))
	}
	return opts, nil
}

// Appends a bind mount to the spec.
func withBindMount(source, dest string, readOnly bool) oci.SpecOpts {
	options := []string{"rbind", "rw"}
	if readOnly {
		options = []string{"rbind", "ro"}
	}
	return oci.WithMounts([]specs.Mount{{
		Type:        "bind",
		Source:      source,
		Destination: dest,
		Options:     options,
	}})
}

// Resolves a named run option to its spec option.
//
// Options take the form "name" or "name=value".
func translateArg(value string) (oci.SpecOpts, error) {
	name, arg, _ := strings.Cut(value, "=")

	switch name {
	case "privileged":
		return oci.WithPrivileged, nil
	case "host-network":
		return composeSpecOpts(
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostResolvconf,
		), nil
	case "hostname":
		if arg == "" {
			return nil, fmt.Errorf("%w: hostname needs a value", ErrUnknownOption)
		}
		return oci.WithHostname(arg), nil
	case "user":
		if arg == "" {
			return nil, fmt.Errorf("%w: user needs a value", ErrUnknownOption)
		}
		return oci.WithUser(arg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
}

// Applies several spec options in order.
func composeSpecOpts(opts ...oci.SpecOpts) oci.SpecOpts {
	return func(ctx context.Context, client oci.Client, c *containers.Container, s *oci.Spec) error {
		for _, o := range opts {
			if err := o(ctx, client, c, s); err != nil {
				return err
			}
		}
		return nil
	}
}
