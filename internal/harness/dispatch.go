package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/boxkit/boxkit/internal/oci"
	"github.com/boxkit/boxkit/internal/runconfig"
)

// Directives the shell prelude rebinds to the build socket.
var directives = []string{
	"FROM", "RUN", "ADD", "COPY", "CMD", "LABEL", "EXPOSE", "ENV",
	"ENTRYPOINT", "VOLUME", "USER", "WORKDIR", "CFG", "PRESET", "COMMIT",
}

// Routes a directive to its handler.
//
// Directives arrive one at a time from a single subprocess, so handlers
// run sequentially.
func (e *Execution) dispatch(ctx context.Context, env Envelope) error {
	switch env.Directive {
	case "FROM":
		return e.handleFrom(ctx, env.Args)
	case "RUN":
		return e.handleRun(ctx, env.Args)
	case "ADD", "COPY":
		return e.handleAdd(ctx, env.Args)
	case "CMD", "LABEL", "EXPOSE", "ENV", "ENTRYPOINT", "VOLUME", "USER", "WORKDIR":
		return e.handleConfigure(ctx, env.Directive, env.Args)
	case "CFG":
		return e.handleCfg(env.Args)
	case "PRESET":
		return e.handlePreset(env.Args)
	case "COMMIT":
		return e.handleCommit(ctx, env.Args)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDirective, env.Directive)
	}
}

// Begins a working container from a base image.
//
// When the base was itself built here, its stored configuration becomes
// the inherited prefix of this build's accumulator; configuration issued
// before FROM stays after the inherited prefix. Arguments beyond the
// image reference append as named run options.
func (e *Execution) handleFrom(ctx context.Context, args []string) error {
	if e.working != nil {
		return ErrActiveContainer
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: FROM needs an image reference", ErrHarness)
	}

	baseImage := args[0]

	wc, err := e.Backend.Begin(ctx, baseImage, "boxkit-build-"+e.Def.Name)
	if err != nil {
		return err
	}
	e.working = wc

	merged := runconfig.Inherit(e.parentConfig(ctx, baseImage))
	merged.Ops = append(merged.Ops, e.config.Ops...)
	merged.Presets = append(merged.Presets, e.config.Presets...)
	e.config = merged

	for _, arg := range args[1:] {
		e.config.Append(runconfig.Op{Kind: runconfig.KindArg, Value: arg})
	}

	return nil
}

// Reads the stored configuration sequence off the base image's labels.
//
// Foreign images carry no record and contribute an empty prefix.
func (e *Execution) parentConfig(ctx context.Context, baseImage string) runconfig.Sequence {
	labels, err := e.Backend.Inspect(ctx, baseImage)
	if err != nil {
		// Inheritance is best-effort; a rebuild of the parent heals it.
		return runconfig.Sequence{}
	}

	record, ok := oci.RecordFromLabels(labels)
	if !ok {
		return runconfig.Sequence{}
	}
	return record.Config
}

// Runs a shell command inside the working container.
func (e *Execution) handleRun(ctx context.Context, args []string) error {
	if e.working == nil {
		return ErrNoActiveContainer
	}
	return e.working.Run(ctx, strings.Join(args, " "))
}

// Copies a host path into the working container.
func (e *Execution) handleAdd(ctx context.Context, args []string) error {
	if e.working == nil {
		return ErrNoActiveContainer
	}
	if len(args) != 2 {
		return fmt.Errorf("%w: ADD needs <src> <dst>", ErrHarness)
	}
	return e.working.Add(ctx, args[0], args[1])
}

// Stages an image-config directive on the working container.
func (e *Execution) handleConfigure(ctx context.Context, directive string, args []string) error {
	if e.working == nil {
		return ErrNoActiveContainer
	}
	return e.working.Configure(ctx, directive, args)
}

// Appends a runtime-configuration operation.
//
// The container is untouched; the operation lands in the accumulator and
// is persisted at COMMIT.
func (e *Execution) handleCfg(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: CFG needs a key", ErrHarness)
	}
	op, err := runconfig.ParseOp(args[0], args[1:])
	if err != nil {
		return err
	}
	e.config.Append(op)
	return nil
}

// Expands a named preset bundle into the accumulator.
func (e *Execution) handlePreset(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: PRESET needs a name", ErrHarness)
	}
	ops, err := e.Presets.Expand(args[0])
	if err != nil {
		return err
	}
	e.config.ApplyPreset(args[0], ops)
	return nil
}

// Commits the working container as a named image.
//
// The build record, including the accumulated configuration, is attached
// as image labels. Commits racing for the same image name serialize
// through the gate. The working container is gone afterwards; a later
// FROM may begin a new one.
func (e *Execution) handleCommit(ctx context.Context, args []string) error {
	if e.working == nil {
		return ErrNoActiveContainer
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: COMMIT needs an image name", ErrHarness)
	}
	imageName := args[0]

	record := &oci.BuildRecord{
		Path:   e.Def.Path,
		Hash:   e.Def.Hash,
		Tree:   e.Tree,
		Name:   e.Def.Name,
		Config: e.config,
	}
	labels, err := record.Labels()
	if err != nil {
		return err
	}
	e.working.SetLabels(labels)

	commit := func() error {
		_, err := e.working.Commit(ctx, imageName)
		return err
	}
	if e.Gate != nil {
		err = e.Gate(imageName, commit)
	} else {
		err = commit()
	}
	if err != nil {
		return err
	}

	e.working = nil
	e.images = append(e.images, imageName)
	return nil
}
