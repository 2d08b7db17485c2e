package build

import (
	"context"
	"log/slog"
)

// Outcome of one definition within an up pass.
type UpStatus string

const (
	UpCreated  UpStatus = "created"  // Container created and started.
	UpExisting UpStatus = "existing" // Container already present; left alone.
	UpNoImage  UpStatus = "no-image" // Definition has no committed image.
	UpFailed   UpStatus = "failed"
)

// Per-definition outcome of an up pass.
type UpResult struct {
	Name   string
	Status UpStatus
	Image  string
	Err    error
}

// Instantiates a container for every definition with a committed image.
//
// Containers are named after their definition. The image's stored merged
// configuration is applied at creation, with ${VAR} references expanded
// against the invoking environment. Existing containers are kept unless
// replace is set, in which case they are stopped and removed first.
func (d *Driver) Up(ctx context.Context, replace bool) ([]UpResult, error) {
	defs, err := d.store.List()
	if err != nil {
		return nil, err
	}

	results := make([]UpResult, 0, len(defs))
	for _, def := range defs {
		results = append(results, d.upOne(ctx, def.Name, replace))
	}
	return results, nil
}

func (d *Driver) upOne(ctx context.Context, name string, replace bool) UpResult {
	record, imageRef, err := d.backend.LookupRecord(ctx, name)
	if err != nil {
		return UpResult{Name: name, Status: UpFailed, Err: err}
	}
	if record == nil {
		return UpResult{Name: name, Status: UpNoImage}
	}

	exists, err := d.backend.HasContainer(ctx, name)
	if err != nil {
		return UpResult{Name: name, Status: UpFailed, Err: err}
	}
	if exists {
		if !replace {
			return UpResult{Name: name, Status: UpExisting, Image: imageRef}
		}
		if err := d.backend.StopContainer(ctx, name); err != nil {
			return UpResult{Name: name, Status: UpFailed, Err: err}
		}
		if err := d.backend.RemoveContainer(ctx, name); err != nil {
			return UpResult{Name: name, Status: UpFailed, Err: err}
		}
	}

	if err := d.backend.CreateContainer(ctx, imageRef, name, record.Config); err != nil {
		return UpResult{Name: name, Status: UpFailed, Err: err}
	}
	if err := d.backend.StartContainer(ctx, name); err != nil {
		return UpResult{Name: name, Status: UpFailed, Err: err}
	}

	slog.Info("container up", "name", name, "image", imageRef)
	return UpResult{Name: name, Status: UpCreated, Image: imageRef}
}
