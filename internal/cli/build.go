package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/boxkit/boxkit/internal/build"
)

// Represents the 'boxkit build' command.
type BuildCmd struct {
	Targets []string `arg:"" optional:"" help:"Definitions to build."`
	All     bool     `short:"a" help:"Build every known definition."`
	Force   bool     `short:"f" help:"Rebuild the named targets even on a cache hit."`
	Jobs    int      `short:"j" default:"1" help:"Number of concurrent builds."`
}

// Executes the build command.
func (c *BuildCmd) Run(ctx context.Context) error {
	driver, rt, err := openDriver()
	if err != nil {
		return err
	}
	defer rt.Close()

	results, err := driver.Build(ctx, build.Options{
		Targets: c.Targets,
		All:     c.All,
		Force:   c.Force,
		Jobs:    c.Jobs,
	})

	for _, r := range results {
		switch r.Status {
		case build.StatusBuilt:
			fmt.Printf("%-12s built    %s\n", r.Name, r.Image)
		case build.StatusSkipped:
			fmt.Printf("%-12s cached   %s\n", r.Name, r.Image)
		case build.StatusFailed:
			fmt.Printf("%-12s failed   %v\n", r.Name, r.Err)
		case build.StatusBlocked:
			fmt.Printf("%-12s blocked\n", r.Name)
		}
	}

	if err != nil {
		slog.Error("build pass failed", "error", err)
	}
	return err
}
