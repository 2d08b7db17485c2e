package cli

import (
	"context"
	"fmt"

	"github.com/boxkit/boxkit/internal/build"
)

// Represents the 'boxkit up' command.
type UpCmd struct {
	Replace bool `short:"r" help:"Remove and recreate existing containers."`
}

// Executes the up command.
func (c *UpCmd) Run(ctx context.Context) error {
	driver, rt, err := openDriver()
	if err != nil {
		return err
	}
	defer rt.Close()

	results, err := driver.Up(ctx, c.Replace)
	if err != nil {
		return err
	}

	var failed error
	for _, r := range results {
		switch r.Status {
		case build.UpCreated:
			fmt.Printf("%-12s created  %s\n", r.Name, r.Image)
		case build.UpExisting:
			fmt.Printf("%-12s exists   %s\n", r.Name, r.Image)
		case build.UpNoImage:
			fmt.Printf("%-12s no image (build it first)\n", r.Name)
		case build.UpFailed:
			fmt.Printf("%-12s failed   %v\n", r.Name, r.Err)
			failed = r.Err
		}
	}
	return failed
}
