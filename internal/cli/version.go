package cli

import (
	"context"
	"fmt"

	"github.com/boxkit/boxkit/internal"
)

// Represents the 'boxkit version' command.
type VersionCmd struct{}

// Executes the version command.
func (c *VersionCmd) Run(ctx context.Context) error {
	fmt.Println(internal.VersionString())
	return nil
}
