package cli

import (
	"context"

	"github.com/boxkit/boxkit/internal/harness"
)

// Represents the hidden 'boxkit config' command.
//
// The shell preludes generated by the harness rebind each directive to
// `boxkit config <directive> ...`; this command forwards the directive to
// the build socket of the enclosing execution. Outside a build it fails
// with InvalidContext.
type ConfigCmd struct {
	Directive string   `arg:"" help:"Directive keyword."`
	Args      []string `arg:"" optional:"" passthrough:"" help:"Directive arguments."`
}

// Executes the config command.
func (c *ConfigCmd) Run(ctx context.Context) error {
	return harness.Relay(c.Directive, c.Args)
}
