package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/boxkit/boxkit/internal"
	"github.com/boxkit/boxkit/internal/build"
	"github.com/boxkit/boxkit/internal/definition"
	"github.com/boxkit/boxkit/internal/oci"
	"github.com/boxkit/boxkit/internal/paths"
	"github.com/boxkit/boxkit/internal/runconfig"
)

// Represents the root command for the boxkit CLI.
var RootCmd struct {
	Quiet     bool   `short:"q" help:"Suppress informational output."`
	Verbose   bool   `short:"v" help:"Enable verbose output."`
	Debug     bool   `short:"d" help:"Enable debug output."`
	Address   string `help:"Containerd socket address." default:"${address}" placeholder:"PATH"`
	Namespace string `help:"Containerd namespace." default:"${namespace}"`

	Build   BuildCmd   `cmd:"" help:"Build definitions into images."`
	Up      UpCmd      `cmd:"" help:"Create containers for built definitions."`
	Create  CreateCmd  `cmd:"" help:"Create a new definition and open it in the editor."`
	Edit    EditCmd    `cmd:"" help:"Open an existing definition in the editor."`
	Delete  DeleteCmd  `cmd:"" help:"Delete a definition."`
	List    ListCmd    `cmd:"" help:"List known definitions."`
	Config  ConfigCmd  `cmd:"" hidden:"" help:"Relay a build directive (internal)."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Builds container images from shell definitions and runs them."),
		kong.UsageOnError(),
		kong.Vars{
			"version":   internal.VersionString(),
			"address":   oci.DefaultAddress,
			"namespace": oci.DefaultNamespace,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Reconfigures the global logger from the parsed flags.
//
// The flags are recorded in the shared mode state first, so code outside
// the CLI that consults internal.IsDebug and friends sees the effective
// runtime modes rather than the build-time defaults.
func configureLogger() {
	if RootCmd.Quiet {
		internal.SetQuiet(true)
	}
	if RootCmd.Debug {
		internal.SetDebug(true)
	}
	if RootCmd.Verbose {
		internal.SetVerbose(true)
	}

	level := slog.LevelInfo
	switch {
	case internal.IsDebug():
		level = slog.LevelDebug
	case internal.IsQuiet():
		level = slog.LevelWarn
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level:     level,
		AddSource: internal.IsVerbose(),
	})
	slog.SetDefault(slog.New(handler))
}

// Opens the definition store in the configured definition directory.
func openStore() (*definition.Store, error) {
	return definition.NewStore()
}

// Connects the build driver to containerd.
//
// The returned runtime must be closed by the caller.
func openDriver() (*build.Driver, *oci.Runtime, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	rt, err := oci.New(RootCmd.Address, RootCmd.Namespace)
	if err != nil {
		return nil, nil, err
	}

	presetsPath, err := paths.Presets()
	if err != nil {
		rt.Close()
		return nil, nil, err
	}
	presets, err := runconfig.LoadPresets(presetsPath)
	if err != nil {
		rt.Close()
		return nil, nil, err
	}

	return build.NewDriver(store, rt, presets), rt, nil
}
