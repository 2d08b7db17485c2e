// Parses flags and dispatches subcommands for the boxkit CLI.
//
// The command tree:
//
//	build    Build definitions into images, skipping cache hits.
//	up       Create containers for built definitions.
//	create   Create a new definition and open it in the editor.
//	edit     Open an existing definition in the editor.
//	delete   Delete a definition.
//	list     List known definitions.
//	version  Show version information.
//
// A hidden 'config' subcommand exists for the build harness: the shell
// preludes forward directives through it to the build socket. It is not
// useful interactively and fails outside a build.
//
// Global flags (-q, -v, -d) override build-time defaults set via linker
// flags. After parsing, the global logger is reconfigured to reflect the
// final level before the subcommand runs.
package cli
