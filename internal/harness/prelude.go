package harness

import (
	"fmt"
	"strings"

	"github.com/boxkit/boxkit/internal/definition"
)

// Builds the POSIX prelude: a shell function per directive, each forwarding
// its arguments to the build socket through `<exe> config`.
//
// The prelude runs under `set -e`, so a rejected directive aborts the
// script at the failing line.
func posixPrelude(exe string) string {
	var b strings.Builder
	b.WriteString("set -e\n")
	for _, d := range directives {
		fmt.Fprintf(&b, "%s() { %q config %s \"$@\"; }\n", d, exe, d)
	}
	return b.String()
}

// Builds the fish prelude, passed to `fish -C` before the definition runs.
//
// Fish has no errexit mode, so each function bails out explicitly when the
// directive is rejected.
func fishPrelude(exe string) string {
	var b strings.Builder
	for _, d := range directives {
		fmt.Fprintf(&b, "function %s; %q config %s $argv; or exit 1; end\n", d, exe, d)
	}
	return b.String()
}

// Composes the argument vector that runs a definition under its shell.
//
// POSIX shells get the prelude and the parenthesized script body as a
// single -c program, so the body runs in a subshell with the directive
// functions bound. Fish sources the prelude via -C and then runs the file
// itself.
func shellCommand(def *definition.Definition, exe string) []string {
	if def.Kind == definition.KindFish {
		return []string{def.Shell, "-C", fishPrelude(exe), def.Path}
	}
	program := posixPrelude(exe) + "(\n" + def.Body + "\n)"
	return []string{def.Shell, "-c", program}
}
