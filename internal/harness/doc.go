// Package harness runs definitions as shell subprocesses and serves their
// directives.
//
// A definition is an ordinary shell script; the directives it uses (FROM,
// RUN, COMMIT, and friends) are not shell builtins but functions bound by
// a generated prelude. Each function forwards its arguments to a private
// Unix socket owned by the [Execution] for that build, where a dispatcher
// mutates the working container and the runtime-configuration accumulator.
// Because the script is plain shell, definitions can interleave arbitrary
// shell logic — conditionals, loops, command substitution — between
// directives.
//
// One exchange per connection: the subprocess connects, sends one
// newline-delimited JSON envelope, reads one reply, and disconnects. A
// rejected directive makes the relay exit non-zero, which aborts the
// script under set -e (POSIX) or the explicit `or exit 1` (fish).
package harness
