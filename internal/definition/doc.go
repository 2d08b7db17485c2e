// Package definition loads container definitions from disk.
//
// A definition is a shell script with a mandatory shebang and an optional
// metadata block of "#~" comment lines forming a YAML document. The shebang
// selects the interpreter dialect (fish or POSIX), which decides how the
// build harness rebinds directive keywords. Each definition carries a
// content digest over its raw bytes; the digest feeds the chained tree hash
// used for change detection.
//
// Definitions are re-read from disk on every invocation and never mutated
// in memory.
package definition
