// Package paths centralizes filesystem locations used by boxkit, following
// the XDG base directory specification with a legacy environment override
// for the definition directory.
package paths
