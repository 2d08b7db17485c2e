package internal

import (
	"strconv"
	"sync/atomic"
)

// Output modes. Seeded from linker flags at startup; the CLI overrides
// them once its flags are parsed, so IsQuiet/IsDebug/IsVerbose reflect the
// effective runtime state.
var (
	quietMode   atomic.Bool
	debugMode   atomic.Bool
	verboseMode atomic.Bool
)

func init() {
	quietMode.Store(parseMode(rawQuiet))
	debugMode.Store(parseMode(rawDebug))
	verboseMode.Store(parseMode(rawVerbose))
}

// Interprets a raw ldflags mode value. Unset or malformed means off.
func parseMode(raw string) bool {
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}

// Enables or disables quiet mode.
func SetQuiet(enabled bool) {
	quietMode.Store(enabled)
}

// Returns true if quiet mode is enabled.
func IsQuiet() bool {
	return quietMode.Load()
}

// Enables or disables debug mode.
func SetDebug(enabled bool) {
	debugMode.Store(enabled)
}

// Returns true if debug mode is enabled.
func IsDebug() bool {
	return debugMode.Load()
}

// Enables or disables verbose logging.
func SetVerbose(enabled bool) {
	verboseMode.Store(enabled)
}

// Returns true if verbose logging is enabled.
func IsVerbose() bool {
	return verboseMode.Load()
}
