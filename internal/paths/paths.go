package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	toolName = "box"

	// Environment variable that overrides the definition directory.
	definitionDirEnv = "BOX_DEFINITION_DIR"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory holding definition files.
//
// The first available option wins, in this order:
//
//	$BOX_DEFINITION_DIR
//	$XDG_CONFIG_HOME/box
//	$HOME/.config/box
//
// The directory is created if it does not exist yet.
func Definitions() (string, error) {
	dir := os.Getenv(definitionDirEnv)
	if dir == "" {
		dir = filepath.Join(xdg.ConfigHome, toolName)
	}

	if err := os.MkdirAll(dir, DefaultDirMode); err != nil {
		return "", err
	}

	return dir, nil
}

// Path to the directory for runtime files (harness sockets).
//
//	Linux:   $XDG_RUNTIME_DIR/boxkit or /run/user/<uid>/boxkit
//	macOS:   ~/Library/Caches/boxkit/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, "boxkit")
	}
	return filepath.Join(xdg.CacheHome, "boxkit", "run")
}

// Path to the file holding user-defined presets.
//
// The file lives next to the definitions so it is version-controlled with
// them.
func Presets() (string, error) {
	dir, err := Definitions()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "presets.yaml"), nil
}
