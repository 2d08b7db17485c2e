package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"
)

// File extension for definition files.
const Extension = ".box"

// Prefix marking metadata lines inside a definition script.
const metaPrefix = "#~"

// Interpreter dialect a definition script is written in.
type Kind string

const (
	// POSIX-compatible shells (sh, bash, zsh, ...).
	KindPosix Kind = "posix"

	// The fish shell, which has its own function syntax.
	KindFish Kind = "fish"
)

// A single container definition loaded from disk.
//
// Definitions are immutable once loaded and re-read from disk on every
// invocation; nothing mutates them in memory.
type Definition struct {
	Name    string        // Definition name (file name minus extension).
	Path    string        // Absolute path to the definition file.
	Kind    Kind          // Interpreter dialect, derived from the shebang.
	Shell   string        // Interpreter path from the shebang line.
	Body    string        // Raw script body, including the shebang.
	Hash    digest.Digest // Content digest of the raw script bytes.
	Meta    Metadata      // Parsed metadata block.
}

// Parsed metadata from a definition's "#~" comment block.
type Metadata struct {
	DependsOn []string `yaml:"depends_on"` // Names of definitions this one builds from.
}

// Loads and parses the definition at the given path.
//
// The first line must be a shebang; its interpreter decides the dialect.
// Lines starting with "#~" are stripped of the marker and parsed together
// as a YAML metadata document. The content hash covers the raw bytes.
func FromPath(path string) (*Definition, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}

	// A dotfiles manager that is out of sync leaves broken symlinks behind;
	// report those explicitly instead of a generic read error.
	if info.Mode()&os.ModeSymlink != 0 {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBrokenSymlink, path)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}

	return parse(path, string(data))
}

// Parses definition content that has already been read.
func parse(path, body string) (*Definition, error) {
	bang, _, _ := strings.Cut(body, "\n")
	if body == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDefinition, path)
	}

	shell, kind, err := parseShebang(bang)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, path)
	}

	meta, err := parseMetadata(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMetadata, path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), Extension)

	return &Definition{
		Name:  name,
		Path:  path,
		Kind:  kind,
		Shell: shell,
		Body:  body,
		Hash:  digest.FromString(body),
		Meta:  meta,
	}, nil
}

// Extracts the interpreter path and dialect from a shebang line.
//
// Directive semantics depend on the dialect, so a missing or empty shebang
// is an error rather than a default.
func parseShebang(bang string) (string, Kind, error) {
	if !strings.HasPrefix(bang, "#!") {
		return "", "", ErrInvalidShebang
	}

	shell := strings.TrimSpace(strings.TrimPrefix(bang, "#!"))
	if shell == "" {
		return "", "", ErrInvalidShebang
	}

	if strings.Contains(shell, "fish") {
		return shell, KindFish, nil
	}
	return shell, KindPosix, nil
}

// Collects the "#~" lines of a script into a YAML document and parses it.
func parseMetadata(body string) (Metadata, error) {
	var doc strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, metaPrefix) {
			continue
		}
		doc.WriteString(strings.TrimSpace(strings.TrimPrefix(line, metaPrefix)))
		doc.WriteString("\n")
	}

	var meta Metadata
	if err := yaml.Unmarshal([]byte(doc.String()), &meta); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

// Returns the directory containing the definition file.
//
// The harness runs with this directory as its working directory so ADD and
// COPY sources resolve relative to the definition.
func (d *Definition) Dir() string {
	return filepath.Dir(d.Path)
}

// Names of the definitions this one depends on, in declaration order.
func (d *Definition) DependsOn() []string {
	return d.Meta.DependsOn
}
