package definition

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/boxkit/boxkit/internal/paths"
)

// Locates and loads definition files from the definition directory.
type Store struct {
	dir string
}

// Creates a store rooted at the default definition directory.
func NewStore() (*Store, error) {
	dir, err := paths.Definitions()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return &Store{dir: dir}, nil
}

// Creates a store rooted at an explicit directory.
func OpenStore(dir string) *Store {
	return &Store{dir: dir}
}

// Returns the directory this store reads from.
func (s *Store) Dir() string {
	return s.dir
}

// Returns the path a definition with the given name would live at.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+Extension)
}

// Loads every definition in the store, sorted by name.
func (s *Store) List() ([]*Definition, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	var defs []*Definition
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}

		def, err := FromPath(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	slog.Debug("definitions enumerated", "dir", s.dir, "count", len(defs))
	return defs, nil
}

// Resolves a definition by name.
//
// A miss returns a [NotFoundError] carrying the closest existing name as a
// suggestion.
func (s *Store) Resolve(name string) (*Definition, error) {
	path := s.Path(name)
	if _, err := os.Lstat(path); err != nil {
		return nil, &NotFoundError{Name: name, Suggestion: s.suggest(name)}
	}
	return FromPath(path)
}

// Reports whether a definition with the given name exists.
func (s *Store) Exists(name string) bool {
	_, err := os.Lstat(s.Path(name))
	return err == nil
}

// Creates an empty definition file seeded with the given content.
//
// Fails when a definition with the name already exists.
func (s *Store) Create(name, content string) (string, error) {
	path := s.Path(name)
	if s.Exists(name) {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	if err := os.WriteFile(path, []byte(content), paths.DefaultFileMode); err != nil {
		return "", fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return path, nil
}

// Removes the named definition file.
func (s *Store) Delete(name string) error {
	if !s.Exists(name) {
		return &NotFoundError{Name: name, Suggestion: s.suggest(name)}
	}
	return os.Remove(s.Path(name))
}

// Finds an existing definition name similar to the given one.
func (s *Store) suggest(name string) string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ""
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Extension) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), Extension))
	}

	return closestMatch(name, names)
}
