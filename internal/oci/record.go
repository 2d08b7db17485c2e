package oci

import (
	"github.com/opencontainers/go-digest"

	"github.com/boxkit/boxkit/internal/runconfig"
)

// Label keys for the build record persisted on committed images.
//
// The image labels are the only persistent state this system keeps: there
// is no side database, so cache decisions and config inheritance both read
// back from here.
const (
	LabelManaged = "works.boxkit.managed" // Manager marker, always "true".
	LabelPath    = "works.boxkit.path"    // Originating definition path.
	LabelHash    = "works.boxkit.hash"    // Content digest of the definition.
	LabelTree    = "works.boxkit.tree"    // Chained tree digest (cache key).
	LabelName    = "works.boxkit.name"    // Definition name.
	LabelConfig  = "works.boxkit.config"  // Serialized runtime-config sequence.
)

// Provenance and cache metadata for an image produced by this system.
type BuildRecord struct {
	Path   string             // Definition path at build time.
	Hash   digest.Digest      // Definition content digest.
	Tree   digest.Digest      // Tree digest over the dependency chain.
	Name   string             // Definition name.
	Config runconfig.Sequence // Stored runtime configuration.
}

// Serializes the record into image labels.
func (r *BuildRecord) Labels() (map[string]string, error) {
	cfg, err := r.Config.MarshalLabel()
	if err != nil {
		return nil, err
	}

	labels := map[string]string{
		LabelManaged: "true",
		LabelPath:    r.Path,
		LabelHash:    r.Hash.String(),
		LabelTree:    r.Tree.String(),
		LabelName:    r.Name,
	}
	if cfg != "" {
		labels[LabelConfig] = cfg
	}
	return labels, nil
}

// Parses a build record from image labels.
//
// Returns false when the labels do not carry the manager marker, i.e. the
// image was not produced by this system.
func RecordFromLabels(labels map[string]string) (*BuildRecord, bool) {
	if labels[LabelManaged] != "true" {
		return nil, false
	}

	cfg, err := runconfig.ParseLabel(labels[LabelConfig])
	if err != nil {
		// A mangled config label invalidates the record; the definition
		// gets rebuilt and the label rewritten.
		return nil, false
	}

	return &BuildRecord{
		Path:   labels[LabelPath],
		Hash:   digest.Digest(labels[LabelHash]),
		Tree:   digest.Digest(labels[LabelTree]),
		Name:   labels[LabelName],
		Config: cfg,
	}, true
}
