package extensions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// Dependency declares an edge to another extension. Optional dependencies
// are dropped when absent; required ones make the dependent unloadable.
// Constraint, when set, is the minimum acceptable semver of the dependency.
type Dependency struct {
	Name       string `yaml:"name"`
	Optional   bool   `yaml:"optional"`
	Constraint string `yaml:"constraint"`
}

// Manifest is the on-disk declaration of an extension, read from
// <dir>/<name>/extension.yaml.
type Manifest struct {
	Name            string       `yaml:"name"`
	Version         string       `yaml:"version"`
	Description     string       `yaml:"description"`
	ExtDependencies []Dependency `yaml:"ext_dependencies"`
	PipDependencies []string     `yaml:"pip_dependencies"`
	AptDependencies []string     `yaml:"apt_dependencies"`
}

const manifestFile = "extension.yaml"

// LoadManifest reads and validates one extension manifest
func LoadManifest(extensionDir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(extensionDir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest in %s: %w", extensionDir, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest in %s: %w", extensionDir, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the manifest's declared fields
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("extension manifest requires a name")
	}
	if !semver.IsValid(normalizeVersion(m.Version)) {
		return fmt.Errorf("extension %s: invalid version %q", m.Name, m.Version)
	}
	for _, d := range m.ExtDependencies {
		if d.Name == "" {
			return fmt.Errorf("extension %s: dependency without a name", m.Name)
		}
		if d.Constraint != "" && !semver.IsValid(normalizeVersion(d.Constraint)) {
			return fmt.Errorf("extension %s: invalid constraint %q on %s", m.Name, d.Constraint, d.Name)
		}
	}
	return nil
}

// SemVer returns the canonical version with the leading v
func (m *Manifest) SemVer() string {
	return normalizeVersion(m.Version)
}

// satisfies reports whether version meets the minimum constraint
func satisfies(version, constraint string) bool {
	if constraint == "" {
		return true
	}
	return semver.Compare(normalizeVersion(version), normalizeVersion(constraint)) >= 0
}

func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
