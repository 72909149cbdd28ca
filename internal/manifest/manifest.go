// Package manifest reads and writes module.toml files, the metadata
// that describes an Ember module or package.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/emberlang/ember/internal/config"
)

// ErrNotFound is returned when no manifest exists on the searched path.
var ErrNotFound = errors.New("module.toml not found")

// Manifest is the parsed content of a module.toml file.
type Manifest struct {
	Name        string            `toml:"name"`
	Version     string            `toml:"version"`
	Description string            `toml:"description,omitempty"`
	Entry       string            `toml:"entry,omitempty"`
	Modules     []string          `toml:"modules,omitempty"`
	Deps        map[string]string `toml:"dependencies,omitempty"`
	Native      *Native           `toml:"native,omitempty"`
	Exports     []Export          `toml:"export,omitempty"`

	// Dir is the directory the manifest was loaded from. Not
	// serialized.
	Dir string `toml:"-"`
}

// Native declares the dynamic library backing a native module. The
// library name is platform-neutral; the loader adds the lib prefix and
// extension.
type Native struct {
	Library string `toml:"library"`
}

// Export declares one name a module makes visible. Exactly one of
// NativeName or Constant is set for native modules; bytecode modules
// list just the name.
type Export struct {
	Name       string   `toml:"name"`
	NativeName string   `toml:"native,omitempty"`
	Constant   *float64 `toml:"constant,omitempty"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	m.Dir = filepath.Dir(path)
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// Parse reads a manifest from raw bytes, as when extracted from an
// archive. dir records where the manifest came from.
func Parse(data []byte, dir string) (*Manifest, error) {
	var m Manifest
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.Dir = dir
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Find walks from dir toward the filesystem root looking for a
// module.toml, and loads the first one found.
func Find(dir string) (*Manifest, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for {
		path := filepath.Join(dir, config.ManifestFile)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, ErrNotFound
		}
		dir = parent
	}
}

// Save writes the manifest to path in TOML form.
func (m *Manifest) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// IsNative reports whether the module is backed by a dynamic library.
func (m *Manifest) IsNative() bool {
	return m.Native != nil && m.Native.Library != ""
}

// IsPackage reports whether the manifest describes a multi-module
// package rather than a single module.
func (m *Manifest) IsPackage() bool {
	return len(m.Modules) > 0
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return errors.New("manifest missing name")
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	for i, e := range m.Exports {
		if e.Name == "" {
			return fmt.Errorf("export %d missing name", i)
		}
	}
	return nil
}
