package modules

import (
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/emberlang/ember/internal/manifest"
)

// PackageSystem is the loader's optional package-resolution subsystem:
// a registry of known package archives, consulted by specifier before
// any filesystem probing. Specifiers may use the two-part
// "package/submodule" form to address one module inside a multi-module
// package.
type PackageSystem struct {
	logger   *log.Logger
	archives map[string]string            // package name -> archive path
	metas    map[string]*manifest.Manifest // package name -> metadata
}

func NewPackageSystem() *PackageSystem {
	return &PackageSystem{
		logger:   newLogger("packages"),
		archives: make(map[string]string),
		metas:    make(map[string]*manifest.Manifest),
	}
}

// Register opens the archive at path, reads its metadata, and records
// the package under its declared name.
func (p *PackageSystem) Register(path string) error {
	a, err := OpenArchive(path)
	if err != nil {
		return err
	}
	defer a.Close()

	meta := a.Metadata()
	p.archives[meta.Name] = path
	p.metas[meta.Name] = meta
	p.logger.Debug("registered", "package", meta.Name, "version", meta.Version, "path", path)
	return nil
}

// Lookup resolves a specifier against the registry. The returned
// submodule is the logical chunk to execute: the part after the slash
// for two-part specifiers, else the package's entry module.
func (p *PackageSystem) Lookup(specifier string) (archivePath string, meta *manifest.Manifest, submodule string, ok bool) {
	name, sub, _ := strings.Cut(specifier, "/")
	path, found := p.archives[name]
	if !found {
		return "", nil, "", false
	}
	meta = p.metas[name]
	if sub == "" {
		sub = meta.Name
	} else if meta.IsPackage() && !slices.Contains(meta.Modules, sub) {
		p.logger.Debug("submodule not declared", "package", name, "submodule", sub)
	}
	return path, meta, sub, true
}

// Known reports whether a package name is registered.
func (p *PackageSystem) Known(name string) bool {
	base, _, _ := strings.Cut(name, "/")
	_, ok := p.archives[base]
	return ok
}

// Names lists registered package names.
func (p *PackageSystem) Names() []string {
	names := make([]string, 0, len(p.archives))
	for n := range p.archives {
		names = append(names, n)
	}
	return names
}

