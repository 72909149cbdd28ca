package modules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/emberlang/ember/internal/config"
)

// LocationKind says what kind of artifact a resolution produced.
type LocationKind int

const (
	// KindSource: a plain source file to compile.
	KindSource LocationKind = iota
	// KindArchive: a compiled .emod container.
	KindArchive
	// KindDir: a directory package, identified by its module.toml.
	KindDir
	// KindNative: a dynamic library location; the path is the
	// specifier remainder, library-name expansion happens in the
	// native bridge.
	KindNative
)

// Location is a successful resolution.
type Location struct {
	Path string
	Kind LocationKind
}

// Resolver maps import specifiers to artifact locations. It only
// probes the filesystem; it never opens artifacts.
type Resolver struct {
	env    *Environment
	logger *log.Logger
}

func NewResolver(env *Environment) *Resolver {
	return &Resolver{env: env, logger: newLogger("resolver")}
}

// Resolve applies the ordered resolution rules. relativeTo is the
// path of the importing file, empty for top-level loads. A miss
// returns ErrNotFound wrapped with the specifier.
func (r *Resolver) Resolve(specifier, relativeTo string) (Location, error) {
	switch {
	case strings.HasPrefix(specifier, config.LocalPrefix):
		return r.resolveLocal(strings.TrimPrefix(specifier, config.LocalPrefix))
	case strings.HasPrefix(specifier, config.NativePrefix):
		// The remainder is the location; no probing here.
		return Location{Path: strings.TrimPrefix(specifier, config.NativePrefix), Kind: KindNative}, nil
	case filepath.IsAbs(specifier):
		if fileExists(specifier) {
			return Location{Path: specifier, Kind: kindForFile(specifier)}, nil
		}
		return Location{}, r.notFound(specifier)
	case strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
		if relativeTo != "" {
			if loc, ok := r.probeRelative(specifier, filepath.Dir(relativeTo)); ok {
				return loc, nil
			}
		}
		fallthrough
	default:
		return r.resolvePlain(specifier)
	}
}

// resolveLocal handles the @ prefix: each search path is probed for a
// manifest directory, a bare archive, an archive under modules/, then
// a source file; then the working directory and its modules/
// subdirectory get the same treatment.
func (r *Resolver) resolveLocal(name string) (Location, error) {
	paths := append([]string{}, r.env.SearchPaths...)
	paths = append(paths, r.env.WorkDir, filepath.Join(r.env.WorkDir, "modules"))
	for _, dir := range paths {
		if loc, ok := r.probeLocalDir(dir, name); ok {
			r.logger.Debug("resolved", "specifier", config.LocalPrefix+name, "path", loc.Path)
			return loc, nil
		}
	}
	return Location{}, r.notFound(config.LocalPrefix + name)
}

func (r *Resolver) probeLocalDir(dir, name string) (Location, bool) {
	if p := filepath.Join(dir, name, config.ManifestFile); fileExists(p) {
		return Location{Path: filepath.Join(dir, name), Kind: KindDir}, true
	}
	if p := filepath.Join(dir, name+config.ArchiveExt); fileExists(p) {
		return Location{Path: p, Kind: KindArchive}, true
	}
	if p := filepath.Join(dir, "modules", name+config.ArchiveExt); fileExists(p) {
		return Location{Path: p, Kind: KindArchive}, true
	}
	for _, ext := range config.SourceFileExtensions {
		if p := filepath.Join(dir, name+ext); fileExists(p) {
			return Location{Path: p, Kind: KindSource}, true
		}
	}
	return Location{}, false
}

// resolvePlain handles bare specifiers: dots become path separators,
// then each search path is probed for the converted path verbatim, the
// converted path with a source extension, the original dotted form
// with a source extension, and finally an archive by that name.
func (r *Resolver) resolvePlain(specifier string) (Location, error) {
	converted := strings.ReplaceAll(specifier, ".", string(filepath.Separator))
	for _, dir := range r.env.SearchPaths {
		if p := filepath.Join(dir, converted); fileExists(p) {
			return Location{Path: p, Kind: kindForFile(p)}, nil
		}
		if p := filepath.Join(dir, converted); dirHasManifest(p) {
			return Location{Path: p, Kind: KindDir}, nil
		}
		for _, ext := range config.SourceFileExtensions {
			if p := filepath.Join(dir, converted+ext); fileExists(p) {
				return Location{Path: p, Kind: KindSource}, nil
			}
		}
		for _, ext := range config.SourceFileExtensions {
			if p := filepath.Join(dir, specifier+ext); fileExists(p) {
				return Location{Path: p, Kind: KindSource}, nil
			}
		}
		if p := filepath.Join(dir, specifier+config.ArchiveExt); fileExists(p) {
			return Location{Path: p, Kind: KindArchive}, nil
		}
	}
	return Location{}, r.notFound(specifier)
}

func (r *Resolver) probeRelative(specifier, baseDir string) (Location, bool) {
	p := filepath.Join(baseDir, specifier)
	if fileExists(p) {
		return Location{Path: p, Kind: kindForFile(p)}, true
	}
	if dirHasManifest(p) {
		return Location{Path: p, Kind: KindDir}, true
	}
	for _, ext := range config.SourceFileExtensions {
		if q := p + ext; fileExists(q) {
			return Location{Path: q, Kind: KindSource}, true
		}
	}
	return Location{}, false
}

func (r *Resolver) notFound(specifier string) error {
	r.logger.Debug("no candidate location", "specifier", specifier)
	return fmt.Errorf("%w: %s", ErrNotFound, specifier)
}

func kindForFile(path string) LocationKind {
	if strings.HasSuffix(path, config.ArchiveExt) {
		return KindArchive
	}
	return KindSource
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirHasManifest(path string) bool {
	return fileExists(filepath.Join(path, config.ManifestFile))
}
