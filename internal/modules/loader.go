package modules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/emberlang/ember/internal/config"
	"github.com/emberlang/ember/internal/manifest"
	"github.com/emberlang/ember/internal/parser"
	"github.com/emberlang/ember/internal/vm"
)

// Loader owns a module cache and drives the load pipeline: cache
// probe, builtin registry, package system, tiered artifact caches,
// then resolver-directed loading. One loader per execution root; child
// loaders see their ancestors' caches read-only.
type Loader struct {
	env      *Environment
	parent   *Loader
	resolver *Resolver
	tiers    *TierCache
	packages *PackageSystem
	bridge   *nativeBridge
	logger   *log.Logger

	cache map[string]*Module
	order []string // insertion order, for reverse unload

	closed bool
}

// NewLoader creates an execution-root loader.
func NewLoader(env *Environment) *Loader {
	return &Loader{
		env:      env,
		resolver: NewResolver(env),
		tiers:    NewTierCache(env),
		bridge:   newNativeBridge(),
		logger:   newLogger("loader"),
		cache:    make(map[string]*Module),
	}
}

// NewChildLoader creates a loader that consults parent's cache chain
// on lookups but owns its records independently.
func NewChildLoader(parent *Loader) *Loader {
	l := NewLoader(parent.env)
	l.parent = parent
	return l
}

// AttachPackages wires in a package-resolution subsystem.
func (l *Loader) AttachPackages(ps *PackageSystem) { l.packages = ps }

// AddSearchPath appends a resolver search path.
func (l *Loader) AddSearchPath(path string) {
	l.env.SearchPaths = append(l.env.SearchPaths, absFrom(l.env.WorkDir, path))
}

// Modules returns cached records in insertion order.
func (l *Loader) Modules() []*Module {
	out := make([]*Module, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.cache[id])
	}
	return out
}

// Load resolves, loads, and executes the module named by specifier.
// relativeTo is the importing file's path, empty at the top level.
// The returned record may be mid-load (StateLoading) when the request
// closes an import cycle.
func (l *Loader) Load(specifier, relativeTo string) (*Module, error) {
	// 1. Cache chain. A Loading record is returned as-is: the
	// placeholder inserted before execution is what stops cycles.
	if m, ok := l.lookup(specifier); ok {
		if m.State == StateError {
			return m, m.Err
		}
		return m, nil
	}

	// 2. Builtin registry.
	if m, ok := lookupBuiltin(specifier); ok {
		l.insert(m)
		l.logger.Debug("loaded builtin", "specifier", specifier)
		return m, nil
	}

	// 3. Package system.
	if l.packages != nil && l.packages.Known(specifier) {
		archivePath, meta, submodule, _ := l.packages.Lookup(specifier)
		return l.loadFromArchive(specifier, archivePath, submodule, meta)
	}

	// 4. Tiered artifact caches.
	if name := bareName(specifier); name != "" {
		if p, ok := l.tiers.FindAny(name); ok {
			return l.loadFromArchive(specifier, p, name, nil)
		}
	}

	// 5. Resolver.
	loc, err := l.resolver.Resolve(specifier, relativeTo)
	if err != nil {
		return nil, err
	}
	switch loc.Kind {
	case KindNative:
		return l.loadNative(specifier, loc.Path)
	case KindArchive:
		return l.loadFromArchive(specifier, loc.Path, bareName(specifier), nil)
	case KindDir:
		return l.loadDirectory(specifier, loc.Path)
	default:
		return l.loadSource(specifier, loc.Path)
	}
}

// Import implements vm.Importer for top-level loads.
func (l *Loader) Import(specifier string) (vm.ModuleRef, error) {
	return l.Load(specifier, "")
}

// Close unloads every record in reverse insertion order. Idempotent.
func (l *Loader) Close() {
	if l.closed {
		return
	}
	l.closed = true
	for i := len(l.order) - 1; i >= 0; i-- {
		l.cache[l.order[i]].Unload()
	}
}

func (l *Loader) lookup(specifier string) (*Module, bool) {
	for cur := l; cur != nil; cur = cur.parent {
		if m, ok := cur.cache[specifier]; ok {
			return m, true
		}
	}
	return nil, false
}

func (l *Loader) insert(m *Module) {
	l.cache[m.Identity] = m
	l.order = append(l.order, m.Identity)
}

// loadSource compiles and executes a plain source file. Compiled
// chunks are cached in the global cache keyed by file mtime; a stale
// or unreadable cache entry falls back to a fresh compile.
func (l *Loader) loadSource(specifier, path string) (*Module, error) {
	chunk, err := l.compileFile(path)
	if err != nil {
		return nil, err
	}

	mod := NewModule(specifier)
	mod.ResolvedPath = path
	l.insert(mod)
	return l.execute(mod, chunk)
}

func (l *Loader) compileFile(path string) (*vm.Chunk, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, path, err)
	}

	if chunk, ok := l.cachedChunk(path); ok {
		return chunk, nil
	}

	program, err := parser.Parse(string(src), path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	chunk, err := vm.Compile(program)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	l.storeChunk(path, chunk)
	return chunk, nil
}

// chunkCachePath keys a compiled-source cache entry by base name and
// modification time, so edits invalidate naturally.
func (l *Loader) chunkCachePath(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name := fmt.Sprintf("%s-%d%s", base, info.ModTime().Unix(), config.BytecodeExt)
	return filepath.Join(l.env.GlobalCacheDir, name), true
}

func (l *Loader) cachedChunk(path string) (*vm.Chunk, bool) {
	cp, ok := l.chunkCachePath(path)
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(cp)
	if err != nil {
		return nil, false
	}
	chunk, err := vm.Deserialize(data)
	if err != nil {
		l.logger.Debug("discarding bad chunk cache entry", "path", cp, "err", err)
		_ = os.Remove(cp)
		return nil, false
	}
	l.logger.Debug("compile cache hit", "source", path)
	return chunk, true
}

func (l *Loader) storeChunk(path string, chunk *vm.Chunk) {
	cp, ok := l.chunkCachePath(path)
	if !ok {
		return
	}
	data, err := vm.Serialize(chunk)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(cp), 0o755); err != nil {
		return
	}
	// Best effort; a failed write just means a recompile next run.
	if err := os.WriteFile(cp, data, 0o644); err != nil {
		l.logger.Debug("chunk cache write failed", "path", cp, "err", err)
	}
}

// execute runs chunk in a fresh VM context whose global scope is the
// record itself, so exports publish live while the body runs.
func (l *Loader) execute(mod *Module, chunk *vm.Chunk) (*Module, error) {
	machine := vm.New(mod, &boundImporter{loader: l, relativeTo: mod.ResolvedPath})
	if err := machine.Run(chunk); err != nil {
		return mod, mod.fail(fmt.Errorf("%w: %s: %v", ErrRuntime, mod.Identity, err))
	}
	mod.State = StateLoaded
	l.logger.Debug("loaded", "specifier", mod.Identity, "path", mod.ResolvedPath,
		"exports", len(mod.ExportNames()))
	return mod, nil
}

// loadFromArchive opens a container and executes the requested
// logical module out of it. Archive validation happens before any
// record is cached, so a corrupt container leaves no trace.
func (l *Loader) loadFromArchive(specifier, archivePath, chunkName string, meta *manifest.Manifest) (*Module, error) {
	a, err := OpenArchive(archivePath)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	if meta == nil {
		meta = a.Metadata()
	}

	if meta.IsNative() {
		return l.loadArchiveNative(specifier, a, meta)
	}

	if chunkName == "" {
		chunkName = meta.Name
	}
	if !a.HasChunk(chunkName) && meta.Entry != "" {
		chunkName = strings.TrimSuffix(meta.Entry, filepath.Ext(meta.Entry))
	}
	data, err := a.Chunk(chunkName)
	if err != nil {
		return nil, err
	}
	chunk, err := vm.Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, archivePath, err)
	}

	mod := NewModule(specifier)
	mod.ResolvedPath = archivePath
	mod.Version = meta.Version
	l.insert(mod)
	defineConstantExports(mod, meta)
	return l.execute(mod, chunk)
}

// loadArchiveNative extracts the platform library from the container
// to a scratch path owned by the record, then hands off to the bridge.
func (l *Loader) loadArchiveNative(specifier string, a *Archive, meta *manifest.Manifest) (*Module, error) {
	filename := libraryFileName(meta.Native.Library)
	dest := scratchLibraryPath(filename)
	if err := a.ExtractNative(l.env.Platform, filename, dest); err != nil {
		return nil, err
	}

	mod := NewModule(specifier)
	mod.ResolvedPath = a.Path()
	mod.tempArtifact = dest
	l.insert(mod)
	if err := l.bridge.loadInto(mod, dest, meta); err != nil {
		return mod, err
	}
	return mod, nil
}

// loadDirectory loads a directory package: manifest plus entry source
// file, or a native library declared by the manifest.
func (l *Loader) loadDirectory(specifier, dir string) (*Module, error) {
	meta, err := manifest.Load(filepath.Join(dir, config.ManifestFile))
	if err != nil {
		return nil, err
	}

	if meta.IsNative() {
		filename := libraryFileName(meta.Native.Library)
		libPath := filepath.Join(dir, filename)
		if !fileExists(libPath) {
			libPath = filepath.Join(dir, "native", l.env.Platform, filename)
		}
		if !fileExists(libPath) {
			return nil, fmt.Errorf("%w: %s: library %s not found", ErrNativeLoad, dir, filename)
		}
		mod := NewModule(specifier)
		mod.ResolvedPath = libPath
		mod.Version = meta.Version
		l.insert(mod)
		if err := l.bridge.loadInto(mod, libPath, meta); err != nil {
			return mod, err
		}
		return mod, nil
	}

	entry := meta.Entry
	if entry == "" {
		entry = "main" + config.SourceFileExt
	}
	entryPath := filepath.Join(dir, entry)
	chunk, err := l.compileFile(entryPath)
	if err != nil {
		return nil, err
	}

	mod := NewModule(specifier)
	mod.ResolvedPath = entryPath
	mod.Version = meta.Version
	l.insert(mod)
	defineConstantExports(mod, meta)
	return l.execute(mod, chunk)
}

// loadNative loads a bare $ specifier: the bridge locates the library
// by platform naming convention, no manifest involved.
func (l *Loader) loadNative(specifier, location string) (*Module, error) {
	libPath, err := l.bridge.locateLibrary(l.env, location)
	if err != nil {
		return nil, err
	}
	mod := NewModule(specifier)
	mod.ResolvedPath = libPath
	l.insert(mod)
	if err := l.bridge.loadInto(mod, libPath, nil); err != nil {
		return mod, err
	}
	return mod, nil
}

// defineConstantExports copies manifest-declared constants into the
// record before execution.
func defineConstantExports(mod *Module, meta *manifest.Manifest) {
	for _, exp := range meta.Exports {
		if exp.Constant != nil {
			mod.Define(exp.Name, vm.NewFloat(*exp.Constant), true)
		}
	}
}

// bareName strips the local prefix down to the name used for
// tier-cache filename scans. Relative, absolute, and native specifiers
// have no tier form, and neither does the two-part package/submodule
// form, which only the package system understands.
func bareName(specifier string) string {
	if strings.HasPrefix(specifier, config.NativePrefix) {
		return ""
	}
	if strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../") || filepath.IsAbs(specifier) {
		return ""
	}
	name := strings.TrimPrefix(specifier, config.LocalPrefix)
	if strings.Contains(name, "/") {
		return ""
	}
	return name
}

// boundImporter carries the importing file's location into nested
// loads so relative specifiers resolve against it.
type boundImporter struct {
	loader     *Loader
	relativeTo string
}

func (b *boundImporter) Import(specifier string) (vm.ModuleRef, error) {
	return b.loader.Load(specifier, b.relativeTo)
}
