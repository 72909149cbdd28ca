package config

// SourceFileExt is the canonical source file extension.
const SourceFileExt = ".em"

// SourceFileExtensions are all recognized source file extensions.
var SourceFileExtensions = []string{".em", ".ember"}

// ArchiveExt is the extension for compiled module archives.
const ArchiveExt = ".emod"

// BytecodeExt is the extension for serialized bytecode chunks.
const BytecodeExt = ".emc"

// ManifestFile is the project manifest filename looked up during
// local cache discovery and directory-package loading.
const ManifestFile = "module.toml"

// ConfigFile is the optional per-project runtime configuration.
const ConfigFile = "ember.yaml"

// Import specifier prefixes.
const (
	LocalPrefix  = "@" // search-path module lookup
	NativePrefix = "$" // dynamic library, resolution deferred to the native bridge
)

// BytecodeNamespace prefixes logical chunk names inside archives
// (e.g. "ember.util" and "util" name the same entry).
const BytecodeNamespace = "ember."

// Environment variables consumed by the runtime.
const (
	EnvGlobalCache = "EMBER_CACHE" // overrides the global cache directory
	EnvSearchPath  = "EMBER_PATH"  // extra search paths, os.PathListSeparator-joined
	EnvDebug       = "EMBER_DEBUG" // any non-empty value enables debug logging
)

// Native module init symbol conventions. The qualified form is
// "ember_" + specifier with dots converted to underscores + "_module_init".
const (
	InitSymbolPrefix  = "ember_"
	InitSymbolSuffix  = "_module_init"
	GenericInitSymbol = "ember_module_init"
)
