package modules

import "errors"

// Sentinel errors for the load pipeline. Callers match with errors.Is;
// wrapped messages carry the specifier and path context.
var (
	// ErrNotFound: no resolution rule produced an existing artifact.
	ErrNotFound = errors.New("module not found")
	// ErrArchiveCorrupt: a container or bytecode entry failed
	// structural validation.
	ErrArchiveCorrupt = errors.New("archive corrupt")
	// ErrCompile: source parse or compile failure.
	ErrCompile = errors.New("compile error")
	// ErrRuntime: module top-level execution failed.
	ErrRuntime = errors.New("runtime error")
	// ErrNativeLoad: dynamic library missing, unloadable, or lacking
	// an init symbol.
	ErrNativeLoad = errors.New("native library load failed")
	// ErrNativeSymbol: a declared export's symbol is absent. Per
	// export this is non-fatal; the export is skipped.
	ErrNativeSymbol = errors.New("native symbol not found")
)
