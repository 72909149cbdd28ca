package modules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/emberlang/ember/internal/config"
	"github.com/emberlang/ember/internal/manifest"
	"github.com/emberlang/ember/internal/native"
	"github.com/emberlang/ember/internal/vm"
)

// libraryFileName expands a platform-neutral library name to the
// host's naming convention.
func libraryFileName(name string) string {
	switch runtime.GOOS {
	case "windows":
		return name + ".dll"
	case "darwin":
		return "lib" + name + ".dylib"
	default:
		return "lib" + name + ".so"
	}
}

// initSymbol builds the qualified init symbol for a module identity:
// dots become underscores, so "$vendor.crypto" initializes through
// ember_vendor_crypto_module_init.
func initSymbol(identity string) string {
	name := strings.TrimLeft(identity, config.LocalPrefix+config.NativePrefix)
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, "/", "_")
	return config.InitSymbolPrefix + name + config.InitSymbolSuffix
}

// scratchLibraryPath returns a collision-free extraction target for an
// embedded native library. The directory is qualified by process id
// and a random id so concurrent runtimes never clobber each other.
func scratchLibraryPath(filename string) string {
	dir := fmt.Sprintf("ember-%d-%s", os.Getpid(), uuid.NewString())
	return filepath.Join(os.TempDir(), dir, filename)
}

type nativeBridge struct {
	logger *log.Logger
}

func newNativeBridge() *nativeBridge {
	return &nativeBridge{logger: newLogger("native")}
}

// locateLibrary finds the library file for a bare native specifier.
// The remainder of a $ specifier may be an explicit path or a plain
// name expanded per platform convention against the search paths.
func (b *nativeBridge) locateLibrary(env *Environment, location string) (string, error) {
	if filepath.IsAbs(location) || strings.ContainsRune(location, filepath.Separator) {
		if fileExists(location) {
			return location, nil
		}
		return "", fmt.Errorf("%w: %s", ErrNativeLoad, location)
	}
	filename := libraryFileName(location)
	for _, dir := range env.SearchPaths {
		for _, candidate := range []string{
			filepath.Join(dir, filename),
			filepath.Join(dir, "native", filename),
		} {
			if fileExists(candidate) {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w: library %s not found", ErrNativeLoad, filename)
}

// loadInto opens the library at libPath and populates mod from it.
// The qualified init symbol is preferred; the generic one is the
// fallback. Neither being present, or init failing, is fatal for the
// module. Declared exports from meta (may be nil) are resolved
// per-symbol; a missing export symbol is skipped with a warning.
func (b *nativeBridge) loadInto(mod *Module, libPath string, meta *manifest.Manifest) error {
	lib, err := native.Open(libPath)
	if err != nil {
		return mod.fail(fmt.Errorf("%w: %s: %v", ErrNativeLoad, libPath, err))
	}
	mod.setNative(lib, mod.tempArtifact)

	if err := b.runInit(lib, mod.Identity, libPath); err != nil {
		return mod.fail(err)
	}

	if meta != nil {
		b.bindExports(mod, lib, meta.Exports)
		mod.Version = meta.Version
	}
	mod.State = StateLoaded
	return nil
}

func (b *nativeBridge) runInit(lib native.Library, identity, libPath string) error {
	qualified := initSymbol(identity)
	err := lib.Init(qualified)
	if err == nil {
		b.logger.Debug("initialized", "lib", libPath, "symbol", qualified)
		return nil
	}
	if !errors.Is(err, native.ErrSymbolNotFound) {
		return fmt.Errorf("%w: %s: %v", ErrNativeLoad, libPath, err)
	}
	err = lib.Init(config.GenericInitSymbol)
	if err == nil {
		b.logger.Debug("initialized", "lib", libPath, "symbol", config.GenericInitSymbol)
		return nil
	}
	if errors.Is(err, native.ErrSymbolNotFound) {
		return fmt.Errorf("%w: %s: no init symbol (%s or %s)", ErrNativeLoad, libPath, qualified, config.GenericInitSymbol)
	}
	return fmt.Errorf("%w: %s: %v", ErrNativeLoad, libPath, err)
}

func (b *nativeBridge) bindExports(mod *Module, lib native.Library, exports []manifest.Export) {
	for _, exp := range exports {
		switch {
		case exp.Constant != nil:
			mod.Define(exp.Name, vm.NewFloat(*exp.Constant), true)
		case exp.NativeName != "":
			fn, err := lib.Func(exp.NativeName)
			if err != nil {
				// Non-fatal: skip the export, keep loading.
				b.logger.Warn("skipping export", "module", mod.Identity,
					"export", exp.Name, "symbol", exp.NativeName, "err", ErrNativeSymbol)
				continue
			}
			mod.Define(exp.Name, wrapNativeFunc(exp.Name, fn), true)
		default:
			b.logger.Warn("export declares neither symbol nor constant",
				"module", mod.Identity, "export", exp.Name)
		}
	}
}

// wrapNativeFunc adapts the numeric native ABI to a callable value.
// Arguments must be numbers; results come back as floats.
func wrapNativeFunc(name string, fn native.Func) vm.Value {
	return vm.NewBuiltin(name, func(args []vm.Value) (vm.Value, error) {
		nums := make([]float64, len(args))
		for i, a := range args {
			x, ok := asNumber(a)
			if !ok {
				return vm.Nil(), fmt.Errorf("argument %d: expected number, got %s", i+1, a.Type)
			}
			nums[i] = x
		}
		out, err := fn(nums)
		if err != nil {
			return vm.Nil(), err
		}
		return vm.NewFloat(out), nil
	})
}
