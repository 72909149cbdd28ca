package modules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/emberlang/ember/internal/manifest"
	"github.com/emberlang/ember/internal/native"
	"github.com/emberlang/ember/internal/vm"
)

// fakeLibrary stands in for a dlopen'd library.
type fakeLibrary struct {
	initSymbols map[string]bool
	funcs       map[string]native.Func
	initCalls   []string
	closed      bool
}

func (f *fakeLibrary) Init(symbol string) error {
	f.initCalls = append(f.initCalls, symbol)
	if !f.initSymbols[symbol] {
		return native.SymbolError("fake", symbol)
	}
	return nil
}

func (f *fakeLibrary) Func(symbol string) (native.Func, error) {
	fn, ok := f.funcs[symbol]
	if !ok {
		return nil, native.SymbolError("fake", symbol)
	}
	return fn, nil
}

func (f *fakeLibrary) Close() error {
	f.closed = true
	return nil
}

func withFakeLibrary(t *testing.T, lib *fakeLibrary) {
	t.Helper()
	orig := native.Open
	native.Open = func(path string) (native.Library, error) {
		return lib, nil
	}
	t.Cleanup(func() { native.Open = orig })
}

func TestInitSymbolName(t *testing.T) {
	tests := []struct {
		identity string
		want     string
	}{
		{"$crypto", "ember_crypto_module_init"},
		{"$vendor.crypto", "ember_vendor_crypto_module_init"},
		{"@mathx", "ember_mathx_module_init"},
	}
	for _, tt := range tests {
		if got := initSymbol(tt.identity); got != tt.want {
			t.Errorf("initSymbol(%q) = %q, want %q", tt.identity, got, tt.want)
		}
	}
}

func TestNativeQualifiedInitPreferred(t *testing.T) {
	lib := &fakeLibrary{initSymbols: map[string]bool{
		"ember_crypto_module_init": true,
		"ember_module_init":        true,
	}}
	withFakeLibrary(t, lib)

	mod := NewModule("$crypto")
	if err := newNativeBridge().loadInto(mod, "libcrypto.so", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if mod.State != StateLoaded {
		t.Errorf("state = %v, want loaded", mod.State)
	}
	if len(lib.initCalls) != 1 || lib.initCalls[0] != "ember_crypto_module_init" {
		t.Errorf("init calls = %v, want qualified symbol only", lib.initCalls)
	}
}

func TestNativeGenericInitFallback(t *testing.T) {
	lib := &fakeLibrary{initSymbols: map[string]bool{
		"ember_module_init": true,
	}}
	withFakeLibrary(t, lib)

	mod := NewModule("$crypto")
	if err := newNativeBridge().loadInto(mod, "libcrypto.so", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{"ember_crypto_module_init", "ember_module_init"}
	if len(lib.initCalls) != 2 || lib.initCalls[0] != want[0] || lib.initCalls[1] != want[1] {
		t.Errorf("init calls = %v, want %v", lib.initCalls, want)
	}
}

func TestNativeNoInitSymbolFails(t *testing.T) {
	lib := &fakeLibrary{initSymbols: map[string]bool{}}
	withFakeLibrary(t, lib)

	mod := NewModule("$crypto")
	err := newNativeBridge().loadInto(mod, "libcrypto.so", nil)
	if !errors.Is(err, ErrNativeLoad) {
		t.Fatalf("expected ErrNativeLoad, got %v", err)
	}
	if mod.State != StateError {
		t.Errorf("state = %v, want error", mod.State)
	}
}

func TestNativeMissingExportSymbolSkipped(t *testing.T) {
	lib := &fakeLibrary{
		initSymbols: map[string]bool{"ember_module_init": true},
		funcs: map[string]native.Func{
			"mathx_add": func(args []float64) (float64, error) {
				return args[0] + args[1], nil
			},
		},
	}
	withFakeLibrary(t, lib)

	pi := 3.14159
	meta := &manifest.Manifest{
		Name:    "mathx",
		Version: "1.0.0",
		Native:  &manifest.Native{Library: "mathx"},
		Exports: []manifest.Export{
			{Name: "add", NativeName: "mathx_add"},
			{Name: "missing", NativeName: "mathx_gone"},
			{Name: "pi", Constant: &pi},
		},
	}

	mod := NewModule("$mathx")
	if err := newNativeBridge().loadInto(mod, "libmathx.so", meta); err != nil {
		t.Fatalf("load: %v", err)
	}
	if mod.State != StateLoaded {
		t.Fatalf("state = %v, want loaded", mod.State)
	}

	if _, ok := mod.GetExport("missing"); ok {
		t.Error("missing-symbol export should be skipped")
	}
	if v, ok := mod.GetExport("pi"); !ok || v.Float != pi {
		t.Errorf("pi export = %v %v", v, ok)
	}

	add, ok := mod.GetExport("add")
	if !ok || add.Type != vm.BuiltinType {
		t.Fatalf("add export = %v %v", add, ok)
	}
	result, err := add.Builtin().Fn([]vm.Value{vm.NewInt(2), vm.NewFloat(3.5)})
	if err != nil {
		t.Fatalf("call add: %v", err)
	}
	if result.Type != vm.FloatType || result.Float != 5.5 {
		t.Errorf("add(2, 3.5) = %v", result)
	}
}

func TestNativeUnloadClosesLibrary(t *testing.T) {
	lib := &fakeLibrary{initSymbols: map[string]bool{"ember_module_init": true}}
	withFakeLibrary(t, lib)

	mod := NewModule("$crypto")
	if err := newNativeBridge().loadInto(mod, "libcrypto.so", nil); err != nil {
		t.Fatal(err)
	}
	mod.Unload()
	if !lib.closed {
		t.Error("library not closed on unload")
	}
	// Idempotent: a second unload must not close twice or panic.
	lib.closed = false
	mod.Unload()
	if lib.closed {
		t.Error("double unload closed the library again")
	}
}

func TestUnloadRemovesScratchDirectory(t *testing.T) {
	lib := &fakeLibrary{initSymbols: map[string]bool{"ember_module_init": true}}
	withFakeLibrary(t, lib)

	// Stand in for an archive extraction: the library sits in its own
	// scratch directory under the system temp dir.
	dest := scratchLibraryPath("libmathx.so")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte{0}, 0o755); err != nil {
		t.Fatal(err)
	}

	mod := NewModule("mathx")
	mod.tempArtifact = dest
	if err := newNativeBridge().loadInto(mod, dest, nil); err != nil {
		t.Fatal(err)
	}

	mod.Unload()
	if _, err := os.Stat(filepath.Dir(dest)); !os.IsNotExist(err) {
		t.Errorf("scratch directory still present after unload (stat err = %v)", err)
	}
}

func TestLibraryFileName(t *testing.T) {
	// Result depends on the host platform; just check the name is
	// embedded and an extension was added.
	name := libraryFileName("mathx")
	if name == "mathx" {
		t.Errorf("libraryFileName returned bare name %q", name)
	}
}
