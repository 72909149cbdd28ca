package modules

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/emberlang/ember/internal/manifest"
	"github.com/emberlang/ember/internal/vm"
)

func serializedChunk(t *testing.T) []byte {
	t.Helper()
	c := vm.NewChunk()
	c.Constants = append(c.Constants, vm.NewInt(7))
	c.WriteOp(vm.OpConstant, 1)
	c.WriteUint16(0, 1)
	c.WriteOp(vm.OpPop, 1)
	c.WriteOp(vm.OpReturnNil, 1)
	data, err := vm.Serialize(c)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func writeTestArchive(t *testing.T, path string, chunkName string) *manifest.Manifest {
	t.Helper()
	meta := &manifest.Manifest{Name: "demo", Version: "1.2.3"}
	chunks := map[string][]byte{chunkName: serializedChunk(t)}
	if err := WriteArchive(path, meta, chunks, nil); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return meta
}

func TestArchiveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.emod")
	writeTestArchive(t, path, "demo")

	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	meta := a.Metadata()
	if meta.Name != "demo" || meta.Version != "1.2.3" {
		t.Errorf("metadata = %s %s", meta.Name, meta.Version)
	}

	data, err := a.Chunk("demo")
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	chunk, err := vm.Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if len(chunk.Constants) != 1 || chunk.Constants[0].Int != 7 {
		t.Errorf("chunk constants = %v", chunk.Constants)
	}
}

func TestArchiveNamespacePrefixTolerance(t *testing.T) {
	// Entry stored under the namespaced name, requested bare.
	path := filepath.Join(t.TempDir(), "demo.emod")
	writeTestArchive(t, path, "ember.demo")

	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	if _, err := a.Chunk("demo"); err != nil {
		t.Errorf("bare name lookup failed: %v", err)
	}
	if _, err := a.Chunk("ember.demo"); err != nil {
		t.Errorf("namespaced lookup failed: %v", err)
	}

	// And the reverse: stored bare, requested namespaced.
	path2 := filepath.Join(t.TempDir(), "demo2.emod")
	writeTestArchive(t, path2, "demo")
	a2, err := OpenArchive(path2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a2.Close()
	if _, err := a2.Chunk("ember.demo"); err != nil {
		t.Errorf("namespaced lookup of bare entry failed: %v", err)
	}
}

func TestArchiveMissingChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.emod")
	writeTestArchive(t, path, "demo")

	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	if _, err := a.Chunk("absent"); !errors.Is(err, ErrArchiveCorrupt) {
		t.Errorf("expected ErrArchiveCorrupt, got %v", err)
	}
}

func TestOpenArchiveNotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.emod")
	if err := os.WriteFile(path, []byte("this is not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenArchive(path); !errors.Is(err, ErrArchiveCorrupt) {
		t.Fatalf("expected ErrArchiveCorrupt, got %v", err)
	}
}

func TestOpenArchiveMissingMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nometa.emod")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("bytecode/x.emc")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("data")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenArchive(path); !errors.Is(err, ErrArchiveCorrupt) {
		t.Fatalf("expected ErrArchiveCorrupt, got %v", err)
	}
}

func TestArchiveNativeEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nat.emod")
	meta := &manifest.Manifest{
		Name:    "nat",
		Version: "0.1.0",
		Native:  &manifest.Native{Library: "nat"},
	}
	natives := map[string]map[string][]byte{
		"test-platform": {"libnat.so": []byte("ELF-ish")},
	}
	if err := WriteArchive(path, meta, nil, natives); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, err := OpenArchive(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	files := a.NativeFiles("test-platform")
	if len(files) != 1 || files[0] != "libnat.so" {
		t.Fatalf("native files = %v", files)
	}

	dest := filepath.Join(t.TempDir(), "scratch", "libnat.so")
	if err := a.ExtractNative("test-platform", "libnat.so", dest); err != nil {
		t.Fatalf("extract: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "ELF-ish" {
		t.Errorf("extracted content = %q, err %v", data, err)
	}

	if err := a.ExtractNative("other-platform", "libnat.so", dest); !errors.Is(err, ErrNativeLoad) {
		t.Errorf("expected ErrNativeLoad for missing platform, got %v", err)
	}
}
