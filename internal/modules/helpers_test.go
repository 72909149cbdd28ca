package modules

import (
	"testing"

	"github.com/emberlang/ember/internal/manifest"
	"github.com/emberlang/ember/internal/parser"
	"github.com/emberlang/ember/internal/vm"
)

func compileSource(t *testing.T, src string) []byte {
	t.Helper()
	program, err := parser.Parse(src, "test.em")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chunk, err := vm.Compile(program)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	data, err := vm.Serialize(chunk)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return data
}

func writeArchiveFromSource(t *testing.T, path, name, src string) {
	t.Helper()
	meta := &manifest.Manifest{Name: name, Version: "9.9.9"}
	chunks := map[string][]byte{name: compileSource(t, src)}
	if err := WriteArchive(path, meta, chunks, nil); err != nil {
		t.Fatalf("write archive: %v", err)
	}
}

func writeMultiModuleArchive(t *testing.T, path, name string, sources map[string]string) {
	t.Helper()
	var submodules []string
	chunks := make(map[string][]byte, len(sources))
	for logical, src := range sources {
		chunks[logical] = compileSource(t, src)
		if logical != name {
			submodules = append(submodules, logical)
		}
	}
	meta := &manifest.Manifest{Name: name, Version: "1.0.0", Modules: submodules}
	if err := WriteArchive(path, meta, chunks, nil); err != nil {
		t.Fatalf("write archive: %v", err)
	}
}
