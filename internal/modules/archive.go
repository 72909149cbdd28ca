package modules

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/emberlang/ember/internal/config"
	"github.com/emberlang/ember/internal/manifest"
)

// Archive entry layout inside a .emod container:
//
//	module.toml                  metadata
//	bytecode/<logical>.emc       compiled chunks
//	native/<platform>/<file>     embedded dynamic libraries
const (
	archiveManifestEntry = "module.toml"
	archiveBytecodeDir   = "bytecode"
	archiveNativeDir     = "native"
)

// Archive reads a .emod container.
type Archive struct {
	path string
	zr   *zip.ReadCloser
	meta *manifest.Manifest
}

// OpenArchive opens and validates a container. A file that is not a
// ZIP, or one without a readable metadata entry, is ErrArchiveCorrupt.
func OpenArchive(path string) (*Archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, path, err)
	}
	a := &Archive{path: path, zr: zr}
	data, err := a.readEntry(archiveManifestEntry)
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: %s: missing metadata entry", ErrArchiveCorrupt, path)
	}
	meta, err := manifest.Parse(data, filepath.Dir(path))
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, path, err)
	}
	a.meta = meta
	return a, nil
}

// Metadata returns the parsed module.toml entry.
func (a *Archive) Metadata() *manifest.Manifest { return a.meta }

// Path returns the container's filesystem path.
func (a *Archive) Path() string { return a.path }

// Chunk returns the serialized bytecode entry for a logical module
// name. Names are matched with and without the "ember." namespace
// prefix, so "util" finds an entry stored as "ember.util" and vice
// versa.
func (a *Archive) Chunk(name string) ([]byte, error) {
	candidates := []string{name}
	if trimmed, ok := strings.CutPrefix(name, config.BytecodeNamespace); ok {
		candidates = append(candidates, trimmed)
	} else {
		candidates = append(candidates, config.BytecodeNamespace+name)
	}
	for _, c := range candidates {
		data, err := a.readEntry(path.Join(archiveBytecodeDir, c+config.BytecodeExt))
		if err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("%w: %s: no bytecode entry for %q", ErrArchiveCorrupt, a.path, name)
}

// HasChunk reports whether a bytecode entry exists for name.
func (a *Archive) HasChunk(name string) bool {
	_, err := a.Chunk(name)
	return err == nil
}

// ExtractNative copies the embedded library for platform to destPath.
func (a *Archive) ExtractNative(platform, filename, destPath string) error {
	data, err := a.readEntry(path.Join(archiveNativeDir, platform, filename))
	if err != nil {
		return fmt.Errorf("%w: no native entry for %s/%s", ErrNativeLoad, platform, filename)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, data, 0o755)
}

// NativeFiles lists embedded library filenames for platform.
func (a *Archive) NativeFiles(platform string) []string {
	prefix := archiveNativeDir + "/" + platform + "/"
	var names []string
	for _, f := range a.zr.File {
		if strings.HasPrefix(f.Name, prefix) && f.Name != prefix {
			names = append(names, strings.TrimPrefix(f.Name, prefix))
		}
	}
	return names
}

func (a *Archive) Close() error { return a.zr.Close() }

func (a *Archive) readEntry(name string) ([]byte, error) {
	for _, f := range a.zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: entry %s: %v", ErrArchiveCorrupt, a.path, name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: entry %s: %v", ErrArchiveCorrupt, a.path, name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("entry %s not found", name)
}

// WriteArchive builds a container atomically: the ZIP is assembled in
// a temp file next to destPath, then renamed into place. chunks maps
// logical names to serialized bytecode; natives maps platform to
// filename to content.
func WriteArchive(destPath string, meta *manifest.Manifest, chunks map[string][]byte, natives map[string]map[string][]byte) error {
	var metaBuf bytes.Buffer
	if err := toml.NewEncoder(&metaBuf).Encode(meta); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".emod-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	zw := zip.NewWriter(tmp)
	write := func(name string, data []byte) error {
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	if err := write(archiveManifestEntry, metaBuf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	for name, data := range chunks {
		if err := write(path.Join(archiveBytecodeDir, name+config.BytecodeExt), data); err != nil {
			tmp.Close()
			return err
		}
	}
	for platform, files := range natives {
		for filename, data := range files {
			if err := write(path.Join(archiveNativeDir, platform, filename), data); err != nil {
				tmp.Close()
				return err
			}
		}
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), destPath)
}
