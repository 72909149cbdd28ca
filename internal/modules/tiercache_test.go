package modules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/emberlang/ember/internal/manifest"
)

func TestInstallNamingAndIndex(t *testing.T) {
	env := testEnv(t)
	cache := NewTierCache(env)

	src := filepath.Join(t.TempDir(), "built.emod")
	writeTestArchive(t, src, "pkg")
	meta := &manifest.Manifest{Name: "pkg", Version: "2.0.1"}

	dest, err := cache.Install(src, meta, TierLocal)
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if filepath.Base(dest) != "pkg-2.0.1.emod" {
		t.Errorf("installed as %s", filepath.Base(dest))
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("artifact missing: %v", err)
	}

	entries, err := cache.Installed(TierLocal)
	if err != nil {
		t.Fatalf("installed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "pkg" || entries[0].Version != "2.0.1" {
		t.Errorf("index entries = %+v", entries)
	}

	// Reinstall replaces the index row instead of duplicating it.
	if _, err := cache.Install(src, meta, TierLocal); err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	entries, _ = cache.Installed(TierLocal)
	if len(entries) != 1 {
		t.Errorf("index has %d entries after reinstall, want 1", len(entries))
	}
}

func TestInstallLeavesNoTempFiles(t *testing.T) {
	env := testEnv(t)
	cache := NewTierCache(env)

	src := filepath.Join(t.TempDir(), "built.emod")
	writeTestArchive(t, src, "pkg")
	if _, err := cache.Install(src, &manifest.Manifest{Name: "pkg", Version: "1.0.0"}, TierLocal); err != nil {
		t.Fatal(err)
	}

	files, err := os.ReadDir(env.LocalCacheDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if f.Name() != "pkg-1.0.0.emod" && f.Name() != "installed.toml" {
			t.Errorf("unexpected file %s left in cache dir", f.Name())
		}
	}
}

func TestFindScansByNameSubstring(t *testing.T) {
	env := testEnv(t)
	cache := NewTierCache(env)

	writeFile(t, filepath.Join(env.LocalCacheDir, "other-1.0.0.emod"), "x")
	writeFile(t, filepath.Join(env.LocalCacheDir, "util-3.1.4.emod"), "x")
	writeFile(t, filepath.Join(env.LocalCacheDir, "util-notes.txt"), "x")

	p, ok := cache.Find("util", TierLocal)
	if !ok {
		t.Fatal("expected a hit")
	}
	if filepath.Base(p) != "util-3.1.4.emod" {
		t.Errorf("found %s", p)
	}

	if _, ok := cache.Find("absent", TierLocal); ok {
		t.Error("unexpected hit for absent name")
	}
}

func TestFindAnyPrefersLocalTier(t *testing.T) {
	env := testEnv(t)
	cache := NewTierCache(env)

	writeFile(t, filepath.Join(env.LocalCacheDir, "dual-1.0.0.emod"), "local")
	writeFile(t, filepath.Join(env.GlobalCacheDir, "dual-2.0.0.emod"), "global")

	p, ok := cache.FindAny("dual")
	if !ok {
		t.Fatal("expected a hit")
	}
	if filepath.Dir(p) != env.LocalCacheDir {
		t.Errorf("FindAny chose %s, want local tier", p)
	}

	// Global only.
	p, ok = cache.FindAny("dual-2")
	if !ok || filepath.Dir(p) != env.GlobalCacheDir {
		t.Errorf("FindAny(dual-2) = %s %v, want global hit", p, ok)
	}
}

func TestFindMissingTierDirectory(t *testing.T) {
	env := testEnv(t)
	cache := NewTierCache(env)
	// Neither cache directory exists yet.
	if _, ok := cache.FindAny("anything"); ok {
		t.Error("expected miss when cache dirs do not exist")
	}
}
