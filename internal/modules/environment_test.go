package modules

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvironmentDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EMBER_CACHE", "")
	t.Setenv("EMBER_PATH", "")
	t.Setenv("EMBER_DEBUG", "")

	env, err := NewEnvironment(dir)
	if err != nil {
		t.Fatalf("new environment: %v", err)
	}
	if env.WorkDir != dir {
		t.Errorf("workdir = %s", env.WorkDir)
	}
	if len(env.SearchPaths) < 2 || env.SearchPaths[0] != dir {
		t.Errorf("search paths = %v", env.SearchPaths)
	}
	if env.SearchPaths[1] != filepath.Join(dir, "modules") {
		t.Errorf("search paths = %v", env.SearchPaths)
	}
	if env.Debug {
		t.Error("debug on without EMBER_DEBUG")
	}
}

func TestEnvironmentCacheOverride(t *testing.T) {
	override := t.TempDir()
	t.Setenv("EMBER_CACHE", override)

	env, err := NewEnvironment(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if env.GlobalCacheDir != override {
		t.Errorf("global cache = %s, want %s", env.GlobalCacheDir, override)
	}
}

func TestEnvironmentSearchPathVar(t *testing.T) {
	extra := t.TempDir()
	t.Setenv("EMBER_CACHE", t.TempDir())
	t.Setenv("EMBER_PATH", extra)

	env, err := NewEnvironment(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, p := range env.SearchPaths {
		if p == extra {
			found = true
		}
	}
	if !found {
		t.Errorf("EMBER_PATH entry missing from %v", env.SearchPaths)
	}
}

func TestEnvironmentProjectConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EMBER_CACHE", "")
	cfgCache := filepath.Join(dir, "custom-cache")
	writeFile(t, filepath.Join(dir, "ember.yaml"),
		"search_paths:\n  - vendor\ncache: "+cfgCache+"\ndebug: true\n")

	env, err := NewEnvironment(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !env.Debug {
		t.Error("config debug not applied")
	}
	if env.GlobalCacheDir != cfgCache {
		t.Errorf("global cache = %s", env.GlobalCacheDir)
	}
	found := false
	for _, p := range env.SearchPaths {
		if p == filepath.Join(dir, "vendor") {
			found = true
		}
	}
	if !found {
		t.Errorf("config search path missing from %v", env.SearchPaths)
	}
}

func TestEnvironmentLocalCacheFollowsManifest(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "module.toml"), "name = \"proj\"\n")
	nested := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EMBER_CACHE", t.TempDir())

	env, err := NewEnvironment(nested)
	if err != nil {
		t.Fatal(err)
	}
	if env.LocalCacheDir != filepath.Join(root, ".cache") {
		t.Errorf("local cache = %s, want project root .cache", env.LocalCacheDir)
	}
}
