package modules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/emberlang/ember/internal/config"
	"github.com/emberlang/ember/internal/manifest"
)

// Environment is the capability surface for everything the module
// runtime reads from the process environment and filesystem layout.
// Constructed once; resolver, loader, and cache tiers take it instead
// of calling os.Getenv themselves.
type Environment struct {
	// WorkDir anchors relative resolution and local cache discovery.
	WorkDir string
	// SearchPaths are probed in order by the resolver.
	SearchPaths []string
	// LocalCacheDir is the project-local artifact cache.
	LocalCacheDir string
	// GlobalCacheDir is the per-user artifact cache.
	GlobalCacheDir string
	// Platform selects native/<platform>/ archive entries.
	Platform string
	// Debug mirrors EMBER_DEBUG.
	Debug bool
}

// projectConfig is the optional ember.yaml at the project root.
type projectConfig struct {
	SearchPaths []string `yaml:"search_paths"`
	Cache       string   `yaml:"cache"`
	Debug       bool     `yaml:"debug"`
}

// NewEnvironment builds an Environment rooted at workDir, layering the
// process environment over an optional ember.yaml project config.
func NewEnvironment(workDir string) (*Environment, error) {
	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return nil, err
	}

	env := &Environment{
		WorkDir:  workDir,
		Platform: runtime.GOOS + "-" + runtime.GOARCH,
		Debug:    os.Getenv(config.EnvDebug) != "",
	}

	cfg, err := loadProjectConfig(workDir)
	if err != nil {
		return nil, err
	}
	if cfg != nil && cfg.Debug {
		env.Debug = true
	}

	// Search order: project dir, project modules/, config entries,
	// then EMBER_PATH entries.
	env.SearchPaths = []string{workDir, filepath.Join(workDir, "modules")}
	if cfg != nil {
		for _, p := range cfg.SearchPaths {
			env.SearchPaths = append(env.SearchPaths, absFrom(workDir, p))
		}
	}
	if extra := os.Getenv(config.EnvSearchPath); extra != "" {
		for _, p := range strings.Split(extra, string(os.PathListSeparator)) {
			if p != "" {
				env.SearchPaths = append(env.SearchPaths, absFrom(workDir, p))
			}
		}
	}

	env.LocalCacheDir = localCacheDir(workDir)
	env.GlobalCacheDir, err = globalCacheDir(cfg)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// ManifestDir returns the nearest ancestor directory of WorkDir that
// holds a module.toml, or "" when the project has none.
func (e *Environment) ManifestDir() string {
	m, err := manifest.Find(e.WorkDir)
	if err != nil {
		return ""
	}
	return m.Dir
}

func loadProjectConfig(workDir string) (*projectConfig, error) {
	path := filepath.Join(workDir, config.ConfigFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg projectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// localCacheDir walks from workDir toward the root looking for a
// module.toml; the project root's .cache is the local tier. Without a
// manifest the working directory itself anchors the cache.
func localCacheDir(workDir string) string {
	if m, err := manifest.Find(workDir); err == nil {
		return filepath.Join(m.Dir, ".cache")
	}
	return filepath.Join(workDir, ".cache")
}

func globalCacheDir(cfg *projectConfig) (string, error) {
	if dir := os.Getenv(config.EnvGlobalCache); dir != "" {
		return dir, nil
	}
	if cfg != nil && cfg.Cache != "" {
		return cfg.Cache, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate global cache: %w", err)
	}
	return filepath.Join(home, ".ember", "cache"), nil
}

func absFrom(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
