package modules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/emberlang/ember/internal/config"
	"github.com/emberlang/ember/internal/manifest"
)

// Tier selects one of the two artifact cache locations.
type Tier int

const (
	// TierLocal is the project cache, <project root>/.cache.
	TierLocal Tier = iota
	// TierGlobal is the per-user cache, ~/.ember/cache or EMBER_CACHE.
	TierGlobal
)

func (t Tier) String() string {
	if t == TierLocal {
		return "local"
	}
	return "global"
}

const indexFile = "installed.toml"

// InstalledEntry is one row of a tier's installed.toml index.
type InstalledEntry struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Path    string `toml:"path"`
}

type installedIndex struct {
	Packages []InstalledEntry `toml:"package"`
}

// TierCache finds and installs prebuilt module archives across the
// local and global tiers.
type TierCache struct {
	env    *Environment
	logger *log.Logger
}

func NewTierCache(env *Environment) *TierCache {
	return &TierCache{env: env, logger: newLogger("cache")}
}

func (c *TierCache) dir(tier Tier) string {
	if tier == TierLocal {
		return c.env.LocalCacheDir
	}
	return c.env.GlobalCacheDir
}

// Find scans one tier's directory for the first filename containing
// the module name and the archive extension. The scan is
// version-unaware: with several installed versions, directory order
// decides.
func (c *TierCache) Find(name string, tier Tier) (string, bool) {
	entries, err := os.ReadDir(c.dir(tier))
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		fn := e.Name()
		if e.IsDir() || !strings.HasSuffix(fn, config.ArchiveExt) {
			continue
		}
		if strings.Contains(fn, name) {
			p := filepath.Join(c.dir(tier), fn)
			c.logger.Debug("cache hit", "name", name, "tier", tier, "path", p)
			return p, true
		}
	}
	return "", false
}

// FindAny probes the local tier before the global tier.
func (c *TierCache) FindAny(name string) (string, bool) {
	if p, ok := c.Find(name, TierLocal); ok {
		return p, true
	}
	return c.Find(name, TierGlobal)
}

// Install copies an archive into a tier under the canonical
// <name>-<version>.emod filename. The copy goes to a temp file in the
// target directory first and is renamed into place, so a concurrent
// reader never sees a partial artifact. The tier's installed.toml
// index is updated afterwards.
func (c *TierCache) Install(artifactPath string, meta *manifest.Manifest, tier Tier) (string, error) {
	dir := c.dir(tier)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	dest := filepath.Join(dir, fmt.Sprintf("%s-%s%s", meta.Name, meta.Version, config.ArchiveExt))
	if err := copyAtomic(artifactPath, dest); err != nil {
		return "", fmt.Errorf("install %s: %w", meta.Name, err)
	}

	if err := c.recordInstall(dir, InstalledEntry{Name: meta.Name, Version: meta.Version, Path: dest}); err != nil {
		return "", err
	}
	c.logger.Info("installed", "name", meta.Name, "version", meta.Version, "tier", tier)
	return dest, nil
}

// Installed returns the index entries of a tier, sorted by name.
func (c *TierCache) Installed(tier Tier) ([]InstalledEntry, error) {
	idx, err := readIndex(filepath.Join(c.dir(tier), indexFile))
	if err != nil {
		return nil, err
	}
	sort.Slice(idx.Packages, func(i, j int) bool {
		return idx.Packages[i].Name < idx.Packages[j].Name
	})
	return idx.Packages, nil
}

func (c *TierCache) recordInstall(dir string, entry InstalledEntry) error {
	path := filepath.Join(dir, indexFile)
	idx, err := readIndex(path)
	if err != nil {
		return err
	}
	replaced := false
	for i, p := range idx.Packages {
		if p.Name == entry.Name && p.Version == entry.Version {
			idx.Packages[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		idx.Packages = append(idx.Packages, entry)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(idx); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func readIndex(path string) (*installedIndex, error) {
	var idx installedIndex
	if _, err := toml.DecodeFile(path, &idx); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &idx, nil
}

func copyAtomic(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".install-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
