package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/emberlang/ember/internal/config"
	"github.com/emberlang/ember/internal/manifest"
	"github.com/emberlang/ember/internal/modules"
	"github.com/emberlang/ember/internal/parser"
	"github.com/emberlang/ember/internal/vm"
)

var version = "dev"

func main() {
	setupLogging()
	root := &cobra.Command{
		Use:           "ember",
		Short:         "Ember language toolchain",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), buildCmd(), installCmd(), cacheCmd(), disasmCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ember:", err)
		os.Exit(1)
	}
}

func setupLogging() {
	opts := log.Options{ReportTimestamp: false}
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		// Plain logfmt when output is piped.
		opts.Formatter = log.LogfmtFormatter
	}
	log.SetDefault(log.NewWithOptions(os.Stderr, opts))
	if os.Getenv(config.EnvDebug) != "" {
		log.SetLevel(log.DebugLevel)
	}
}

func newLoader() (*modules.Loader, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	env, err := modules.NewEnvironment(wd)
	if err != nil {
		return nil, err
	}
	return modules.NewLoader(env), nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file|specifier>",
		Short: "Execute a source file or module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := newLoader()
			if err != nil {
				return err
			}
			defer loader.Close()

			spec := args[0]
			if info, err := os.Stat(spec); err == nil && !info.IsDir() {
				abs, err := filepath.Abs(spec)
				if err != nil {
					return err
				}
				spec = abs
			}
			_, err = loader.Load(spec, "")
			return err
		},
	}
}

func buildCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "build <dir>",
		Short: "Compile a module directory into an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := output
			meta, err := manifest.Load(filepath.Join(args[0], config.ManifestFile))
			if err != nil {
				return err
			}
			if dest == "" {
				dest = fmt.Sprintf("%s-%s%s", meta.Name, meta.Version, config.ArchiveExt)
			}
			if err := buildArchive(args[0], meta, dest); err != nil {
				return err
			}
			log.Info("built", "archive", dest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive output path")
	return cmd
}

// buildArchive compiles the entry module and every declared submodule
// into bytecode entries of a fresh container.
func buildArchive(dir string, meta *manifest.Manifest, dest string) error {
	chunks := make(map[string][]byte)

	compileInto := func(logical, filename string) error {
		path := filepath.Join(dir, filename)
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		program, err := parser.Parse(string(src), path)
		if err != nil {
			return err
		}
		chunk, err := vm.Compile(program)
		if err != nil {
			return err
		}
		data, err := vm.Serialize(chunk)
		if err != nil {
			return err
		}
		chunks[logical] = data
		return nil
	}

	entry := meta.Entry
	if entry == "" {
		entry = "main" + config.SourceFileExt
	}
	if err := compileInto(meta.Name, entry); err != nil {
		return err
	}
	for _, sub := range meta.Modules {
		if err := compileInto(sub, sub+config.SourceFileExt); err != nil {
			return err
		}
	}

	natives, err := collectNatives(dir)
	if err != nil {
		return err
	}
	return modules.WriteArchive(dest, meta, chunks, natives)
}

// collectNatives picks up prebuilt libraries from <dir>/native/<platform>/.
func collectNatives(dir string) (map[string]map[string][]byte, error) {
	root := filepath.Join(dir, "native")
	platforms, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make(map[string]map[string][]byte)
	for _, p := range platforms {
		if !p.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, p.Name()))
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(root, p.Name(), f.Name()))
			if err != nil {
				return nil, err
			}
			if out[p.Name()] == nil {
				out[p.Name()] = make(map[string][]byte)
			}
			out[p.Name()][f.Name()] = data
		}
	}
	return out, nil
}

func installCmd() *cobra.Command {
	var global bool
	cmd := &cobra.Command{
		Use:   "install <archive|dir>",
		Short: "Install a module archive into a cache tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			env, err := modules.NewEnvironment(wd)
			if err != nil {
				return err
			}

			src := args[0]
			info, err := os.Stat(src)
			if err != nil {
				return err
			}
			if info.IsDir() {
				meta, err := manifest.Load(filepath.Join(src, config.ManifestFile))
				if err != nil {
					return err
				}
				tmp := filepath.Join(os.TempDir(), meta.Name+config.ArchiveExt)
				defer os.Remove(tmp)
				if err := buildArchive(src, meta, tmp); err != nil {
					return err
				}
				src = tmp
			}

			a, err := modules.OpenArchive(src)
			if err != nil {
				return err
			}
			meta := a.Metadata()
			a.Close()

			tier := modules.TierLocal
			if global {
				tier = modules.TierGlobal
			}
			dest, err := modules.NewTierCache(env).Install(src, meta, tier)
			if err != nil {
				return err
			}
			log.Info("installed", "name", meta.Name, "version", meta.Version, "path", dest)
			return nil
		},
	}
	cmd.Flags().BoolVar(&global, "global", false, "install into the per-user cache")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the artifact caches",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List installed archives in both tiers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			env, err := modules.NewEnvironment(wd)
			if err != nil {
				return err
			}
			cache := modules.NewTierCache(env)
			for _, tier := range []modules.Tier{modules.TierLocal, modules.TierGlobal} {
				entries, err := cache.Installed(tier)
				if err != nil {
					return err
				}
				fmt.Printf("%s:\n", tier)
				if len(entries) == 0 {
					fmt.Println("  (empty)")
					continue
				}
				for _, e := range entries {
					fmt.Printf("  %s %s  %s\n", e.Name, e.Version, e.Path)
				}
			}
			return nil
		},
	})
	return cmd
}

func disasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <file.emc>",
		Short: "Disassemble a compiled bytecode file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			chunk, err := vm.Deserialize(data)
			if err != nil {
				return err
			}
			name := strings.TrimSuffix(filepath.Base(args[0]), config.BytecodeExt)
			fmt.Print(chunk.Disassemble(name))
			return nil
		},
	}
}
