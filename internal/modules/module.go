package modules

import (
	"os"
	"path/filepath"

	"github.com/emberlang/ember/internal/native"
	"github.com/emberlang/ember/internal/vm"
)

// ModuleState tracks a record through the load pipeline.
type ModuleState int

const (
	// StateLoading: record is cached but top-level code has not
	// finished executing. Cyclic importers observe this state.
	StateLoading ModuleState = iota
	// StateLoaded: execution finished, exports are final.
	StateLoaded
	// StateError: load or execution failed; the record stays cached
	// so repeated imports fail fast.
	StateError
)

var stateNames = [...]string{"loading", "loaded", "error"}

func (s ModuleState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Module is one record in a loader's cache: the unit of identity,
// state, and visibility for an imported module.
type Module struct {
	// Identity is the specifier exactly as written at the import
	// site. Cache keys use it verbatim.
	Identity string
	// ResolvedPath is the artifact the resolver chose, empty for
	// builtins.
	ResolvedPath string
	Version      string
	State        ModuleState
	// Err records why a StateError record failed.
	Err error

	scope       *ScopeTable
	exportOrder []string

	// lib is the open native library, when the module is backed by
	// one. tempArtifact is a scratch file extracted from an archive.
	lib          native.Library
	tempArtifact string

	unloaded bool
}

func NewModule(identity string) *Module {
	return &Module{Identity: identity, State: StateLoading, scope: NewScopeTable()}
}

// ModuleName implements vm.ModuleRef.
func (m *Module) ModuleName() string { return m.Identity }

// GetExport returns a public binding. Private bindings and unknown
// names both report false. Reads the live scope, so a cyclic importer
// sees whatever the module defined before the cycle closed. A failed
// module exposes nothing, even bindings defined before the failure.
func (m *Module) GetExport(name string) (vm.Value, bool) {
	if m.State == StateError {
		return vm.Nil(), false
	}
	if !m.scope.IsExported(name) {
		return vm.Nil(), false
	}
	return m.scope.Get(name)
}

// ExportNames returns exported names in definition order.
func (m *Module) ExportNames() []string {
	names := make([]string, len(m.exportOrder))
	copy(names, m.exportOrder)
	return names
}

// Define implements vm.Scope. Exported bindings become visible to
// importers the moment they are defined.
func (m *Module) Define(name string, v vm.Value, public bool) {
	if public && !m.scope.IsExported(name) {
		m.exportOrder = append(m.exportOrder, name)
	}
	m.scope.Define(name, v, public)
}

// Assign implements vm.Scope.
func (m *Module) Assign(name string, v vm.Value) bool {
	return m.scope.Assign(name, v)
}

// Get implements vm.Scope.
func (m *Module) Get(name string) (vm.Value, bool) {
	return m.scope.Get(name)
}

// Scope exposes the underlying table for inspection.
func (m *Module) Scope() *ScopeTable { return m.scope }

func (m *Module) setNative(lib native.Library, tempArtifact string) {
	m.lib = lib
	m.tempArtifact = tempArtifact
}

// fail marks the record failed and returns err for convenience.
func (m *Module) fail(err error) error {
	m.State = StateError
	m.Err = err
	return err
}

// Unload releases the module's external resources: the native library
// handle and any extracted scratch artifact. Idempotent and
// best-effort; an Error-state record unloads cleanly.
func (m *Module) Unload() {
	if m.unloaded {
		return
	}
	m.unloaded = true
	if m.lib != nil {
		_ = m.lib.Close()
		m.lib = nil
	}
	if m.tempArtifact != "" {
		// The artifact lives in its own pid+uuid scratch directory.
		_ = os.RemoveAll(filepath.Dir(m.tempArtifact))
		m.tempArtifact = ""
	}
}
