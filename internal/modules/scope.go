package modules

import "github.com/emberlang/ember/internal/vm"

const (
	scopeInitialCapacity = 16
	scopeMaxLoadFactor   = 0.75
)

type scopeEntry struct {
	name     string
	value    vm.Value
	exported bool
	used     bool
}

// ScopeTable stores a module's top-level bindings. Open addressing
// with linear probing; capacity is always a power of two and doubles
// when the load factor would pass 0.75. Redefining an existing name
// updates the entry in place.
type ScopeTable struct {
	entries []scopeEntry
	count   int
}

func NewScopeTable() *ScopeTable {
	return &ScopeTable{entries: make([]scopeEntry, scopeInitialCapacity)}
}

// fnv1a, 32-bit.
func hashName(name string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return h
}

func (s *ScopeTable) slot(name string) int {
	mask := uint32(len(s.entries) - 1)
	i := hashName(name) & mask
	for {
		e := &s.entries[i]
		if !e.used || e.name == name {
			return int(i)
		}
		i = (i + 1) & mask
	}
}

// Define creates or replaces a binding.
func (s *ScopeTable) Define(name string, v vm.Value, exported bool) {
	if float64(s.count+1) > float64(len(s.entries))*scopeMaxLoadFactor {
		s.grow()
	}
	e := &s.entries[s.slot(name)]
	if !e.used {
		s.count++
	}
	*e = scopeEntry{name: name, value: v, exported: exported, used: true}
}

// Assign overwrites an existing binding keeping its visibility.
func (s *ScopeTable) Assign(name string, v vm.Value) bool {
	e := &s.entries[s.slot(name)]
	if !e.used {
		return false
	}
	e.value = v
	return true
}

// Get returns a binding regardless of visibility.
func (s *ScopeTable) Get(name string) (vm.Value, bool) {
	e := &s.entries[s.slot(name)]
	if !e.used {
		return vm.Nil(), false
	}
	return e.value, true
}

// Has reports whether name is bound.
func (s *ScopeTable) Has(name string) bool {
	return s.entries[s.slot(name)].used
}

// IsExported reports whether name is bound and public.
func (s *ScopeTable) IsExported(name string) bool {
	e := &s.entries[s.slot(name)]
	return e.used && e.exported
}

// Len returns the number of bindings.
func (s *ScopeTable) Len() int { return s.count }

// Each calls fn for every binding. Iteration order is unspecified.
func (s *ScopeTable) Each(fn func(name string, v vm.Value, exported bool)) {
	for i := range s.entries {
		if e := &s.entries[i]; e.used {
			fn(e.name, e.value, e.exported)
		}
	}
}

func (s *ScopeTable) grow() {
	old := s.entries
	s.entries = make([]scopeEntry, len(old)*2)
	s.count = 0
	for i := range old {
		if e := &old[i]; e.used {
			s.entries[s.slot(e.name)] = *e
			s.count++
		}
	}
}
