// Package native loads dynamic libraries that back native modules and
// resolves their exported symbols.
//
// Native functions use a fixed numeric ABI: every exported symbol has
// the C signature
//
//	double fn(const double *args, int argc);
//
// and the module init symbol has
//
//	int init(void);
//
// returning zero on success.
package native

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is returned when the platform or build cannot
	// load dynamic libraries.
	ErrUnsupported = errors.New("native libraries are not supported in this build")
	// ErrSymbolNotFound is returned when a symbol is missing from an
	// opened library.
	ErrSymbolNotFound = errors.New("symbol not found")
)

// Func is a resolved native function using the numeric ABI.
type Func func(args []float64) (float64, error)

// Library is an opened native module library.
type Library interface {
	// Init invokes the named init symbol. Returns ErrSymbolNotFound
	// if the library does not define it.
	Init(symbol string) error
	// Func resolves an exported function symbol.
	Func(symbol string) (Func, error)
	Close() error
}

// Open opens the dynamic library at path. It is a variable so tests
// can substitute a fake implementation.
var Open func(path string) (Library, error) = open

// SymbolError wraps a missing-symbol failure with context.
func SymbolError(lib, symbol string) error {
	return fmt.Errorf("%s: %w: %s", lib, ErrSymbolNotFound, symbol)
}
