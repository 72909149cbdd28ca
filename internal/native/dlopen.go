//go:build cgo && (linux || darwin || freebsd)

package native

/*
#cgo linux LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>

typedef int (*ember_init_fn)(void);
typedef double (*ember_num_fn)(const double *args, int argc);

static int ember_call_init(void *fn) {
	return ((ember_init_fn)fn)();
}

static double ember_call_num(void *fn, const double *args, int argc) {
	return ((ember_num_fn)fn)(args, argc);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

type dlLibrary struct {
	path string

	mu     sync.Mutex
	handle unsafe.Pointer
}

func open(path string) (Library, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	C.dlerror() // clear any stale error
	handle := C.dlopen(cpath, C.RTLD_NOW|C.RTLD_LOCAL)
	if handle == nil {
		return nil, fmt.Errorf("dlopen %s: %s", path, dlError())
	}
	return &dlLibrary{path: path, handle: handle}, nil
}

func (l *dlLibrary) symbol(name string) (unsafe.Pointer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == nil {
		return nil, fmt.Errorf("%s: library closed", l.path)
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	C.dlerror()
	sym := C.dlsym(l.handle, cname)
	if sym == nil {
		return nil, SymbolError(l.path, name)
	}
	return sym, nil
}

func (l *dlLibrary) Init(symbol string) error {
	sym, err := l.symbol(symbol)
	if err != nil {
		return err
	}
	if rc := C.ember_call_init(sym); rc != 0 {
		return fmt.Errorf("%s: init %s returned %d", l.path, symbol, int(rc))
	}
	return nil
}

func (l *dlLibrary) Func(symbol string) (Func, error) {
	sym, err := l.symbol(symbol)
	if err != nil {
		return nil, err
	}
	return func(args []float64) (float64, error) {
		var argp *C.double
		if len(args) > 0 {
			argp = (*C.double)(unsafe.Pointer(&args[0]))
		}
		return float64(C.ember_call_num(sym, argp, C.int(len(args)))), nil
	}, nil
}

func (l *dlLibrary) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == nil {
		return nil
	}
	handle := l.handle
	l.handle = nil
	if C.dlclose(handle) != 0 {
		return fmt.Errorf("dlclose %s: %s", l.path, dlError())
	}
	return nil
}

func dlError() string {
	msg := C.dlerror()
	if msg == nil {
		return "unknown error"
	}
	return C.GoString(msg)
}
