package modules

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/emberlang/ember/internal/vm"
)

// Builtin modules are synthesized records, checked early in the load
// path before any filesystem probing. They are Loaded at creation and
// never execute a module body.
var builtinModules = map[string]func() *Module{
	"math":    builtinMath,
	"strings": builtinStrings,
	"db":      builtinDB,
}

func lookupBuiltin(name string) (*Module, bool) {
	build, ok := builtinModules[name]
	if !ok {
		return nil, false
	}
	return build(), true
}

func newBuiltinModule(name string) *Module {
	m := NewModule(name)
	m.State = StateLoaded
	return m
}

func (m *Module) export(name string, v vm.Value) {
	m.Define(name, v, true)
}

func (m *Module) exportFn(name string, fn vm.BuiltinFn) {
	m.export(name, vm.NewBuiltin(name, fn))
}

func builtinMath() *Module {
	m := newBuiltinModule("math")
	m.export("pi", vm.NewFloat(math.Pi))
	m.export("e", vm.NewFloat(math.E))
	m.exportFn("sqrt", numericFn1("sqrt", math.Sqrt))
	m.exportFn("abs", numericFn1("abs", math.Abs))
	m.exportFn("floor", numericFn1("floor", math.Floor))
	m.exportFn("ceil", numericFn1("ceil", math.Ceil))
	m.exportFn("pow", func(args []vm.Value) (vm.Value, error) {
		x, y, err := twoNumbers("pow", args)
		if err != nil {
			return vm.Nil(), err
		}
		return vm.NewFloat(math.Pow(x, y)), nil
	})
	m.exportFn("min", func(args []vm.Value) (vm.Value, error) {
		x, y, err := twoNumbers("min", args)
		if err != nil {
			return vm.Nil(), err
		}
		return vm.NewFloat(math.Min(x, y)), nil
	})
	m.exportFn("max", func(args []vm.Value) (vm.Value, error) {
		x, y, err := twoNumbers("max", args)
		if err != nil {
			return vm.Nil(), err
		}
		return vm.NewFloat(math.Max(x, y)), nil
	})
	return m
}

func numericFn1(name string, fn func(float64) float64) vm.BuiltinFn {
	return func(args []vm.Value) (vm.Value, error) {
		if len(args) != 1 {
			return vm.Nil(), fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		x, ok := asNumber(args[0])
		if !ok {
			return vm.Nil(), fmt.Errorf("%s expects a number, got %s", name, args[0].Type)
		}
		return vm.NewFloat(fn(x)), nil
	}
}

func twoNumbers(name string, args []vm.Value) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("%s expects 2 arguments, got %d", name, len(args))
	}
	x, ok := asNumber(args[0])
	if !ok {
		return 0, 0, fmt.Errorf("%s expects numbers, got %s", name, args[0].Type)
	}
	y, ok := asNumber(args[1])
	if !ok {
		return 0, 0, fmt.Errorf("%s expects numbers, got %s", name, args[1].Type)
	}
	return x, y, nil
}

func asNumber(v vm.Value) (float64, bool) {
	switch v.Type {
	case vm.IntType:
		return float64(v.Int), true
	case vm.FloatType:
		return v.Float, true
	default:
		return 0, false
	}
}

func builtinStrings() *Module {
	m := newBuiltinModule("strings")
	m.exportFn("upper", stringFn1("upper", strings.ToUpper))
	m.exportFn("lower", stringFn1("lower", strings.ToLower))
	m.exportFn("trim", stringFn1("trim", strings.TrimSpace))
	m.exportFn("contains", func(args []vm.Value) (vm.Value, error) {
		s, sub, err := twoStrings("contains", args)
		if err != nil {
			return vm.Nil(), err
		}
		return vm.NewBool(strings.Contains(s, sub)), nil
	})
	m.exportFn("index", func(args []vm.Value) (vm.Value, error) {
		s, sub, err := twoStrings("index", args)
		if err != nil {
			return vm.Nil(), err
		}
		return vm.NewInt(int64(strings.Index(s, sub))), nil
	})
	m.exportFn("split_count", func(args []vm.Value) (vm.Value, error) {
		s, sep, err := twoStrings("split_count", args)
		if err != nil {
			return vm.Nil(), err
		}
		return vm.NewInt(int64(len(strings.Split(s, sep)))), nil
	})
	m.exportFn("repeat", func(args []vm.Value) (vm.Value, error) {
		if len(args) != 2 || args[0].Type != vm.StringType || args[1].Type != vm.IntType {
			return vm.Nil(), fmt.Errorf("repeat expects (string, int)")
		}
		if args[1].Int < 0 {
			return vm.Nil(), fmt.Errorf("repeat count must not be negative")
		}
		return vm.NewString(strings.Repeat(args[0].Str, int(args[1].Int))), nil
	})
	return m
}

func stringFn1(name string, fn func(string) string) vm.BuiltinFn {
	return func(args []vm.Value) (vm.Value, error) {
		if len(args) != 1 || args[0].Type != vm.StringType {
			return vm.Nil(), fmt.Errorf("%s expects a string argument", name)
		}
		return vm.NewString(fn(args[0].Str)), nil
	}
}

func twoStrings(name string, args []vm.Value) (string, string, error) {
	if len(args) != 2 || args[0].Type != vm.StringType || args[1].Type != vm.StringType {
		return "", "", fmt.Errorf("%s expects 2 string arguments", name)
	}
	return args[0].Str, args[1].Str, nil
}

// dbRegistry maps handles given to scripts onto open connections.
type dbRegistry struct {
	mu    sync.Mutex
	next  int64
	conns map[int64]*sql.DB
}

func (r *dbRegistry) add(db *sql.DB) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.conns[r.next] = db
	return r.next
}

func (r *dbRegistry) get(handle int64) (*sql.DB, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	db, ok := r.conns[handle]
	return db, ok
}

func (r *dbRegistry) remove(handle int64) (*sql.DB, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	db, ok := r.conns[handle]
	if ok {
		delete(r.conns, handle)
	}
	return db, ok
}

// builtinDB exposes a small SQLite surface: open returns an integer
// handle, exec runs a statement, query_value returns the first column
// of the first row, close releases the connection.
func builtinDB() *Module {
	reg := &dbRegistry{conns: make(map[int64]*sql.DB)}

	m := newBuiltinModule("db")
	m.exportFn("open", func(args []vm.Value) (vm.Value, error) {
		if len(args) != 1 || args[0].Type != vm.StringType {
			return vm.Nil(), fmt.Errorf("open expects a path string")
		}
		db, err := sql.Open("sqlite", args[0].Str)
		if err != nil {
			return vm.Nil(), err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return vm.Nil(), err
		}
		return vm.NewInt(reg.add(db)), nil
	})
	m.exportFn("exec", func(args []vm.Value) (vm.Value, error) {
		db, stmt, err := handleAndSQL(reg, "exec", args)
		if err != nil {
			return vm.Nil(), err
		}
		res, err := db.Exec(stmt)
		if err != nil {
			return vm.Nil(), err
		}
		n, _ := res.RowsAffected()
		return vm.NewInt(n), nil
	})
	m.exportFn("query_value", func(args []vm.Value) (vm.Value, error) {
		db, stmt, err := handleAndSQL(reg, "query_value", args)
		if err != nil {
			return vm.Nil(), err
		}
		var raw any
		if err := db.QueryRow(stmt).Scan(&raw); err != nil {
			if err == sql.ErrNoRows {
				return vm.Nil(), nil
			}
			return vm.Nil(), err
		}
		return sqlToValue(raw), nil
	})
	m.exportFn("close", func(args []vm.Value) (vm.Value, error) {
		if len(args) != 1 || args[0].Type != vm.IntType {
			return vm.Nil(), fmt.Errorf("close expects a handle")
		}
		db, ok := reg.remove(args[0].Int)
		if !ok {
			return vm.Nil(), fmt.Errorf("unknown handle %d", args[0].Int)
		}
		return vm.Nil(), db.Close()
	})
	return m
}

func handleAndSQL(reg *dbRegistry, name string, args []vm.Value) (*sql.DB, string, error) {
	if len(args) != 2 || args[0].Type != vm.IntType || args[1].Type != vm.StringType {
		return nil, "", fmt.Errorf("%s expects (handle, sql)", name)
	}
	db, ok := reg.get(args[0].Int)
	if !ok {
		return nil, "", fmt.Errorf("unknown handle %d", args[0].Int)
	}
	return db, args[1].Str, nil
}

func sqlToValue(raw any) vm.Value {
	switch v := raw.(type) {
	case nil:
		return vm.Nil()
	case int64:
		return vm.NewInt(v)
	case float64:
		return vm.NewFloat(v)
	case bool:
		return vm.NewBool(v)
	case []byte:
		return vm.NewString(string(v))
	case string:
		return vm.NewString(v)
	default:
		return vm.NewString(fmt.Sprint(v))
	}
}
