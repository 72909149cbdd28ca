package vm

import (
	"fmt"
	"strconv"
)

// ValueType identifies the runtime kind of a Value.
type ValueType byte

const (
	NilType ValueType = iota
	BoolType
	IntType
	FloatType
	StringType
	FunctionType
	BuiltinType
	ModuleType
)

var typeNames = [...]string{
	NilType:      "nil",
	BoolType:     "bool",
	IntType:      "int",
	FloatType:    "float",
	StringType:   "string",
	FunctionType: "function",
	BuiltinType:  "builtin",
	ModuleType:   "module",
}

func (t ValueType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// Value is a single Ember runtime value.
type Value struct {
	Type  ValueType
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Obj   any // *CompiledFunction, *Builtin, or ModuleRef
}

func Nil() Value                 { return Value{Type: NilType} }
func NewBool(b bool) Value       { return Value{Type: BoolType, Bool: b} }
func NewInt(i int64) Value       { return Value{Type: IntType, Int: i} }
func NewFloat(f float64) Value   { return Value{Type: FloatType, Float: f} }
func NewString(s string) Value   { return Value{Type: StringType, Str: s} }
func NewModule(m ModuleRef) Value {
	return Value{Type: ModuleType, Obj: m}
}

func NewFunction(fn *CompiledFunction) Value {
	return Value{Type: FunctionType, Obj: fn}
}

func NewBuiltin(name string, fn BuiltinFn) Value {
	return Value{Type: BuiltinType, Obj: &Builtin{Name: name, Fn: fn}}
}

// Function returns the compiled function payload. Caller must have
// checked Type.
func (v Value) Function() *CompiledFunction { return v.Obj.(*CompiledFunction) }

// Builtin returns the builtin payload. Caller must have checked Type.
func (v Value) Builtin() *Builtin { return v.Obj.(*Builtin) }

// Module returns the module payload. Caller must have checked Type.
func (v Value) Module() ModuleRef { return v.Obj.(ModuleRef) }

// Truthy reports whether the value is considered true in a condition.
// nil and false are falsy, everything else is truthy.
func (v Value) Truthy() bool {
	switch v.Type {
	case NilType:
		return false
	case BoolType:
		return v.Bool
	default:
		return true
	}
}

// Equals compares two values. Int and float compare numerically across
// the two kinds.
func (v Value) Equals(o Value) bool {
	if v.Type != o.Type {
		if v.isNumber() && o.isNumber() {
			return v.asFloat() == o.asFloat()
		}
		return false
	}
	switch v.Type {
	case NilType:
		return true
	case BoolType:
		return v.Bool == o.Bool
	case IntType:
		return v.Int == o.Int
	case FloatType:
		return v.Float == o.Float
	case StringType:
		return v.Str == o.Str
	default:
		return v.Obj == o.Obj
	}
}

func (v Value) isNumber() bool {
	return v.Type == IntType || v.Type == FloatType
}

func (v Value) asFloat() float64 {
	if v.Type == IntType {
		return float64(v.Int)
	}
	return v.Float
}

func (v Value) String() string {
	switch v.Type {
	case NilType:
		return "nil"
	case BoolType:
		return strconv.FormatBool(v.Bool)
	case IntType:
		return strconv.FormatInt(v.Int, 10)
	case FloatType:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case StringType:
		return v.Str
	case FunctionType:
		return fmt.Sprintf("<fn %s>", v.Function().Name)
	case BuiltinType:
		return fmt.Sprintf("<builtin %s>", v.Builtin().Name)
	case ModuleType:
		return fmt.Sprintf("<module %s>", v.Module().ModuleName())
	default:
		return "<unknown>"
	}
}

// CompiledFunction is a user-defined function. Globals is bound when
// the function value is materialized at runtime, so an exported
// function keeps resolving globals against the module that defined it.
type CompiledFunction struct {
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        *Chunk
	Globals      Scope
}

// BuiltinFn is the signature shared by builtin module functions and
// native library wrappers.
type BuiltinFn func(args []Value) (Value, error)

// Builtin wraps a Go function as a callable Ember value.
type Builtin struct {
	Name string
	Fn   BuiltinFn
}
