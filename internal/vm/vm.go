package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// InitialStackSize is the operand stack capacity a fresh VM
	// context starts with. The stack grows on demand up to
	// MaxStackSize.
	InitialStackSize = 2048
	// MaxStackSize bounds operand stack growth.
	MaxStackSize = 1024 * 1024
	// MaxFrames bounds call recursion depth.
	MaxFrames = 256
)

var errStackOverflow = errors.New("stack overflow")

// Scope stores a module's top-level bindings. The loader supplies one
// per module; the VM defines into it as execution proceeds, so cyclic
// importers observe bindings made before their import ran.
type Scope interface {
	// Define creates or replaces a binding. A public binding is an
	// export.
	Define(name string, v Value, public bool)
	// Assign overwrites an existing binding, keeping its visibility.
	// Returns false if the name is not defined.
	Assign(name string, v Value) bool
	// Get returns a binding regardless of visibility.
	Get(name string) (Value, bool)
}

// ModuleRef is the handle an import binds to. Only exports are visible
// through it.
type ModuleRef interface {
	ModuleName() string
	GetExport(name string) (Value, bool)
}

// Importer resolves an import specifier on behalf of running code.
// The loader implements this; import cycles come back through it.
type Importer interface {
	Import(spec string) (ModuleRef, error)
}

type frame struct {
	chunk   *Chunk
	ip      int
	bp      int
	globals Scope
}

// VM executes a chunk against a module scope. Each module gets a fresh
// VM context; nothing is shared across contexts except imported module
// handles.
type VM struct {
	globals  Scope
	importer Importer
	builtins map[string]Value

	stack  []Value
	sp     int
	frames [MaxFrames]frame
	fp     int
}

// New creates a VM executing against globals. importer may be nil for
// chunks known to contain no imports.
func New(globals Scope, importer Importer) *VM {
	return &VM{
		globals:  globals,
		importer: importer,
		builtins: coreBuiltins(),
		stack:    make([]Value, InitialStackSize),
	}
}

// RuntimeError carries the failing source line.
type RuntimeError struct {
	Line int
	Msg  string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error at line %d: %s", e.Line, e.Msg)
}

// Run executes chunk to completion.
func (vm *VM) Run(chunk *Chunk) error {
	vm.frames[0] = frame{chunk: chunk, globals: vm.globals}
	vm.fp = 1
	vm.sp = 0
	return vm.run()
}

// CallFunction invokes an already-compiled function value with args.
// Used by the loader to run exported entry points.
func (vm *VM) CallFunction(fn Value, args []Value) (Value, error) {
	if fn.Type != FunctionType {
		return Nil(), fmt.Errorf("cannot call %s value", fn.Type)
	}
	f := fn.Function()
	if len(args) != f.Arity {
		return Nil(), fmt.Errorf("%s expects %d arguments, got %d", f.Name, f.Arity, len(args))
	}
	vm.sp = 0
	vm.push(fn)
	for _, a := range args {
		vm.push(a)
	}
	globals := f.Globals
	if globals == nil {
		globals = vm.globals
	}
	vm.frames[0] = frame{chunk: f.Chunk, bp: 1, globals: globals}
	vm.fp = 1
	if err := vm.run(); err != nil {
		return Nil(), err
	}
	return vm.pop(), nil
}

func (vm *VM) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && errors.Is(e, errStackOverflow) {
				line := 0
				if vm.fp > 0 {
					f := &vm.frames[vm.fp-1]
					line = f.chunk.Line(f.ip - 1)
				}
				err = &RuntimeError{Line: line, Msg: e.Error()}
				return
			}
			panic(r)
		}
	}()
	for vm.fp > 0 {
		f := &vm.frames[vm.fp-1]
		if f.ip >= len(f.chunk.Code) {
			// Implicit end of top-level chunk.
			vm.fp--
			continue
		}
		op := Opcode(f.chunk.Code[f.ip])
		line := f.chunk.Line(f.ip)
		f.ip++

		switch op {
		case OpConstant:
			v := f.chunk.Constants[vm.readUint16(f)]
			if v.Type == FunctionType {
				// Bind the function to the defining module's scope.
				fn := *v.Function()
				fn.Globals = f.globals
				v = NewFunction(&fn)
			}
			vm.push(v)

		case OpNil:
			vm.push(Nil())
		case OpTrue:
			vm.push(NewBool(true))
		case OpFalse:
			vm.push(NewBool(false))
		case OpPop:
			vm.pop()

		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			if err := vm.binaryArith(op, line); err != nil {
				return err
			}
		case OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(NewBool(a.Equals(b)))
		case OpNotEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(NewBool(!a.Equals(b)))
		case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
			if err := vm.binaryCompare(op, line); err != nil {
				return err
			}

		case OpNegate:
			v := vm.pop()
			switch v.Type {
			case IntType:
				vm.push(NewInt(-v.Int))
			case FloatType:
				vm.push(NewFloat(-v.Float))
			default:
				return vm.errorf(line, "cannot negate %s", v.Type)
			}
		case OpNot:
			vm.push(NewBool(!vm.pop().Truthy()))

		case OpJump:
			f.ip = int(binary.BigEndian.Uint16(f.chunk.Code[f.ip:]))
		case OpJumpIfFalse:
			target := vm.readUint16(f)
			if !vm.pop().Truthy() {
				f.ip = int(target)
			}

		case OpDefineGlobal, OpExportGlobal:
			name := f.chunk.Constants[vm.readUint16(f)].Str
			f.globals.Define(name, vm.pop(), op == OpExportGlobal)
		case OpGetGlobal:
			name := f.chunk.Constants[vm.readUint16(f)].Str
			v, ok := f.globals.Get(name)
			if !ok {
				v, ok = vm.builtins[name]
			}
			if !ok {
				return vm.errorf(line, "undefined variable %q", name)
			}
			vm.push(v)
		case OpSetGlobal:
			name := f.chunk.Constants[vm.readUint16(f)].Str
			if !f.globals.Assign(name, vm.pop()) {
				return vm.errorf(line, "undefined variable %q", name)
			}

		case OpGetLocal:
			slot := int(f.chunk.Code[f.ip])
			f.ip++
			vm.push(vm.stack[f.bp+slot])
		case OpSetLocal:
			slot := int(f.chunk.Code[f.ip])
			f.ip++
			vm.stack[f.bp+slot] = vm.pop()

		case OpCall:
			argc := int(f.chunk.Code[f.ip])
			f.ip++
			if err := vm.call(argc, line); err != nil {
				return err
			}

		case OpReturn:
			result := vm.pop()
			vm.sp = f.bp - 1
			vm.fp--
			vm.push(result)
		case OpReturnNil:
			if vm.fp == 1 {
				vm.fp--
				continue
			}
			vm.sp = f.bp - 1
			vm.fp--
			vm.push(Nil())

		case OpGetMember:
			name := f.chunk.Constants[vm.readUint16(f)].Str
			recv := vm.pop()
			if recv.Type != ModuleType {
				return vm.errorf(line, "cannot read member %q of %s value", name, recv.Type)
			}
			mod := recv.Module()
			v, ok := mod.GetExport(name)
			if !ok {
				return vm.errorf(line, "module %q has no export %q", mod.ModuleName(), name)
			}
			vm.push(v)

		case OpImport:
			spec := f.chunk.Constants[vm.readUint16(f)].Str
			name := f.chunk.Constants[vm.readUint16(f)].Str
			if vm.importer == nil {
				return vm.errorf(line, "imports are not available in this context")
			}
			mod, err := vm.importer.Import(spec)
			if err != nil {
				return vm.errorf(line, "import %q: %v", spec, err)
			}
			f.globals.Define(name, NewModule(mod), false)

		default:
			return vm.errorf(line, "unknown opcode %d", op)
		}
	}
	return nil
}

func (vm *VM) call(argc, line int) error {
	callee := vm.stack[vm.sp-argc-1]
	switch callee.Type {
	case FunctionType:
		fn := callee.Function()
		if argc != fn.Arity {
			return vm.errorf(line, "%s expects %d arguments, got %d", fn.Name, fn.Arity, argc)
		}
		if vm.fp >= MaxFrames {
			return vm.errorf(line, "call stack overflow")
		}
		globals := fn.Globals
		if globals == nil {
			globals = vm.globals
		}
		vm.frames[vm.fp] = frame{chunk: fn.Chunk, bp: vm.sp - argc, globals: globals}
		vm.fp++
		return nil
	case BuiltinType:
		b := callee.Builtin()
		args := make([]Value, argc)
		copy(args, vm.stack[vm.sp-argc:vm.sp])
		vm.sp -= argc + 1
		result, err := b.Fn(args)
		if err != nil {
			return vm.errorf(line, "%s: %v", b.Name, err)
		}
		vm.push(result)
		return nil
	default:
		return vm.errorf(line, "cannot call %s value", callee.Type)
	}
}

func (vm *VM) binaryArith(op Opcode, line int) error {
	b, a := vm.pop(), vm.pop()

	if op == OpAdd && a.Type == StringType && b.Type == StringType {
		vm.push(NewString(a.Str + b.Str))
		return nil
	}
	if !a.isNumber() || !b.isNumber() {
		return vm.errorf(line, "cannot apply %s to %s and %s", op, a.Type, b.Type)
	}

	if a.Type == IntType && b.Type == IntType {
		switch op {
		case OpAdd:
			vm.push(NewInt(a.Int + b.Int))
		case OpSub:
			vm.push(NewInt(a.Int - b.Int))
		case OpMul:
			vm.push(NewInt(a.Int * b.Int))
		case OpDiv:
			if b.Int == 0 {
				return vm.errorf(line, "division by zero")
			}
			vm.push(NewInt(a.Int / b.Int))
		case OpMod:
			if b.Int == 0 {
				return vm.errorf(line, "division by zero")
			}
			vm.push(NewInt(a.Int % b.Int))
		}
		return nil
	}

	x, y := a.asFloat(), b.asFloat()
	switch op {
	case OpAdd:
		vm.push(NewFloat(x + y))
	case OpSub:
		vm.push(NewFloat(x - y))
	case OpMul:
		vm.push(NewFloat(x * y))
	case OpDiv:
		if y == 0 {
			return vm.errorf(line, "division by zero")
		}
		vm.push(NewFloat(x / y))
	case OpMod:
		return vm.errorf(line, "cannot apply %% to floats")
	}
	return nil
}

func (vm *VM) binaryCompare(op Opcode, line int) error {
	b, a := vm.pop(), vm.pop()
	if a.Type == StringType && b.Type == StringType {
		switch op {
		case OpLess:
			vm.push(NewBool(a.Str < b.Str))
		case OpLessEqual:
			vm.push(NewBool(a.Str <= b.Str))
		case OpGreater:
			vm.push(NewBool(a.Str > b.Str))
		case OpGreaterEqual:
			vm.push(NewBool(a.Str >= b.Str))
		}
		return nil
	}
	if !a.isNumber() || !b.isNumber() {
		return vm.errorf(line, "cannot compare %s and %s", a.Type, b.Type)
	}
	x, y := a.asFloat(), b.asFloat()
	switch op {
	case OpLess:
		vm.push(NewBool(x < y))
	case OpLessEqual:
		vm.push(NewBool(x <= y))
	case OpGreater:
		vm.push(NewBool(x > y))
	case OpGreaterEqual:
		vm.push(NewBool(x >= y))
	}
	return nil
}

func (vm *VM) readUint16(f *frame) uint16 {
	v := binary.BigEndian.Uint16(f.chunk.Code[f.ip:])
	f.ip += 2
	return v
}

// push grows the stack when full. Growth past MaxStackSize panics with
// errStackOverflow, which run converts into a RuntimeError.
func (vm *VM) push(v Value) {
	if vm.sp >= len(vm.stack) {
		if vm.sp >= MaxStackSize {
			panic(errStackOverflow)
		}
		grown := make([]Value, len(vm.stack)*2)
		copy(grown, vm.stack[:vm.sp])
		vm.stack = grown
	}
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) errorf(line int, format string, args ...any) error {
	return &RuntimeError{Line: line, Msg: fmt.Sprintf(format, args...)}
}
