package vm

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/emberlang/ember/internal/parser"
)

// mapScope is a minimal Scope for exercising the VM without the
// module layer.
type mapScope struct {
	values map[string]Value
	public map[string]bool
}

func newMapScope() *mapScope {
	return &mapScope{values: make(map[string]Value), public: make(map[string]bool)}
}

func (s *mapScope) Define(name string, v Value, public bool) {
	s.values[name] = v
	s.public[name] = public
}

func (s *mapScope) Assign(name string, v Value) bool {
	if _, ok := s.values[name]; !ok {
		return false
	}
	s.values[name] = v
	return true
}

func (s *mapScope) Get(name string) (Value, bool) {
	v, ok := s.values[name]
	return v, ok
}

func runSource(t *testing.T, src string) *mapScope {
	t.Helper()
	scope := newMapScope()
	if err := runSourceInto(t, src, scope, nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	return scope
}

func runSourceInto(t *testing.T, src string, scope Scope, imp Importer) error {
	t.Helper()
	program, err := parser.Parse(src, "test.em")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	chunk, err := Compile(program)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	return New(scope, imp).Run(chunk)
}

func testGlobalInt(t *testing.T, scope *mapScope, name string, want int64) {
	t.Helper()
	v, ok := scope.Get(name)
	if !ok {
		t.Fatalf("global %q not defined", name)
	}
	if v.Type != IntType {
		t.Fatalf("global %q has type %s, want int", name, v.Type)
	}
	if v.Int != want {
		t.Errorf("global %q = %d, want %d", name, v.Int, want)
	}
}

func TestArithmetic(t *testing.T) {
	scope := runSource(t, `
let a = 2 + 3 * 4
let b = (2 + 3) * 4
let c = 10 % 3
let d = -a
`)
	testGlobalInt(t, scope, "a", 14)
	testGlobalInt(t, scope, "b", 20)
	testGlobalInt(t, scope, "c", 1)
	testGlobalInt(t, scope, "d", -14)
}

func TestFloatArithmetic(t *testing.T) {
	scope := runSource(t, `let x = 1.5 * 2`)
	v, _ := scope.Get("x")
	if v.Type != FloatType || v.Float != 3.0 {
		t.Errorf("x = %v, want 3.0", v)
	}
}

func TestStringConcat(t *testing.T) {
	scope := runSource(t, `let s = "foo" + "bar"`)
	v, _ := scope.Get("s")
	if v.Type != StringType || v.Str != "foobar" {
		t.Errorf("s = %v, want foobar", v)
	}
}

func TestGlobalAssignment(t *testing.T) {
	scope := runSource(t, `
let x = 1
x = x + 41
`)
	testGlobalInt(t, scope, "x", 42)
}

func TestExportVisibilityFlag(t *testing.T) {
	scope := runSource(t, `
let private = 1
pub let open = 2
`)
	if scope.public["private"] {
		t.Error("private binding marked public")
	}
	if !scope.public["open"] {
		t.Error("pub binding not marked public")
	}
}

func TestFunctionCall(t *testing.T) {
	scope := runSource(t, `
fn add(a, b) {
	return a + b
}
let r = add(2, 3)
`)
	testGlobalInt(t, scope, "r", 5)
}

func TestFunctionLocals(t *testing.T) {
	scope := runSource(t, `
fn compute(n) {
	let doubled = n * 2
	let tripled = n * 3
	return doubled + tripled
}
let r = compute(4)
`)
	testGlobalInt(t, scope, "r", 20)
}

func TestRecursion(t *testing.T) {
	scope := runSource(t, `
fn fib(n) {
	if n < 2 {
		return n
	}
	return fib(n - 1) + fib(n - 2)
}
let r = fib(10)
`)
	testGlobalInt(t, scope, "r", 55)
}

func TestIfElse(t *testing.T) {
	scope := runSource(t, `
let x = 0
if 1 < 2 {
	x = 10
} else {
	x = 20
}
let y = 0
if 2 < 1 {
	y = 10
} else {
	y = 20
}
`)
	testGlobalInt(t, scope, "x", 10)
	testGlobalInt(t, scope, "y", 20)
}

func TestWhileLoop(t *testing.T) {
	scope := runSource(t, `
let sum = 0
let i = 1
while i <= 10 {
	sum = sum + i
	i = i + 1
}
`)
	testGlobalInt(t, scope, "sum", 55)
}

func TestComparisonAndEquality(t *testing.T) {
	scope := runSource(t, `
let a = 1
if 1 == 1.0 { a = 2 }
let b = 1
if "abc" != "abd" { b = 2 }
let c = 1
if !false { c = 2 }
`)
	testGlobalInt(t, scope, "a", 2)
	testGlobalInt(t, scope, "b", 2)
	testGlobalInt(t, scope, "c", 2)
}

func TestDivisionByZero(t *testing.T) {
	err := runSourceInto(t, `let x = 1 / 0`, newMapScope(), nil)
	if err == nil {
		t.Fatal("expected division by zero error")
	}
	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RuntimeError, got %T", err)
	}
}

func TestUndefinedVariable(t *testing.T) {
	err := runSourceInto(t, `let x = missing + 1`, newMapScope(), nil)
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected undefined variable error, got %v", err)
	}
}

func TestArityMismatch(t *testing.T) {
	err := runSourceInto(t, `
fn one(a) { return a }
one(1, 2)
`, newMapScope(), nil)
	if err == nil || !strings.Contains(err.Error(), "expects 1 arguments") {
		t.Fatalf("expected arity error, got %v", err)
	}
}

// fakeModule implements ModuleRef for import tests.
type fakeModule struct {
	name    string
	exports map[string]Value
}

func (m *fakeModule) ModuleName() string { return m.name }
func (m *fakeModule) GetExport(name string) (Value, bool) {
	v, ok := m.exports[name]
	return v, ok
}

// fakeImporter records requested specifiers.
type fakeImporter struct {
	modules map[string]*fakeModule
	seen    []string
}

func (i *fakeImporter) Import(spec string) (ModuleRef, error) {
	i.seen = append(i.seen, spec)
	m, ok := i.modules[spec]
	if !ok {
		return nil, errors.New("not found")
	}
	return m, nil
}

func TestImportAndMemberAccess(t *testing.T) {
	imp := &fakeImporter{modules: map[string]*fakeModule{
		"util": {name: "util", exports: map[string]Value{"answer": NewInt(42)}},
	}}
	scope := newMapScope()
	err := runSourceInto(t, `
import "util" as u
let x = u.answer
`, scope, imp)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	testGlobalInt(t, scope, "x", 42)
	if len(imp.seen) != 1 || imp.seen[0] != "util" {
		t.Errorf("importer saw %v, want [util]", imp.seen)
	}
}

func TestMissingExport(t *testing.T) {
	imp := &fakeImporter{modules: map[string]*fakeModule{
		"util": {name: "util", exports: map[string]Value{}},
	}}
	err := runSourceInto(t, `
import "util" as u
let x = u.nope
`, newMapScope(), imp)
	if err == nil || !strings.Contains(err.Error(), "no export") {
		t.Fatalf("expected missing export error, got %v", err)
	}
}

func TestBuiltinFunctions(t *testing.T) {
	scope := runSource(t, `
let n = len("hello")
let s = str(42)
let i = int("17")
`)
	testGlobalInt(t, scope, "n", 5)
	v, _ := scope.Get("s")
	if v.Str != "42" {
		t.Errorf("str(42) = %q, want 42", v.Str)
	}
	testGlobalInt(t, scope, "i", 17)
}

func TestFunctionKeepsOwnerScope(t *testing.T) {
	// A function value resolves globals against the scope it was
	// defined in, even when called through another context.
	defScope := newMapScope()
	err := runSourceInto(t, `
pub let base = 100
pub fn offset(n) {
	return base + n
}
`, defScope, nil)
	if err != nil {
		t.Fatalf("definition run failed: %v", err)
	}

	fn, ok := defScope.Get("offset")
	if !ok || fn.Type != FunctionType {
		t.Fatalf("offset not defined as function")
	}

	other := New(newMapScope(), nil)
	result, err := other.CallFunction(fn, []Value{NewInt(7)})
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if result.Type != IntType || result.Int != 107 {
		t.Errorf("offset(7) = %v, want 107", result)
	}
}

func compileOnly(t *testing.T, src string) (*Chunk, error) {
	t.Helper()
	program, err := parser.Parse(src, "test.em")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return Compile(program)
}

func TestStackGrowsPastInitialCapacity(t *testing.T) {
	// A nesting depth beyond the initial stack capacity must evaluate
	// normally; the stack grows on demand.
	depth := InitialStackSize + 500
	src := "pub let v = " + strings.Repeat("1+(", depth) + "1" + strings.Repeat(")", depth)
	scope := runSource(t, src)
	testGlobalInt(t, scope, "v", int64(depth)+1)
}

func TestStackOverflowSurfacesRuntimeError(t *testing.T) {
	// Pushing past MaxStackSize must come back as a RuntimeError, not
	// a panic.
	chunk := NewChunk()
	idx := chunk.AddConstant(NewInt(1))
	for i := 0; i <= MaxStackSize; i++ {
		chunk.WriteOp(OpConstant, 1)
		chunk.WriteUint16(uint16(idx), 1)
	}
	err := New(newMapScope(), nil).Run(chunk)
	var rerr *RuntimeError
	if !errors.As(err, &rerr) {
		t.Fatalf("err = %v, want RuntimeError", err)
	}
	if !strings.Contains(rerr.Msg, "stack overflow") {
		t.Errorf("msg = %q, want stack overflow", rerr.Msg)
	}
}

func TestHighLocalSlotsReadBack(t *testing.T) {
	// Slots near the top of the one-byte operand range must address
	// the right local.
	var b strings.Builder
	b.WriteString("fn f() {\n")
	for i := 0; i < 250; i++ {
		fmt.Fprintf(&b, "let a%d = %d\n", i, i)
	}
	b.WriteString("return a249\n}\npub let v = f()\n")
	scope := runSource(t, b.String())
	testGlobalInt(t, scope, "v", 249)
}

func TestCompileTooManyLocals(t *testing.T) {
	var b strings.Builder
	b.WriteString("fn f() {\n")
	for i := 0; i <= MaxLocals; i++ {
		fmt.Fprintf(&b, "let a%d = %d\n", i, i)
	}
	b.WriteString("}\n")
	_, err := compileOnly(t, b.String())
	if err == nil || !strings.Contains(err.Error(), "too many local variables") {
		t.Fatalf("err = %v, want too many local variables", err)
	}
}

func TestCompileTooManyArguments(t *testing.T) {
	src := "fn f(a) { return a }\nlet x = f(" + strings.Repeat("1, ", MaxCallArgs) + "1)"
	_, err := compileOnly(t, src)
	if err == nil || !strings.Contains(err.Error(), "too many arguments") {
		t.Fatalf("err = %v, want too many arguments", err)
	}
}

func TestCompileTooManyParameters(t *testing.T) {
	params := make([]string, MaxCallArgs+1)
	for i := range params {
		params[i] = fmt.Sprintf("p%d", i)
	}
	src := "fn f(" + strings.Join(params, ", ") + ") { return 0 }"
	_, err := compileOnly(t, src)
	if err == nil || !strings.Contains(err.Error(), "too many parameters") {
		t.Fatalf("err = %v, want too many parameters", err)
	}
}

func TestCompileTooManyConstants(t *testing.T) {
	c := newCompiler(nil)
	for i := 0; i < 65536; i++ {
		c.chunk.Constants = append(c.chunk.Constants, NewInt(int64(i)))
	}
	if _, err := c.makeConstant(NewInt(-1), 3); err == nil || !strings.Contains(err.Error(), "too many constants") {
		t.Fatalf("err = %v, want too many constants", err)
	}
	// Constants already in the pool still resolve to their index.
	idx, err := c.makeConstant(NewInt(7), 3)
	if err != nil || idx != 7 {
		t.Fatalf("makeConstant(7) = %d, %v", idx, err)
	}
}
