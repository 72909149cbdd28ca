package vm

import (
	"encoding/binary"
	"fmt"

	"github.com/emberlang/ember/internal/ast"
)

// Local slots and call argument counts travel in one-byte operands.
const (
	MaxLocals   = 256
	MaxCallArgs = 255
)

// Compile turns a parsed program into a bytecode chunk.
func Compile(program *ast.Program) (*Chunk, error) {
	c := newCompiler(nil)
	for _, stmt := range program.Statements {
		if err := c.compileStatement(stmt); err != nil {
			return nil, err
		}
	}
	c.chunk.WriteOp(OpReturnNil, c.lastLine)
	return c.chunk, nil
}

type local struct {
	name  string
	depth int
}

type compiler struct {
	chunk      *Chunk
	enclosing  *compiler
	locals     []local
	scopeDepth int
	lastLine   int
}

func newCompiler(enclosing *compiler) *compiler {
	return &compiler{chunk: NewChunk(), enclosing: enclosing}
}

func (c *compiler) inFunction() bool { return c.enclosing != nil }

func (c *compiler) compileStatement(stmt ast.Statement) error {
	switch s := stmt.(type) {
	case *ast.ImportStatement:
		return c.compileImport(s)
	case *ast.LetStatement:
		return c.compileLet(s)
	case *ast.FunctionStatement:
		return c.compileFunction(s)
	case *ast.AssignStatement:
		return c.compileAssign(s)
	case *ast.ReturnStatement:
		return c.compileReturn(s)
	case *ast.IfStatement:
		return c.compileIf(s)
	case *ast.WhileStatement:
		return c.compileWhile(s)
	case *ast.BlockStatement:
		c.beginScope()
		defer c.endScope(s.Token.Line)
		return c.compileBlock(s)
	case *ast.ExpressionStatement:
		if err := c.compileExpression(s.Expression); err != nil {
			return err
		}
		c.emit(OpPop, s.Token.Line)
		return nil
	default:
		return fmt.Errorf("line %d: cannot compile statement %T", c.lastLine, stmt)
	}
}

func (c *compiler) compileImport(s *ast.ImportStatement) error {
	if c.inFunction() || c.scopeDepth > 0 {
		return fmt.Errorf("line %d: imports must be at top level", s.Token.Line)
	}
	spec, err := c.makeConstant(NewString(s.Path), s.Token.Line)
	if err != nil {
		return err
	}
	name, err := c.makeConstant(NewString(s.LocalName()), s.Token.Line)
	if err != nil {
		return err
	}
	c.emit(OpImport, s.Token.Line)
	c.emitUint16(spec, s.Token.Line)
	c.emitUint16(name, s.Token.Line)
	return nil
}

func (c *compiler) compileLet(s *ast.LetStatement) error {
	line := s.Token.Line
	if s.Public && (c.inFunction() || c.scopeDepth > 0) {
		return fmt.Errorf("line %d: pub declarations must be at top level", line)
	}
	if err := c.compileExpression(s.Value); err != nil {
		return err
	}
	if c.scopeDepth > 0 {
		if len(c.locals) >= MaxLocals {
			return fmt.Errorf("line %d: too many local variables in function", line)
		}
		// The value stays on the stack as the local's slot.
		c.locals = append(c.locals, local{name: s.Name.Value, depth: c.scopeDepth})
		return nil
	}
	op := OpDefineGlobal
	if s.Public {
		op = OpExportGlobal
	}
	idx, err := c.makeConstant(NewString(s.Name.Value), line)
	if err != nil {
		return err
	}
	c.emit(op, line)
	c.emitUint16(idx, line)
	return nil
}

func (c *compiler) compileFunction(s *ast.FunctionStatement) error {
	line := s.Token.Line
	if c.inFunction() || c.scopeDepth > 0 {
		return fmt.Errorf("line %d: functions must be declared at top level", line)
	}
	if len(s.Params) > MaxCallArgs {
		return fmt.Errorf("line %d: too many parameters", line)
	}
	fc := newCompiler(c)
	fc.scopeDepth = 1
	for _, p := range s.Params {
		fc.locals = append(fc.locals, local{name: p.Value, depth: 1})
	}
	if err := fc.compileBlock(s.Body); err != nil {
		return err
	}
	fc.chunk.WriteOp(OpReturnNil, fc.lastLine)

	fn := &CompiledFunction{Name: s.Name.Value, Arity: len(s.Params), Chunk: fc.chunk}
	idx, err := c.makeConstant(NewFunction(fn), line)
	if err != nil {
		return err
	}
	c.emit(OpConstant, line)
	c.emitUint16(idx, line)

	op := OpDefineGlobal
	if s.Public {
		op = OpExportGlobal
	}
	nameIdx, err := c.makeConstant(NewString(s.Name.Value), line)
	if err != nil {
		return err
	}
	c.emit(op, line)
	c.emitUint16(nameIdx, line)
	return nil
}

func (c *compiler) compileAssign(s *ast.AssignStatement) error {
	line := s.Token.Line
	if err := c.compileExpression(s.Value); err != nil {
		return err
	}
	if slot := c.resolveLocal(s.Name.Value); slot >= 0 {
		c.emit(OpSetLocal, line)
		c.chunk.Write(byte(slot), line)
		return nil
	}
	idx, err := c.makeConstant(NewString(s.Name.Value), line)
	if err != nil {
		return err
	}
	c.emit(OpSetGlobal, line)
	c.emitUint16(idx, line)
	return nil
}

func (c *compiler) compileReturn(s *ast.ReturnStatement) error {
	line := s.Token.Line
	if !c.inFunction() {
		return fmt.Errorf("line %d: return outside function", line)
	}
	if s.Value == nil {
		c.emit(OpReturnNil, line)
		return nil
	}
	if err := c.compileExpression(s.Value); err != nil {
		return err
	}
	c.emit(OpReturn, line)
	return nil
}

func (c *compiler) compileIf(s *ast.IfStatement) error {
	line := s.Token.Line
	if err := c.compileExpression(s.Condition); err != nil {
		return err
	}
	elseJump := c.emitJump(OpJumpIfFalse, line)
	c.beginScope()
	if err := c.compileBlock(s.Consequence); err != nil {
		return err
	}
	c.endScope(line)
	endJump := c.emitJump(OpJump, line)
	c.patchJump(elseJump)
	if s.Alternative != nil {
		c.beginScope()
		if err := c.compileBlock(s.Alternative); err != nil {
			return err
		}
		c.endScope(line)
	}
	c.patchJump(endJump)
	return nil
}

func (c *compiler) compileWhile(s *ast.WhileStatement) error {
	line := s.Token.Line
	loopStart := len(c.chunk.Code)
	if err := c.compileExpression(s.Condition); err != nil {
		return err
	}
	exitJump := c.emitJump(OpJumpIfFalse, line)
	c.beginScope()
	if err := c.compileBlock(s.Body); err != nil {
		return err
	}
	c.endScope(line)
	c.emit(OpJump, line)
	c.emitUint16(uint16(loopStart), line)
	c.patchJump(exitJump)
	return nil
}

func (c *compiler) compileBlock(b *ast.BlockStatement) error {
	for _, stmt := range b.Statements {
		if err := c.compileStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) compileExpression(expr ast.Expression) error {
	switch e := expr.(type) {
	case *ast.IntegerLiteral:
		return c.emitConstant(NewInt(e.Value), e.Token.Line)
	case *ast.FloatLiteral:
		return c.emitConstant(NewFloat(e.Value), e.Token.Line)
	case *ast.StringLiteral:
		return c.emitConstant(NewString(e.Value), e.Token.Line)
	case *ast.BooleanLiteral:
		if e.Value {
			c.emit(OpTrue, e.Token.Line)
		} else {
			c.emit(OpFalse, e.Token.Line)
		}
	case *ast.NilLiteral:
		c.emit(OpNil, e.Token.Line)
	case *ast.Identifier:
		if slot := c.resolveLocal(e.Value); slot >= 0 {
			c.emit(OpGetLocal, e.Token.Line)
			c.chunk.Write(byte(slot), e.Token.Line)
			return nil
		}
		idx, err := c.makeConstant(NewString(e.Value), e.Token.Line)
		if err != nil {
			return err
		}
		c.emit(OpGetGlobal, e.Token.Line)
		c.emitUint16(idx, e.Token.Line)
	case *ast.PrefixExpression:
		if err := c.compileExpression(e.Right); err != nil {
			return err
		}
		switch e.Operator {
		case "-":
			c.emit(OpNegate, e.Token.Line)
		case "!":
			c.emit(OpNot, e.Token.Line)
		default:
			return fmt.Errorf("line %d: unknown prefix operator %q", e.Token.Line, e.Operator)
		}
	case *ast.InfixExpression:
		return c.compileInfix(e)
	case *ast.CallExpression:
		if len(e.Arguments) > MaxCallArgs {
			return fmt.Errorf("line %d: too many arguments in call", e.Token.Line)
		}
		if err := c.compileExpression(e.Function); err != nil {
			return err
		}
		for _, arg := range e.Arguments {
			if err := c.compileExpression(arg); err != nil {
				return err
			}
		}
		c.emit(OpCall, e.Token.Line)
		c.chunk.Write(byte(len(e.Arguments)), e.Token.Line)
	case *ast.MemberExpression:
		if err := c.compileExpression(e.Left); err != nil {
			return err
		}
		idx, err := c.makeConstant(NewString(e.Name.Value), e.Token.Line)
		if err != nil {
			return err
		}
		c.emit(OpGetMember, e.Token.Line)
		c.emitUint16(idx, e.Token.Line)
	default:
		return fmt.Errorf("line %d: cannot compile expression %T", c.lastLine, expr)
	}
	return nil
}

func (c *compiler) compileInfix(e *ast.InfixExpression) error {
	if err := c.compileExpression(e.Left); err != nil {
		return err
	}
	if err := c.compileExpression(e.Right); err != nil {
		return err
	}
	line := e.Token.Line
	switch e.Operator {
	case "+":
		c.emit(OpAdd, line)
	case "-":
		c.emit(OpSub, line)
	case "*":
		c.emit(OpMul, line)
	case "/":
		c.emit(OpDiv, line)
	case "%":
		c.emit(OpMod, line)
	case "==":
		c.emit(OpEqual, line)
	case "!=":
		c.emit(OpNotEqual, line)
	case "<":
		c.emit(OpLess, line)
	case "<=":
		c.emit(OpLessEqual, line)
	case ">":
		c.emit(OpGreater, line)
	case ">=":
		c.emit(OpGreaterEqual, line)
	default:
		return fmt.Errorf("line %d: unknown operator %q", line, e.Operator)
	}
	return nil
}

func (c *compiler) resolveLocal(name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			return i
		}
	}
	return -1
}

func (c *compiler) beginScope() { c.scopeDepth++ }

func (c *compiler) endScope(line int) {
	c.scopeDepth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		c.emit(OpPop, line)
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (c *compiler) emit(op Opcode, line int) {
	c.lastLine = line
	c.chunk.WriteOp(op, line)
}

func (c *compiler) emitUint16(v uint16, line int) {
	c.chunk.WriteUint16(v, line)
}

// makeConstant interns v in the constant pool. Constant operands are
// two bytes wide, so a chunk holds at most 65536 constants.
func (c *compiler) makeConstant(v Value, line int) (uint16, error) {
	idx := c.chunk.AddConstant(v)
	if idx > 0xFFFF {
		return 0, fmt.Errorf("line %d: too many constants in one chunk", line)
	}
	return uint16(idx), nil
}

func (c *compiler) emitConstant(v Value, line int) error {
	idx, err := c.makeConstant(v, line)
	if err != nil {
		return err
	}
	c.emit(OpConstant, line)
	c.emitUint16(idx, line)
	return nil
}

// emitJump writes a jump with a placeholder target and returns the
// operand offset for patchJump.
func (c *compiler) emitJump(op Opcode, line int) int {
	c.emit(op, line)
	offset := len(c.chunk.Code)
	c.emitUint16(0xFFFF, line)
	return offset
}

func (c *compiler) patchJump(operandOffset int) {
	target := uint16(len(c.chunk.Code))
	binary.BigEndian.PutUint16(c.chunk.Code[operandOffset:], target)
}
