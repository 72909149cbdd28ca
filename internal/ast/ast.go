package ast

import (
	"strings"

	"github.com/emberlang/ember/internal/token"
)

// Node is the interface implemented by every AST node.
type Node interface {
	TokenLiteral() string
	String() string
}

// Statement nodes.
type Statement interface {
	Node
	statementNode()
}

// Expression nodes.
type Expression interface {
	Node
	expressionNode()
}

// Program is the root of a parsed source file.
type Program struct {
	Statements []Statement
	Imports    []*ImportStatement
	File       string
}

func (p *Program) TokenLiteral() string {
	if len(p.Statements) > 0 {
		return p.Statements[0].TokenLiteral()
	}
	return ""
}

func (p *Program) String() string {
	var out strings.Builder
	for _, s := range p.Statements {
		out.WriteString(s.String())
		out.WriteString("\n")
	}
	return out.String()
}

// ImportStatement: import "spec" [as alias]
type ImportStatement struct {
	Token token.Token // the 'import' token
	Path  string      // specifier as written, prefixes included
	Alias *Identifier // optional
}

func (s *ImportStatement) statementNode()       {}
func (s *ImportStatement) TokenLiteral() string { return s.Token.Literal }
func (s *ImportStatement) String() string {
	if s.Alias != nil {
		return "import \"" + s.Path + "\" as " + s.Alias.Value
	}
	return "import \"" + s.Path + "\""
}

// LocalName returns the binding name an import introduces: the alias if
// given, else the last dotted segment of the specifier with prefixes
// stripped.
func (s *ImportStatement) LocalName() string {
	if s.Alias != nil {
		return s.Alias.Value
	}
	name := strings.TrimLeft(s.Path, "@$")
	if i := strings.LastIndexAny(name, "./"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// LetStatement: [pub] let name = value
type LetStatement struct {
	Token  token.Token
	Name   *Identifier
	Value  Expression
	Public bool
}

func (s *LetStatement) statementNode()       {}
func (s *LetStatement) TokenLiteral() string { return s.Token.Literal }
func (s *LetStatement) String() string {
	prefix := ""
	if s.Public {
		prefix = "pub "
	}
	return prefix + "let " + s.Name.Value + " = " + s.Value.String()
}

// FunctionStatement: [pub] fn name(params) { body }
type FunctionStatement struct {
	Token  token.Token
	Name   *Identifier
	Params []*Identifier
	Body   *BlockStatement
	Public bool
}

func (s *FunctionStatement) statementNode()       {}
func (s *FunctionStatement) TokenLiteral() string { return s.Token.Literal }
func (s *FunctionStatement) String() string {
	params := make([]string, len(s.Params))
	for i, p := range s.Params {
		params[i] = p.Value
	}
	prefix := ""
	if s.Public {
		prefix = "pub "
	}
	return prefix + "fn " + s.Name.Value + "(" + strings.Join(params, ", ") + ") " + s.Body.String()
}

// AssignStatement: name = value
type AssignStatement struct {
	Token token.Token
	Name  *Identifier
	Value Expression
}

func (s *AssignStatement) statementNode()       {}
func (s *AssignStatement) TokenLiteral() string { return s.Token.Literal }
func (s *AssignStatement) String() string       { return s.Name.Value + " = " + s.Value.String() }

// ReturnStatement: return [value]
type ReturnStatement struct {
	Token token.Token
	Value Expression // may be nil
}

func (s *ReturnStatement) statementNode()       {}
func (s *ReturnStatement) TokenLiteral() string { return s.Token.Literal }
func (s *ReturnStatement) String() string {
	if s.Value == nil {
		return "return"
	}
	return "return " + s.Value.String()
}

// IfStatement: if cond { ... } [else { ... }]
type IfStatement struct {
	Token       token.Token
	Condition   Expression
	Consequence *BlockStatement
	Alternative *BlockStatement // may be nil
}

func (s *IfStatement) statementNode()       {}
func (s *IfStatement) TokenLiteral() string { return s.Token.Literal }
func (s *IfStatement) String() string {
	out := "if " + s.Condition.String() + " " + s.Consequence.String()
	if s.Alternative != nil {
		out += " else " + s.Alternative.String()
	}
	return out
}

// WhileStatement: while cond { ... }
type WhileStatement struct {
	Token     token.Token
	Condition Expression
	Body      *BlockStatement
}

func (s *WhileStatement) statementNode()       {}
func (s *WhileStatement) TokenLiteral() string { return s.Token.Literal }
func (s *WhileStatement) String() string {
	return "while " + s.Condition.String() + " " + s.Body.String()
}

// BlockStatement: { statements }
type BlockStatement struct {
	Token      token.Token
	Statements []Statement
}

func (s *BlockStatement) statementNode()       {}
func (s *BlockStatement) TokenLiteral() string { return s.Token.Literal }
func (s *BlockStatement) String() string {
	var out strings.Builder
	out.WriteString("{ ")
	for _, st := range s.Statements {
		out.WriteString(st.String())
		out.WriteString("; ")
	}
	out.WriteString("}")
	return out.String()
}

// ExpressionStatement wraps an expression used as a statement.
type ExpressionStatement struct {
	Token      token.Token
	Expression Expression
}

func (s *ExpressionStatement) statementNode()       {}
func (s *ExpressionStatement) TokenLiteral() string { return s.Token.Literal }
func (s *ExpressionStatement) String() string       { return s.Expression.String() }

// Identifier expression.
type Identifier struct {
	Token token.Token
	Value string
}

func (e *Identifier) expressionNode()      {}
func (e *Identifier) TokenLiteral() string { return e.Token.Literal }
func (e *Identifier) String() string       { return e.Value }

// IntegerLiteral expression.
type IntegerLiteral struct {
	Token token.Token
	Value int64
}

func (e *IntegerLiteral) expressionNode()      {}
func (e *IntegerLiteral) TokenLiteral() string { return e.Token.Literal }
func (e *IntegerLiteral) String() string       { return e.Token.Literal }

// FloatLiteral expression.
type FloatLiteral struct {
	Token token.Token
	Value float64
}

func (e *FloatLiteral) expressionNode()      {}
func (e *FloatLiteral) TokenLiteral() string { return e.Token.Literal }
func (e *FloatLiteral) String() string       { return e.Token.Literal }

// StringLiteral expression.
type StringLiteral struct {
	Token token.Token
	Value string
}

func (e *StringLiteral) expressionNode()      {}
func (e *StringLiteral) TokenLiteral() string { return e.Token.Literal }
func (e *StringLiteral) String() string       { return "\"" + e.Value + "\"" }

// BooleanLiteral expression.
type BooleanLiteral struct {
	Token token.Token
	Value bool
}

func (e *BooleanLiteral) expressionNode()      {}
func (e *BooleanLiteral) TokenLiteral() string { return e.Token.Literal }
func (e *BooleanLiteral) String() string       { return e.Token.Literal }

// NilLiteral expression.
type NilLiteral struct {
	Token token.Token
}

func (e *NilLiteral) expressionNode()      {}
func (e *NilLiteral) TokenLiteral() string { return e.Token.Literal }
func (e *NilLiteral) String() string       { return "nil" }

// PrefixExpression: !x, -x
type PrefixExpression struct {
	Token    token.Token
	Operator string
	Right    Expression
}

func (e *PrefixExpression) expressionNode()      {}
func (e *PrefixExpression) TokenLiteral() string { return e.Token.Literal }
func (e *PrefixExpression) String() string       { return "(" + e.Operator + e.Right.String() + ")" }

// InfixExpression: a op b
type InfixExpression struct {
	Token    token.Token
	Left     Expression
	Operator string
	Right    Expression
}

func (e *InfixExpression) expressionNode()      {}
func (e *InfixExpression) TokenLiteral() string { return e.Token.Literal }
func (e *InfixExpression) String() string {
	return "(" + e.Left.String() + " " + e.Operator + " " + e.Right.String() + ")"
}

// CallExpression: fn(args)
type CallExpression struct {
	Token     token.Token
	Function  Expression
	Arguments []Expression
}

func (e *CallExpression) expressionNode()      {}
func (e *CallExpression) TokenLiteral() string { return e.Token.Literal }
func (e *CallExpression) String() string {
	args := make([]string, len(e.Arguments))
	for i, a := range e.Arguments {
		args[i] = a.String()
	}
	return e.Function.String() + "(" + strings.Join(args, ", ") + ")"
}

// MemberExpression reads an export from an imported module: left.name.
type MemberExpression struct {
	Token token.Token
	Left  Expression
	Name  *Identifier
}

func (e *MemberExpression) expressionNode()      {}
func (e *MemberExpression) TokenLiteral() string { return e.Token.Literal }
func (e *MemberExpression) String() string       { return e.Left.String() + "." + e.Name.Value }
