package token

// TokenType identifies the lexical class of a token.
type TokenType string

// Token is a single lexical unit with source position info.
type Token struct {
	Type    TokenType
	Literal string
	Line    int
	Column  int
}

const (
	ILLEGAL = "ILLEGAL"
	EOF     = "EOF"

	// Identifiers and literals
	IDENT  = "IDENT"
	INT    = "INT"
	FLOAT  = "FLOAT"
	STRING = "STRING"

	// Operators
	ASSIGN   = "="
	PLUS     = "+"
	MINUS    = "-"
	ASTERISK = "*"
	SLASH    = "/"
	PERCENT  = "%"
	BANG     = "!"

	EQ     = "=="
	NOT_EQ = "!="
	LT     = "<"
	LE     = "<="
	GT     = ">"
	GE     = ">="

	// Delimiters
	COMMA     = ","
	DOT       = "."
	SEMICOLON = ";"
	LPAREN    = "("
	RPAREN    = ")"
	LBRACE    = "{"
	RBRACE    = "}"

	// Keywords
	LET    = "LET"
	PUB    = "PUB"
	FN     = "FN"
	RETURN = "RETURN"
	IF     = "IF"
	ELSE   = "ELSE"
	WHILE  = "WHILE"
	IMPORT = "IMPORT"
	AS     = "AS"
	TRUE   = "TRUE"
	FALSE  = "FALSE"
	NIL    = "NIL"
)

var keywords = map[string]TokenType{
	"let":    LET,
	"pub":    PUB,
	"fn":     FN,
	"return": RETURN,
	"if":     IF,
	"else":   ELSE,
	"while":  WHILE,
	"import": IMPORT,
	"as":     AS,
	"true":   TRUE,
	"false":  FALSE,
	"nil":    NIL,
}

// LookupIdent returns the keyword type for ident, or IDENT.
func LookupIdent(ident string) TokenType {
	if t, ok := keywords[ident]; ok {
		return t
	}
	return IDENT
}
