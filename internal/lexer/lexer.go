package lexer

import (
	"unicode"
	"unicode/utf8"

	"github.com/emberlang/ember/internal/token"
)

// Lexer turns Ember source text into a token stream.
type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position (after current char)
	ch           rune // current char under examination
	line         int
	column       int
}

func New(input string) *Lexer {
	l := &Lexer{input: input, line: 1, column: 0}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPosition >= len(l.input) {
		l.ch = 0
		l.position = l.readPosition
		l.readPosition++
		l.column++
		return
	}
	r, w := utf8.DecodeRuneInString(l.input[l.readPosition:])
	l.ch = r
	l.position = l.readPosition
	l.readPosition += w
	l.column++
}

func (l *Lexer) peekChar() rune {
	if l.readPosition >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPosition:])
	return r
}

// NextToken scans and returns the next token.
func (l *Lexer) NextToken() token.Token {
	l.skipWhitespaceAndComments()

	tok := token.Token{Line: l.line, Column: l.column}

	switch l.ch {
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			tok.Type, tok.Literal = token.EQ, "=="
		} else {
			tok.Type, tok.Literal = token.ASSIGN, "="
		}
	case '+':
		tok.Type, tok.Literal = token.PLUS, "+"
	case '-':
		tok.Type, tok.Literal = token.MINUS, "-"
	case '*':
		tok.Type, tok.Literal = token.ASTERISK, "*"
	case '/':
		tok.Type, tok.Literal = token.SLASH, "/"
	case '%':
		tok.Type, tok.Literal = token.PERCENT, "%"
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok.Type, tok.Literal = token.NOT_EQ, "!="
		} else {
			tok.Type, tok.Literal = token.BANG, "!"
		}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			tok.Type, tok.Literal = token.LE, "<="
		} else {
			tok.Type, tok.Literal = token.LT, "<"
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok.Type, tok.Literal = token.GE, ">="
		} else {
			tok.Type, tok.Literal = token.GT, ">"
		}
	case ',':
		tok.Type, tok.Literal = token.COMMA, ","
	case '.':
		tok.Type, tok.Literal = token.DOT, "."
	case ';':
		tok.Type, tok.Literal = token.SEMICOLON, ";"
	case '(':
		tok.Type, tok.Literal = token.LPAREN, "("
	case ')':
		tok.Type, tok.Literal = token.RPAREN, ")"
	case '{':
		tok.Type, tok.Literal = token.LBRACE, "{"
	case '}':
		tok.Type, tok.Literal = token.RBRACE, "}"
	case '"':
		tok.Type = token.STRING
		tok.Literal = l.readString()
	case 0:
		tok.Type, tok.Literal = token.EOF, ""
	default:
		if isLetter(l.ch) {
			tok.Literal = l.readIdentifier()
			tok.Type = token.LookupIdent(tok.Literal)
			return tok
		}
		if unicode.IsDigit(l.ch) {
			return l.readNumber()
		}
		tok.Type, tok.Literal = token.ILLEGAL, string(l.ch)
	}

	l.readChar()
	return tok
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' || l.ch == '\n' {
			l.readChar()
		}
		if l.ch == '#' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		return
	}
}

func (l *Lexer) readIdentifier() string {
	start := l.position
	for isLetter(l.ch) || unicode.IsDigit(l.ch) {
		l.readChar()
	}
	return l.input[start:l.position]
}

func (l *Lexer) readNumber() token.Token {
	tok := token.Token{Type: token.INT, Line: l.line, Column: l.column}
	start := l.position
	for unicode.IsDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && unicode.IsDigit(l.peekChar()) {
		tok.Type = token.FLOAT
		l.readChar()
		for unicode.IsDigit(l.ch) {
			l.readChar()
		}
	}
	tok.Literal = l.input[start:l.position]
	return tok
}

func (l *Lexer) readString() string {
	var out []rune
	for {
		l.readChar()
		if l.ch == '"' || l.ch == 0 {
			break
		}
		if l.ch == '\\' {
			switch l.peekChar() {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case '"':
				out = append(out, '"')
			case '\\':
				out = append(out, '\\')
			default:
				out = append(out, l.peekChar())
			}
			l.readChar()
			continue
		}
		out = append(out, l.ch)
	}
	return string(out)
}

func isLetter(ch rune) bool {
	return unicode.IsLetter(ch) || ch == '_'
}
