package lexer

import (
	"testing"

	"github.com/emberlang/ember/internal/token"
)

func TestNextToken(t *testing.T) {
	input := `import "@util" as u
pub let answer = 42
fn half(n) {
	return n / 2.5
}
# comment to skip
let ok = answer >= 40 != false
`
	expected := []struct {
		typ     token.TokenType
		literal string
	}{
		{token.IMPORT, "import"},
		{token.STRING, "@util"},
		{token.AS, "as"},
		{token.IDENT, "u"},
		{token.PUB, "pub"},
		{token.LET, "let"},
		{token.IDENT, "answer"},
		{token.ASSIGN, "="},
		{token.INT, "42"},
		{token.FN, "fn"},
		{token.IDENT, "half"},
		{token.LPAREN, "("},
		{token.IDENT, "n"},
		{token.RPAREN, ")"},
		{token.LBRACE, "{"},
		{token.RETURN, "return"},
		{token.IDENT, "n"},
		{token.SLASH, "/"},
		{token.FLOAT, "2.5"},
		{token.RBRACE, "}"},
		{token.LET, "let"},
		{token.IDENT, "ok"},
		{token.ASSIGN, "="},
		{token.IDENT, "answer"},
		{token.GE, ">="},
		{token.INT, "40"},
		{token.NOT_EQ, "!="},
		{token.FALSE, "false"},
		{token.EOF, ""},
	}

	l := New(input)
	for i, want := range expected {
		tok := l.NextToken()
		if tok.Type != want.typ {
			t.Fatalf("token %d: type %q, want %q (literal %q)", i, tok.Type, want.typ, tok.Literal)
		}
		if tok.Literal != want.literal {
			t.Fatalf("token %d: literal %q, want %q", i, tok.Literal, want.literal)
		}
	}
}

func TestStringEscapes(t *testing.T) {
	l := New(`"a\nb\t\"c\\"`)
	tok := l.NextToken()
	if tok.Type != token.STRING {
		t.Fatalf("type %q, want STRING", tok.Type)
	}
	if tok.Literal != "a\nb\t\"c\\" {
		t.Errorf("literal %q", tok.Literal)
	}
}

func TestLineTracking(t *testing.T) {
	l := New("let a = 1\nlet b = 2")
	var last int
	for tok := l.NextToken(); tok.Type != token.EOF; tok = l.NextToken() {
		last = tok.Line
	}
	if last != 2 {
		t.Errorf("last token on line %d, want 2", last)
	}
}

func TestIllegalCharacter(t *testing.T) {
	l := New("let x = 1 ~")
	for {
		tok := l.NextToken()
		if tok.Type == token.ILLEGAL {
			if tok.Literal != "~" {
				t.Errorf("illegal literal %q, want ~", tok.Literal)
			}
			return
		}
		if tok.Type == token.EOF {
			t.Fatal("never saw ILLEGAL token")
		}
	}
}
