package lexer

import "testing"

func scanTypes(t *testing.T, src string, dialect Dialect) []TokenType {
	t.Helper()
	toks, err := Scan(src, dialect)
	if err != nil {
		t.Fatalf("Scan(%q): unexpected error: %v", src, err)
	}
	var types []TokenType
	for _, tok := range toks {
		types = append(types, tok.Type)
	}
	return types
}

func TestScanOperators(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []TokenType
	}{
		{"simple arithmetic", "a + b * c", []TokenType{TokIdent, TokPlus, TokIdent, TokStar, TokIdent, TokEOF}},
		{"safediv vs slash", "a // b / c", []TokenType{TokIdent, TokSafeDiv, TokIdent, TokSlash, TokIdent, TokEOF}},
		{"comparisons", "a <= b <> c >= d", []TokenType{TokIdent, TokLte, TokIdent, TokNeq, TokIdent, TokGte, TokIdent, TokEOF}},
		{"bang-equal as neq", "a != b", []TokenType{TokIdent, TokNeq, TokIdent, TokEOF}},
		{"logical keywords", "a and b or not c", []TokenType{TokIdent, TokAnd, TokIdent, TokOr, TokNot, TokIdent, TokEOF}},
		{"logical symbols", "a && b || c", []TokenType{TokIdent, TokAnd, TokIdent, TokOr, TokIdent, TokEOF}},
		{"if then else", "if a then b else c", []TokenType{TokIf, TokIdent, TokThen, TokIdent, TokElse, TokIdent, TokEOF}},
		{"subscript brackets", "a[b]", []TokenType{TokIdent, TokLBracket, TokIdent, TokRBracket, TokEOF}},
		{"call parens and comma", "f(a, b)", []TokenType{TokIdent, TokLParen, TokIdent, TokComma, TokIdent, TokRParen, TokEOF}},
		{"nan literal", "nan", []TokenType{TokNaN, TokEOF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scanTypes(t, tt.src, DialectEquation)
			if len(got) != len(tt.want) {
				t.Fatalf("Scan(%q) = %v, want %v", tt.src, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Scan(%q)[%d] = %s, want %s", tt.src, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestScanNumbers(t *testing.T) {
	tests := []struct {
		name string
		src  string
		text string
	}{
		{"integer", "42", "42"},
		{"decimal", "3.14", "3.14"},
		{"leading dot", ".5", ".5"},
		{"exponent", "1e10", "1e10"},
		{"signed exponent", "1.5e-3", "1.5e-3"},
		{"bad exponent falls back", "1e", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks, err := Scan(tt.src, DialectEquation)
			if err != nil {
				t.Fatalf("Scan(%q): %v", tt.src, err)
			}
			if toks[0].Type != TokNumber || toks[0].Text != tt.text {
				t.Errorf("Scan(%q)[0] = %+v, want NUMBER %q", tt.src, toks[0], tt.text)
			}
		})
	}
}

func TestScanIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"plain", "population", "population"},
		{"quoted with spaces", `"birth rate"`, `"birth rate"`},
		{"dotted path", "sector_1.output", "sector_1.output"},
		{"underscore start", "_private", "_private"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks, err := Scan(tt.src, DialectEquation)
			if err != nil {
				t.Fatalf("Scan(%q): %v", tt.src, err)
			}
			if toks[0].Type != TokIdent || toks[0].Text != tt.want {
				t.Errorf("Scan(%q)[0] = %+v, want IDENT %q", tt.src, toks[0], tt.want)
			}
		})
	}
}

func TestScanUnitsDialectDimensionlessKeywords(t *testing.T) {
	for _, word := range []string{"dmnl", "Dimensionless", "FRACTION", "nil"} {
		toks, err := Scan(word, DialectUnits)
		if err != nil {
			t.Fatalf("Scan(%q, units): %v", word, err)
		}
		if toks[0].Type != TokIdent {
			t.Errorf("Scan(%q, units)[0].Type = %s, want IDENT", word, toks[0].Type)
		}
	}
	// In the equation dialect these aren't special-cased as dimensionless
	// keywords, but they still lex fine as plain identifiers.
	toks, err := Scan("dmnl", DialectEquation)
	if err != nil || toks[0].Type != TokIdent {
		t.Errorf("Scan(\"dmnl\", equation) = %+v, %v, want plain IDENT", toks, err)
	}
}

func TestScanComments(t *testing.T) {
	toks, err := Scan("a {this is a comment} + b", DialectEquation)
	if err != nil {
		t.Fatalf("Scan with comment: %v", err)
	}
	want := []TokenType{TokIdent, TokPlus, TokIdent, TokEOF}
	if len(toks) != len(want) {
		t.Fatalf("Scan with comment = %v, want %d tokens", toks, len(want))
	}
	for i, tok := range toks {
		if tok.Type != want[i] {
			t.Errorf("token[%d] = %s, want %s", i, tok.Type, want[i])
		}
	}
}

func TestScanUnterminatedComment(t *testing.T) {
	toks, err := Scan("a {unterminated", DialectEquation)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(toks) != 2 || toks[0].Type != TokIdent || toks[1].Type != TokEOF {
		t.Errorf("Scan(unterminated comment) = %v, want [IDENT EOF]", toks)
	}
}

func TestScanErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"lone ampersand", "a & b"},
		{"lone pipe", "a | b"},
		{"unterminated quote", `"oops`},
		{"invalid rune", "a $ b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Scan(tt.src, DialectEquation)
			if err == nil {
				t.Fatalf("Scan(%q): expected an error, got none", tt.src)
			}
		})
	}
}

func TestTokenStringIncludesSpan(t *testing.T) {
	toks, err := Scan("x", DialectEquation)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	s := toks[0].String()
	if s == "" {
		t.Fatal("Token.String() returned empty string")
	}
}
