package units

import "testing"

func TestMapMulAddsExponents(t *testing.T) {
	a := Map{"meter": 1, "second": -1}
	b := Map{"second": -1}
	got := a.Mul(b)
	want := Map{"meter": 1, "second": -2}
	if !got.Equal(want) {
		t.Fatalf("Mul = %v, want %v", got, want)
	}
}

func TestMapMulCancelsToEmpty(t *testing.T) {
	a := Map{"meter": 1}
	b := Map{"meter": -1}
	got := a.Mul(b)
	if !got.Empty() {
		t.Fatalf("Mul = %v, want empty (meter cancels)", got)
	}
}

func TestMapDivIsMulByReciprocal(t *testing.T) {
	a := Map{"meter": 1}
	b := Map{"second": 1}
	got := a.Div(b)
	want := Map{"meter": 1, "second": -1}
	if !got.Equal(want) {
		t.Fatalf("Div = %v, want %v", got, want)
	}
}

func TestMapReciprocalNegatesExponents(t *testing.T) {
	a := Map{"meter": 2, "second": -1}
	got := a.Reciprocal()
	want := Map{"meter": -2, "second": 1}
	if !got.Equal(want) {
		t.Fatalf("Reciprocal = %v, want %v", got, want)
	}
}

func TestMapPow(t *testing.T) {
	a := Map{"meter": 1, "second": -1}
	got := a.Pow(2)
	want := Map{"meter": 2, "second": -2}
	if !got.Equal(want) {
		t.Fatalf("Pow(2) = %v, want %v", got, want)
	}
	if zero := a.Pow(0); !zero.Empty() {
		t.Fatalf("Pow(0) = %v, want empty", zero)
	}
}

func TestMapEqualIgnoresZeroExponents(t *testing.T) {
	a := Map{"meter": 1, "second": 0}
	b := Map{"meter": 1}
	if !a.Equal(b) {
		t.Fatalf("Equal should ignore explicit zero exponents: %v vs %v", a, b)
	}
}

func TestMapStringFormatsNumeratorAndDenominator(t *testing.T) {
	tests := []struct {
		name string
		m    Map
		want string
	}{
		{"dimensionless", Map{}, "dmnl"},
		{"single unit", Map{"meter": 1}, "meter"},
		{"power", Map{"meter": 2}, "meter^2"},
		{"quotient", Map{"meter": 1, "second": -1}, "meter/second"},
		{"quotient power", Map{"meter": 1, "second": -2}, "meter/second^2"},
		{"product sorted", Map{"second": 1, "meter": 1}, "meter*second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewContextResolvesAliases(t *testing.T) {
	ctx, errs := NewContext([]Decl{
		{Name: "Widgets", Aliases: []string{"widget", "wdg"}},
	})
	if len(errs) > 0 {
		t.Fatalf("NewContext: %v", errs)
	}
	m, ok := ctx.Lookup("wdg")
	if !ok {
		t.Fatal("Lookup(\"wdg\") not found")
	}
	want := Map{"widgets": 1}
	if !m.Equal(want) {
		t.Fatalf("Lookup(\"wdg\") = %v, want %v", m, want)
	}
}

func TestNewContextDerivedUnit(t *testing.T) {
	ctx, errs := NewContext([]Decl{
		{Name: "Meter"},
		{Name: "Second"},
		{Name: "Speed", Equation: "Meter/Second"},
	})
	if len(errs) > 0 {
		t.Fatalf("NewContext: %v", errs)
	}
	m, ok := ctx.Lookup("Speed")
	if !ok {
		t.Fatal("Lookup(\"Speed\") not found")
	}
	want := Map{"meter": 1, "second": -1}
	if !m.Equal(want) {
		t.Fatalf("Lookup(\"Speed\") = %v, want %v", m, want)
	}
}

func TestNewContextDuplicateUnitErrors(t *testing.T) {
	_, errs := NewContext([]Decl{
		{Name: "Meter"},
		{Name: "Meter"},
	})
	if len(errs) == 0 {
		t.Fatal("expected a duplicate-unit error, got none")
	}
}

func TestNewContextDuplicateAliasErrors(t *testing.T) {
	_, errs := NewContext([]Decl{
		{Name: "Meter", Aliases: []string{"m"}},
		{Name: "Minute", Aliases: []string{"m"}},
	})
	if len(errs) == 0 {
		t.Fatal("expected a duplicate-alias error, got none")
	}
}

func TestParseDimensionlessKeywords(t *testing.T) {
	for _, src := range []string{"1", "dmnl", "nil", "dimensionless", "fraction"} {
		m, err := Parse(src, nil)
		if err != nil {
			t.Fatalf("Parse(%q): %v", src, err)
		}
		if !m.Empty() {
			t.Errorf("Parse(%q) = %v, want empty", src, m)
		}
	}
}

func TestParseProductAndQuotient(t *testing.T) {
	m, err := Parse("meter/second^2", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Map{"meter": 1, "second": -2}
	if !m.Equal(want) {
		t.Fatalf("Parse(\"meter/second^2\") = %v, want %v", m, want)
	}
}

func TestParseReciprocalViaOneOverB(t *testing.T) {
	m, err := Parse("1/second", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Map{"second": -1}
	if !m.Equal(want) {
		t.Fatalf("Parse(\"1/second\") = %v, want %v", m, want)
	}
}

func TestParseParenGrouping(t *testing.T) {
	m, err := Parse("meter/(second*second)", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Map{"meter": 1, "second": -2}
	if !m.Equal(want) {
		t.Fatalf("Parse = %v, want %v", m, want)
	}
}

func TestParseNegativePower(t *testing.T) {
	m, err := Parse("second^-1", nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Map{"second": -1}
	if !m.Equal(want) {
		t.Fatalf("Parse(\"second^-1\") = %v, want %v", m, want)
	}
}

func TestParseRejectsNonUnitConstant(t *testing.T) {
	if _, err := Parse("2", nil); err == nil {
		t.Fatal("Parse(\"2\"): expected NoConstInUnits error, got none")
	}
}

func TestParseRejectsUnaryMinus(t *testing.T) {
	if _, err := Parse("-meter", nil); err == nil {
		t.Fatal("Parse(\"-meter\"): expected NoUnaryOpInUnits error, got none")
	}
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	if _, err := Parse("meter second", nil); err == nil {
		t.Fatal("Parse(\"meter second\"): expected an extra-token error, got none")
	}
}

func TestParseUsesContextForNamedUnit(t *testing.T) {
	ctx, errs := NewContext([]Decl{{Name: "Widgets"}})
	if len(errs) > 0 {
		t.Fatalf("NewContext: %v", errs)
	}
	m, err := Parse("Widgets", ctx)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := Map{"widgets": 1}
	if !m.Equal(want) {
		t.Fatalf("Parse(\"Widgets\") = %v, want %v", m, want)
	}
}
