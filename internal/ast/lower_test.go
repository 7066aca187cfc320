package ast

import "testing"

func parseAndLower1(t *testing.T, src string) Expr1 {
	t.Helper()
	e0, errs := ParseEquation(src)
	if len(errs) > 0 {
		t.Fatalf("ParseEquation(%q): %v", src, errs)
	}
	e1, lerrs := Lower1(e0)
	if len(lerrs) > 0 {
		t.Fatalf("Lower1(%q): %v", src, lerrs)
	}
	return e1
}

func TestLower1ResolvesKnownBuiltin(t *testing.T) {
	e1 := parseAndLower1(t, "abs(x)")
	call, ok := e1.(Call1)
	if !ok {
		t.Fatalf("Lower1(\"abs(x)\") = %T, want Call1", e1)
	}
	if call.Builtin == nil || call.Builtin.Name != "abs" {
		t.Fatalf("Call1.Builtin = %+v, want abs", call.Builtin)
	}
}

func TestLower1UnknownNameIsLookup(t *testing.T) {
	e1 := parseAndLower1(t, "table_var(x)")
	lookup, ok := e1.(Lookup1)
	if !ok {
		t.Fatalf("Lower1(\"table_var(x)\") = %T, want Lookup1", e1)
	}
	if lookup.Ident != "table_var" {
		t.Fatalf("Lookup1.Ident = %q, want table_var", lookup.Ident)
	}
}

func TestLower1BadArity(t *testing.T) {
	e0, errs := ParseEquation("abs(x, y)")
	if len(errs) > 0 {
		t.Fatalf("ParseEquation: %v", errs)
	}
	_, lerrs := Lower1(e0)
	if len(lerrs) == 0 {
		t.Fatal("Lower1(\"abs(x, y)\"): expected a BadBuiltinArgs error, got none")
	}
}

func TestLower1LookupWrongArity(t *testing.T) {
	e0, errs := ParseEquation("table_var(x, y)")
	if len(errs) > 0 {
		t.Fatalf("ParseEquation: %v", errs)
	}
	_, lerrs := Lower1(e0)
	if len(lerrs) == 0 {
		t.Fatal("Lower1(\"table_var(x, y)\"): expected an error, got none")
	}
}

func TestLower2CarriesUnsetUnitSlot(t *testing.T) {
	e1 := parseAndLower1(t, "x + 1")
	e2 := Lower2(e1)
	bin, ok := e2.(*Binary2)
	if !ok {
		t.Fatalf("Lower2(\"x + 1\") = %T, want *Binary2", e2)
	}
	if _, set := bin.GetUnits(); set {
		t.Fatal("freshly lowered Binary2 should have no units set yet")
	}
	bin.SetUnits(nil)
	if _, set := bin.GetUnits(); !set {
		t.Fatal("SetUnits should mark the slot as set even with a nil map")
	}
}

type fakeDims struct {
	dims map[string][]string
}

func (f fakeDims) Dimension(name string) ([]string, bool) {
	e, ok := f.dims[name]
	return e, ok
}

func (f fakeDims) ElementIndex(dim, elem string) (int, bool) {
	for i, e := range f.dims[dim] {
		if e == elem {
			return i, true
		}
	}
	return 0, false
}

func TestLower3ConstIndexSubscript(t *testing.T) {
	e1 := parseAndLower1(t, "a[1]")
	e2 := Lower2(e1)
	e3, errs := Lower3(e2, fakeDims{}, nil)
	if len(errs) > 0 {
		t.Fatalf("Lower3: %v", errs)
	}
	sub, ok := e3.(*Subscript3)
	if !ok {
		t.Fatalf("Lower3(\"a[1]\") = %T, want *Subscript3", e3)
	}
	if len(sub.View.Ops) != 1 || sub.View.Ops[0].Kind != OpSingle || sub.View.Ops[0].Index != 0 {
		t.Fatalf("View.Ops = %+v, want [{Kind: OpSingle, Index: 0}]", sub.View.Ops)
	}
}

func TestLower3DimensionSubscript(t *testing.T) {
	dims := fakeDims{dims: map[string][]string{"Location": {"Boston", "Chicago"}}}
	e1 := parseAndLower1(t, "a[Location]")
	e2 := Lower2(e1)
	e3, errs := Lower3(e2, dims, nil)
	if len(errs) > 0 {
		t.Fatalf("Lower3: %v", errs)
	}
	sub := e3.(*Subscript3)
	if sub.View.Ops[0].Kind != OpDimPosition || sub.View.Ops[0].Dim != "Location" {
		t.Fatalf("View.Ops[0] = %+v, want OpDimPosition over Location", sub.View.Ops[0])
	}
	if sub.View.Dims[0] != 2 {
		t.Fatalf("View.Dims[0] = %d, want 2", sub.View.Dims[0])
	}
}

func TestLower3WildcardSubscript(t *testing.T) {
	e1 := parseAndLower1(t, "a[*]")
	e2 := Lower2(e1)
	e3, errs := Lower3(e2, fakeDims{}, nil)
	if len(errs) > 0 {
		t.Fatalf("Lower3: %v", errs)
	}
	sub := e3.(*Subscript3)
	if sub.View.Ops[0].Kind != OpWildcard {
		t.Fatalf("View.Ops[0].Kind = %v, want OpWildcard", sub.View.Ops[0].Kind)
	}
}

func TestLower3RangeSubscript(t *testing.T) {
	e1 := parseAndLower1(t, "a[1:3]")
	e2 := Lower2(e1)
	e3, errs := Lower3(e2, fakeDims{}, nil)
	if len(errs) > 0 {
		t.Fatalf("Lower3: %v", errs)
	}
	sub := e3.(*Subscript3)
	if sub.View.Ops[0].Kind != OpRange || sub.View.Ops[0].Lo != 0 || sub.View.Ops[0].Hi != 2 {
		t.Fatalf("View.Ops[0] = %+v, want OpRange{Lo:0, Hi:2}", sub.View.Ops[0])
	}
	if sub.View.Dims[0] != 3 {
		t.Fatalf("View.Dims[0] = %d, want 3 (hi-lo+1)", sub.View.Dims[0])
	}
}

func TestLower3ActiveDimRef(t *testing.T) {
	e1 := parseAndLower1(t, "a[DimA]")
	e2 := Lower2(e1)
	e3, errs := Lower3(e2, fakeDims{}, []string{"DimA"})
	if len(errs) > 0 {
		t.Fatalf("Lower3: %v", errs)
	}
	sub := e3.(*Subscript3)
	if sub.View.Ops[0].Kind != OpActiveDimRef || sub.View.Ops[0].RefDim != "DimA" {
		t.Fatalf("View.Ops[0] = %+v, want OpActiveDimRef over DimA", sub.View.Ops[0])
	}
}

func TestLower3NonConstRangeErrors(t *testing.T) {
	e1 := parseAndLower1(t, "a[x:3]")
	e2 := Lower2(e1)
	_, errs := Lower3(e2, fakeDims{}, nil)
	if len(errs) == 0 {
		t.Fatal("Lower3(\"a[x:3]\"): expected an error for a non-constant range bound")
	}
}

func TestIdentsCollectsVarRefsNotBuiltins(t *testing.T) {
	e0, errs := ParseEquation("abs(population) + birth_rate - death_rate")
	if len(errs) > 0 {
		t.Fatalf("ParseEquation: %v", errs)
	}
	idents := Idents(e0)
	want := map[string]bool{"population": true, "birth_rate": true, "death_rate": true}
	if len(idents) != len(want) {
		t.Fatalf("Idents = %v, want exactly %v", idents, want)
	}
	for _, id := range idents {
		if !want[id] {
			t.Errorf("unexpected ident %q in %v", id, idents)
		}
	}
}

func TestIdentsDeduplicates(t *testing.T) {
	e0, errs := ParseEquation("population + population")
	if len(errs) > 0 {
		t.Fatalf("ParseEquation: %v", errs)
	}
	idents := Idents(e0)
	if len(idents) != 1 || idents[0] != "population" {
		t.Fatalf("Idents(\"population + population\") = %v, want [\"population\"]", idents)
	}
}

func TestIdentsIncludesLookupTableCalls(t *testing.T) {
	e0, errs := ParseEquation("my_lookup(x)")
	if len(errs) > 0 {
		t.Fatalf("ParseEquation: %v", errs)
	}
	idents := Idents(e0)
	found := false
	for _, id := range idents {
		if id == "my_lookup" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Idents(\"my_lookup(x)\") = %v, want it to include the lookup table's own ident", idents)
	}
}
