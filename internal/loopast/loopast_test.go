package loopast

import (
	"errors"
	"testing"

	"github.com/zclconf/go-cty/cty"
)

func TestParseBound(t *testing.T) {
	tests := []struct {
		in   string
		want Bound
		str  string
	}{
		{"5", Bound{Off: 5}, "5"},
		{"(10)", Bound{Off: 10}, "10"},
		{"N", Bound{Expr: "N"}, "N"},
		{"N-1", Bound{Expr: "N", Off: -1}, "N-1"},
		{"N-1+1", Bound{Expr: "N"}, "N"},
		{"a*b + 2", Bound{Expr: "a*b", Off: 2}, "a*b+2"},
		{"n?x:y+1", Bound{Expr: "n?x:y+1"}, "(n?x:y+1)"},
	}
	for _, tt := range tests {
		got := ParseBound(tt.in)
		if got != tt.want {
			t.Errorf("ParseBound(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if got.String() != tt.str {
			t.Errorf("ParseBound(%q).String() = %q, want %q", tt.in, got.String(), tt.str)
		}
	}
}

func TestMinBound(t *testing.T) {
	if got := MinBound(Const(4), Const(12)); got != Const(4) {
		t.Fatalf("expected folded constant min, got %+v", got)
	}
	if got := MinBound(Sym("N").Add(-2), Sym("N")); got != Sym("N").Add(-2) {
		t.Fatalf("expected folded symbolic min, got %+v", got)
	}
	got := MinBound(Sym("it+4"), Sym("N"))
	if got.String() != "((it+4)<(N)?(it+4):(N))" {
		t.Fatalf("unexpected conditional min %q", got.String())
	}
}

func TestSubstituteIdent(t *testing.T) {
	tests := []struct {
		text, name, repl, want string
	}{
		{"A[i]*x.i + i2", "i", "(i+1)", "A[(i+1)]*x.i + i2"},
		{`printf("i=%d", i);`, "i", "k", `printf("i=%d", k);`},
		{"p->i = i; /* i */", "i", "j", "p->i = j; /* i */"},
		{"y[i] = 1e5*i;", "e5", "z", "y[i] = 1e5*i;"},
	}
	for _, tt := range tests {
		if got := SubstituteIdent(tt.text, tt.name, tt.repl); got != tt.want {
			t.Errorf("SubstituteIdent(%q, %q) = %q, want %q", tt.text, tt.name, got, tt.want)
		}
	}
	if !ContainsIdent("y[j] += a[i][j];", "i") || ContainsIdent("y[ii] = 0;", "i") {
		t.Fatalf("ContainsIdent gave wrong answer")
	}
}

func TestEvalExpr(t *testing.T) {
	tests := []struct {
		src  string
		env  Env
		want cty.Value
	}{
		{"[1]+list(range(2,5))", nil, cty.TupleVal([]cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(2), cty.NumberIntVal(3), cty.NumberIntVal(4)})},
		{"2**3**2", nil, cty.NumberIntVal(512)},
		{"['vector always', \"\"]", nil, cty.TupleVal([]cty.Value{cty.StringVal("vector always"), cty.StringVal("")})},
		{"(SCREP, 'double')", Env{"SCREP": cty.True}, cty.TupleVal([]cty.Value{cty.True, cty.StringVal("double")})},
		{"U1*2-1", Env{"U1": cty.NumberIntVal(3)}, cty.NumberIntVal(5)},
		{"[False,True]", nil, cty.TupleVal([]cty.Value{cty.False, cty.True})},
		{"[]", nil, cty.EmptyTupleVal},
	}
	for _, tt := range tests {
		e, err := ParseExprString(tt.src, 1)
		if err != nil {
			t.Fatalf("ParseExprString(%q): %v", tt.src, err)
		}
		got, err := e.Eval(tt.env)
		if err != nil {
			t.Fatalf("Eval(%q): %v", tt.src, err)
		}
		if !got.RawEquals(tt.want) && !got.Equals(tt.want).True() {
			t.Errorf("Eval(%q) = %#v, want %#v", tt.src, got, tt.want)
		}
	}
}

func TestEvalUndefined(t *testing.T) {
	e, err := ParseExprString("[U9, 1]", 1)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = e.Eval(Env{})
	var undef *UndefinedError
	if !errors.As(err, &undef) || undef.Name != "U9" {
		t.Fatalf("expected UndefinedError for U9, got %v", err)
	}
	if ids := Idents(e); len(ids) != 1 || ids[0] != "U9" {
		t.Fatalf("unexpected idents %v", ids)
	}
}

func TestParseNest(t *testing.T) {
	src := `
transform Unroll(ufactor=U4)
for (i=0; i<=N-1; i++) {
  transform Composite(scalarreplace=(SCREP, 'double'), vector=(IVEC1, ['ivdep','vector always']))
  for (int j = 0; j < M; j += 2)
    y[i] += a[i][j]*x[j];
}
`
	nodes, err := ParseNest(src, 10)
	if err != nil {
		t.Fatalf("ParseNest: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected 1 top-level node, got %d", len(nodes))
	}
	outer, ok := nodes[0].(*Loop)
	if !ok {
		t.Fatalf("expected loop, got %T", nodes[0])
	}
	if outer.Index != "i" || outer.Lower == nil || *outer.Lower != Const(0) || outer.Upper != Sym("N") || outer.Step != 1 {
		t.Fatalf("unexpected outer header %+v", outer)
	}
	if outer.Line != 12 {
		t.Fatalf("expected outer loop on line 12, got %d", outer.Line)
	}
	if len(outer.Directives) != 1 || outer.Directives[0].Kind != "Unroll" {
		t.Fatalf("unexpected outer directives %v", outer.Directives)
	}
	if e, ok := outer.Directives[0].Lookup("ufactor", 0); !ok || e.String() != "U4" {
		t.Fatalf("ufactor argument not found")
	}
	inner := outer.Body[0].(*Loop)
	if inner.Index != "j" || inner.Step != 2 || inner.Upper != Sym("M") {
		t.Fatalf("unexpected inner header %+v", inner)
	}
	ids := inner.Directives[0].Idents()
	if len(ids) != 2 || ids[0] != "SCREP" || ids[1] != "IVEC1" {
		t.Fatalf("unexpected directive idents %v", ids)
	}
	stmt := inner.Body[0].(*Stmt)
	if stmt.Text != "y[i] += a[i][j]*x[j];" {
		t.Fatalf("unexpected statement %q", stmt.Text)
	}
}

func TestParseNestErrors(t *testing.T) {
	tests := []string{
		"transform Unroll(ufactor=2)\ny = 1;",
		"for (i=0; i>N; i++) x[i]=0;",
		"for (i=0; i<N; i--) x[i]=0;",
		"for (i=0; i<N; i++) { x[i]=0;",
		"transform Unroll(ufactor=2",
	}
	for _, src := range tests {
		if _, err := ParseNest(src, 1); err == nil {
			t.Errorf("expected error for %q", src)
		}
	}
}

func TestRender(t *testing.T) {
	nodes, err := ParseNest("#pragma omp simd\nfor (i=0; i<8; i++) s += x[i];", 1)
	if err != nil {
		t.Fatalf("ParseNest: %v", err)
	}
	got := Render(nodes, "")
	want := "#pragma omp simd\nfor (i=0; i<8; i++) {\n  s += x[i];\n}\n"
	if got != want {
		t.Fatalf("Render mismatch:\n%s\nwant:\n%s", got, want)
	}

	loop := nodes[1].(*Loop)
	loop.Lower = nil
	loop.Step = 4
	loop.Pragmas = []string{"ivdep"}
	if got := Render([]Node{loop}, "  "); got != "  #pragma ivdep\n  for (; i<8; i+=4) {\n    s += x[i];\n  }\n" {
		t.Fatalf("unexpected continuation render %q", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	nodes, err := ParseNest("for (i=0; i<N; i++) { for (j=0; j<N; j++) a[i][j] = 0; }", 1)
	if err != nil {
		t.Fatalf("ParseNest: %v", err)
	}
	cp := CloneNodes(nodes)
	SubstituteNodes(cp, "N", "M")
	if Render(nodes, "") == Render(cp, "") {
		t.Fatalf("expected clone to diverge after substitution")
	}
	if ContainsIdent(Render(nodes, ""), "M") {
		t.Fatalf("original was mutated")
	}
}

func TestTripCount(t *testing.T) {
	l := &Loop{Index: "i", Lower: ptr(Const(0)), Upper: Const(9), Step: 4}
	if n, ok := l.TripCount(); !ok || n != 3 {
		t.Fatalf("expected 3 trips, got %d %v", n, ok)
	}
	l.Upper = Sym("N")
	if _, ok := l.TripCount(); ok {
		t.Fatalf("symbolic trip count should be unknown")
	}
}

func ptr[T any](v T) *T { return &v }
