package annotation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/looptune/looptune/internal/loopast"
	"github.com/looptune/looptune/internal/search"
)

const luSource = `/*@ begin PerfTuning (
  def build
  {
    arg build_command = 'gcc -O3 -lm';
  }

  def performance_counter
  {
    arg repetitions = 5;
  }

  def performance_params
  {
    param PERM[] = [
     ['i','j'],
#     ['j','i'],
    ];
    param U1[] = [1];
    param U4[] = [1,24];
    param IVEC1[] = [False, True];
    param SCREP[] = [False];
  }

  def search
  {
    arg algorithm = 'Exhaustive';
#    arg algorithm = 'Simplex';
  }

  def input_params
  {
    param N[] = [500];
  }
) @*/

register int i,j,k;

/*@ begin Loop (
transform Unroll(ufactor=U4)
for (k=0; k<=N-1; k++) {
  transform Composite (
  scalarreplace = (SCREP, 'double'),
  regtile = (['j'],[U1]),
  vector = (IVEC1, ['ivdep','vector always']))
    for (j=k+1; j<=N-1; j++)
      A[k][j] = A[k][j]/A[k][k];
  }
) @*/
for (k=0; k<=N-1; k++)
  for (j=k+1; j<=N-1; j++)
    A[k][j] = A[k][j]/A[k][k];
/*@ end @*/

/*@ end @*/
`

func TestParseTuningBlock(t *testing.T) {
	prog, err := Parse(luSource)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	spec := prog.Spec
	if spec.BuildCommand != "gcc -O3 -lm" {
		t.Errorf("BuildCommand = %q", spec.BuildCommand)
	}
	if spec.Repetitions != 5 {
		t.Errorf("Repetitions = %d, want 5", spec.Repetitions)
	}
	if spec.Timing != TimingWall {
		t.Errorf("Timing = %q, want %q", spec.Timing, TimingWall)
	}
	if spec.Search.Algorithm != search.Exhaustive {
		t.Errorf("Algorithm = %v", spec.Search.Algorithm)
	}

	names := make([]string, len(spec.Params))
	for i, p := range spec.Params {
		names[i] = p.Name
	}
	if got := strings.Join(names, ","); got != "PERM,U1,U4,IVEC1,SCREP" {
		t.Errorf("params = %s", got)
	}
	if spec.Params[0].Domain.Size() != 1 {
		t.Errorf("PERM size = %d, want 1 (commented entry dropped)", spec.Params[0].Domain.Size())
	}
	space, err := spec.Space()
	if err != nil {
		t.Fatalf("Space: %v", err)
	}
	if space.Cardinality() != 4 {
		t.Errorf("Cardinality = %d, want 4", space.Cardinality())
	}
	if len(spec.InputParams) != 1 || spec.InputParams[0].Name != "N" {
		t.Errorf("input params = %+v", spec.InputParams)
	}
	if spec.DeclFile != DefaultDeclFile {
		t.Errorf("DeclFile = %q", spec.DeclFile)
	}
}

func TestParseLoopBlock(t *testing.T) {
	prog, err := Parse(luSource)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(prog.Blocks) != 1 {
		t.Fatalf("got %d blocks, want 1", len(prog.Blocks))
	}
	b := prog.Blocks[0]
	if len(b.Nest) != 1 {
		t.Fatalf("nest has %d roots, want 1", len(b.Nest))
	}
	outer, ok := b.Nest[0].(*loopast.Loop)
	if !ok {
		t.Fatalf("root is %T, want *loopast.Loop", b.Nest[0])
	}
	if outer.Index != "k" || len(outer.Directives) != 1 || outer.Directives[0].Kind != "Unroll" {
		t.Errorf("outer loop = %s with %v", outer.Index, outer.Directives)
	}
	inner := loopast.Loops(outer.Body)
	if len(inner) != 1 || inner[0].Index != "j" || inner[0].Directives[0].Kind != "Composite" {
		t.Fatalf("inner loops = %+v", inner)
	}
	if !strings.Contains(b.Original, "A[k][j] = A[k][j]/A[k][k];") {
		t.Errorf("Original = %q", b.Original)
	}
	if got := prog.Source[b.Region.Start:b.Region.End]; !strings.HasPrefix(got, "/*@ begin Loop") || !strings.HasSuffix(got, "/*@ end @*/") {
		t.Errorf("block region = %q", got)
	}
	if len(prog.Markers) != 2 {
		t.Errorf("got %d tuning markers, want 2", len(prog.Markers))
	}
}

func TestParseMatvecStyle(t *testing.T) {
	src := `void f(double A[], double x[], double y[]) {
  /*@ begin PerfTuning (
        def build {
          arg build_command = 'cc @CFLAGS';
        }
        def performance_params {
          param U1[] = [1]+list(range(2,10));
          param SREP[] = [False,True];
          param CFLAGS[] = ['-O1', '-O3'];
          constraint small = 'U1 <= 4 and not SREP';
        }
        def input_params {
          param SITES[] = [2,4];
        }
        def input_vars {
          decl dynamic double A[18*SITES] = random;
          decl dynamic double y[6*SITES]  = 0;
          decl double alpha = random;
        }
        def performance_counter {
          arg method = 'basic timer';
          arg repetitions = 6;
        }
        def search {
          arg algorithm = 'Random';
          arg total_runs = 5;
          arg time_limit = 1.5;
          arg seed = 7;
        }
  ) @*/
  /*@ begin Loop(
  transform Unroll(ufactor=U1)
  for(i=0; i<=SITES-1; i++)
    y[i] = x[i];
  ) @*/
  /*@ end @*/
  /*@ end @*/
}
`
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	spec := prog.Spec
	if got := spec.Params[0].Domain.Size(); got != 9 {
		t.Errorf("U1 size = %d, want 9", got)
	}
	if len(spec.Constraints) != 1 || spec.Constraints[0].Name != "small" {
		t.Fatalf("constraints = %+v", spec.Constraints)
	}
	if spec.Search.Algorithm != search.Random {
		t.Errorf("Algorithm = %v", spec.Search.Algorithm)
	}
	opts := spec.Search.Options
	if opts.TotalRuns != 5 || opts.Seed != 7 || opts.TimeLimit != 1500*time.Millisecond {
		t.Errorf("search options = %+v", opts)
	}
	if spec.Repetitions != 6 {
		t.Errorf("Repetitions = %d", spec.Repetitions)
	}

	tests := []struct {
		name    string
		typ     string
		dims    []string
		dynamic bool
		init    string
	}{
		{"A", "double", []string{"18*SITES"}, true, "random"},
		{"y", "double", []string{"6*SITES"}, true, "0"},
		{"alpha", "double", nil, false, "random"},
	}
	if len(spec.InputDecls) != len(tests) {
		t.Fatalf("got %d decls, want %d", len(spec.InputDecls), len(tests))
	}
	for i, tt := range tests {
		d := spec.InputDecls[i]
		if d.Name != tt.name || d.Type != tt.typ || d.Dynamic != tt.dynamic || d.Init != tt.init ||
			strings.Join(d.Dims, ",") != strings.Join(tt.dims, ",") {
			t.Errorf("decl %d = %+v, want %+v", i, d, tt)
		}
	}
}

func TestParseRegionAnnotation(t *testing.T) {
	src := `/*@ begin PerfTuning(
  def performance_params {
    param PR[] = ["vector always", "novector", ""];
  }
  def build {
    arg build_command = 'icc -O2';
  }
) @*/
double f(double *xgi, int n) {
  double s = 0;
  /*@ Loops(transform Pragma(pragma_str=PR)) @*/
  for (int i=0; i<n; i++)
    s += xgi[i];
  /*@ @*/
  return s;
}
`
	prog, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(prog.Blocks) != 1 {
		t.Fatalf("got %d blocks", len(prog.Blocks))
	}
	loops := loopast.Loops(prog.Blocks[0].Nest)
	if len(loops) != 1 || len(loops[0].Directives) != 1 || loops[0].Directives[0].Kind != "Pragma" {
		t.Fatalf("loops = %+v", loops)
	}
	// The tuning block is never closed; its begin marker is still stripped.
	if len(prog.Markers) != 1 {
		t.Errorf("markers = %v", prog.Markers)
	}
}

func TestParseWithoutAnnotations(t *testing.T) {
	prog, err := Parse("int main(void) { return 0; }\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if prog.Spec != nil || len(prog.Blocks) != 0 {
		t.Errorf("prog = %+v", prog)
	}
}

func TestParseErrors(t *testing.T) {
	tuning := func(body string) string {
		return "/*@ begin PerfTuning (\n" + body + "\n) @*/\n"
	}
	params := "def performance_params { param U[] = [1,2]; }\n"
	loop := func(dir string) string {
		return "/*@ begin Loop(\n" + dir + "\nfor (i=0; i<N; i++) x[i] = 0;\n) @*/ x; /*@ end @*/\n"
	}

	tests := []struct {
		name string
		src  string
		want string
		line int
	}{
		{"unterminated comment", "int x;\n/*@ begin PerfTuning (", "unterminated annotation", 2},
		{"unterminated loop block", tuning(params) + "/*@ begin Loop(\nfor (i=0; i<N; i++) x[i]=0;\n) @*/ x;\n", "unterminated Loop block", 5},
		{"unknown section", tuning("def bogus { }"), `unknown section "bogus"`, 2},
		{"unknown key", tuning("def build { arg compiler = 'cc'; }"), `unknown key "compiler"`, 2},
		{"empty domain", tuning("def performance_params { param U[] = []; }"), "domain list is empty", 2},
		{"duplicate param", tuning(params + "def input_params { param U[] = [3]; }"), "duplicate parameter U", 0},
		{"unknown algorithm", tuning(params + "def search { arg algorithm = 'Annealing'; }"), "unknown search algorithm", 0},
		{"random without budget", tuning(params + "def search { arg algorithm = 'Random'; }"), "requires total_runs", 0},
		{"undeclared param", tuning(params) + loop("transform Unroll(ufactor=V)"), "undeclared parameter V", 0},
		{"unknown transform", tuning(params) + loop("transform Fuse(ufactor=U)"), `unknown transform "Fuse"`, 0},
		{"unknown argument", tuning(params) + loop("transform Unroll(depth=U)"), `unknown argument "depth"`, 0},
		{"bad loop header", tuning(params) + "/*@ begin Loop(\nfor (i=0; i>N; i++) x[i]=0;\n) @*/ /*@ end @*/", "condition must be", 0},
		{"loop without spec", loop("transform Unroll(ufactor=U)"), "without a PerfTuning block", 0},
		{"stray end", "/*@ end @*/", "without a matching begin", 1},
		{"tuning twice", tuning(params) + tuning(params), "given twice", 0},
		{"dangling directive", tuning(params) + "/*@ begin Loop(\ntransform Unroll(ufactor=U)\nx = 1;\n) @*/ /*@ end @*/", "followed by a for loop", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.src)
			var ma *MalformedAnnotation
			if !errors.As(err, &ma) {
				t.Fatalf("Parse error = %v, want *MalformedAnnotation", err)
			}
			if tt.want != "" && !strings.Contains(ma.Reason, tt.want) {
				t.Errorf("Reason = %q, want it to contain %q", ma.Reason, tt.want)
			}
			if tt.line != 0 && ma.Line != tt.line {
				t.Errorf("Line = %d, want %d", ma.Line, tt.line)
			}
		})
	}
}

func TestParseHCL(t *testing.T) {
	src := []byte(`
build {
  build_command = "gcc -O3 @CFLAGS"
  libs          = "-lm"
}

performance_counter {
  repetitions = 3
  method      = "reported"
}

performance_params {
  param "U" {
    values = concat([1], range(2, 5))
  }
  param "VEC" {
    values = [False, True]
  }
  constraint "small" {
    condition = U < 4 || !VEC
  }
}

search {
  algorithm  = "Simplex"
  x0         = [1, 0]
  patience   = 3
  time_limit = 30
}

input_params {
  param "N" {
    values = [100, 1000]
  }
}

input_vars {
  decl_file = "inputs.h"
  decl "A" {
    type    = "double"
    dims    = ["N", "N"]
    storage = "dynamic"
    init    = "random"
  }
}
`)
	spec, err := ParseHCL("tune.hcl", src)
	if err != nil {
		t.Fatalf("ParseHCL: %v", err)
	}
	if spec.BuildCommand != "gcc -O3 @CFLAGS" || spec.Libs != "-lm" {
		t.Errorf("build = %q %q", spec.BuildCommand, spec.Libs)
	}
	if spec.Repetitions != 3 || spec.Timing != TimingReported {
		t.Errorf("counter = %d %q", spec.Repetitions, spec.Timing)
	}
	if spec.Search.Algorithm != search.Simplex || spec.Search.Options.Patience != 3 || spec.Search.Options.TimeLimit != 30*time.Second {
		t.Errorf("search = %+v", spec.Search)
	}
	space, err := spec.Space()
	if err != nil {
		t.Fatalf("Space: %v", err)
	}
	if space.Cardinality() != 8 {
		t.Errorf("Cardinality = %d, want 8", space.Cardinality())
	}
	ok, err := spec.Constraints[0].Eval(space.VariantAt([]int{3, 1}).Env())
	if err != nil || ok {
		t.Errorf("constraint at U=4,VEC=true = %v, %v; want false", ok, err)
	}
	if spec.DeclFile != "inputs.h" || len(spec.InputDecls) != 1 || !spec.InputDecls[0].Dynamic {
		t.Errorf("input vars = %q %+v", spec.DeclFile, spec.InputDecls)
	}

	prog, err := ParseWithSpec("/*@ begin Loop(\ntransform Unroll(ufactor=U)\nfor (i=0; i<N; i++) a[i]=0;\n) @*/ /*@ end @*/\n", spec)
	if err != nil {
		t.Fatalf("ParseWithSpec: %v", err)
	}
	if len(prog.Blocks) != 1 {
		t.Errorf("got %d blocks", len(prog.Blocks))
	}
}

func TestParseHCLErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", "build {"},
		{"unknown block", "tuning {}\n"},
		{"empty domain", "performance_params {\n  param \"U\" { values = [] }\n}\n"},
		{"unknown algorithm", "search {\n  algorithm = \"Anneal\"\n}\n"},
		{"bad storage", "input_vars {\n  decl \"A\" {\n    type = \"double\"\n    storage = \"heap\"\n  }\n}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHCL("bad.hcl", []byte(tt.src))
			var ma *MalformedAnnotation
			if !errors.As(err, &ma) {
				t.Fatalf("ParseHCL error = %v, want *MalformedAnnotation", err)
			}
		})
	}
}
