package main

import (
	"bytes"
	"flag"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const loopSource = `int main(void) {
  int i;
  double x[8];
  /*@ begin Loop(
  transform Unroll(ufactor=factor)
  for (i=0; i<8; i++)
    x[i] = i;
  ) @*/
  for (i=0; i<8; i++)
    x[i] = i;
  /*@ end @*/
  return 0;
}
`

// scriptSpec "compiles" every variant into a shell script printing its
// output, so the full pipeline runs without a C compiler.
const scriptSpec = `
build {
  build_command = "cat @SOURCE@ >/dev/null && printf '#!/bin/sh\\necho done\\n' > @BINARY@ && chmod +x @BINARY@"
}
performance_params {
  param "factor" {
    values = [1, 2]
  }
}
`

const failingSpec = `
build {
  build_command = "false"
}
performance_params {
  param "factor" {
    values = [1, 2]
  }
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
}

func TestRunDispatch(t *testing.T) {
	tests := []struct {
		args []string
		code int
		out  string
	}{
		{nil, exitUsage, ""},
		{[]string{"version"}, 0, "looptune dev"},
		{[]string{"help"}, 0, "commands:"},
		{[]string{"frobnicate"}, exitUsage, ""},
		{[]string{"tune"}, exitUsage, ""},
		{[]string{"validate", "-set", "novalue", "x.c"}, exitUsage, ""},
	}
	for _, tt := range tests {
		var stdout bytes.Buffer
		code := run(tt.args, &stdout, io.Discard)
		if code != tt.code {
			t.Errorf("run(%v) = %d, want %d", tt.args, code, tt.code)
		}
		if !strings.Contains(stdout.String(), tt.out) {
			t.Errorf("run(%v) stdout = %q, want %q", tt.args, stdout.String(), tt.out)
		}
	}
}

func TestSessionFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "looptune.yaml", "workers: 4\nreducer: median\nrun_timeout: 5s\n")

	fs := flag.NewFlagSet("tune", flag.ContinueOnError)
	var sf sessionFlags
	sf.register(fs)
	if err := fs.Parse([]string{"-config", cfgPath, "-workers", "2", "-max-evals", "7", "-charge-invalid"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := sf.config(fs)
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Workers != 2 {
		t.Errorf("Workers = %d, want flag value 2", cfg.Workers)
	}
	if cfg.Reducer != "median" || cfg.RunTimeout != "5s" {
		t.Errorf("file values lost: %+v", cfg)
	}
	if cfg.Budget.MaxEvaluations != 7 || !cfg.Budget.ChargeInvalid || !cfg.Budget.ChargeFailed {
		t.Errorf("budget = %+v", cfg.Budget)
	}

	fs = flag.NewFlagSet("tune", flag.ContinueOnError)
	sf = sessionFlags{}
	sf.register(fs)
	fs.Parse([]string{"-reducer", "mode"})
	if _, err := sf.config(fs); err == nil {
		t.Errorf("expected invalid reducer to be rejected")
	}
}

func TestBindings(t *testing.T) {
	b := bindings{}
	if err := b.Set("U = 4"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := b.Set("T=2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if b.String() != "T=2,U=4" {
		t.Errorf("String() = %q", b.String())
	}
	if err := b.Set("=3"); err == nil {
		t.Errorf("expected error for missing name")
	}
}

func TestLoadProgramErrors(t *testing.T) {
	dir := t.TempDir()
	plain := writeFile(t, dir, "plain.c", "int main(void) { return 0; }\n")
	if _, err := loadProgram(plain, ""); err == nil || !strings.Contains(err.Error(), "no PerfTuning") {
		t.Errorf("err = %v, want missing spec", err)
	}
	if _, err := loadProgram(filepath.Join(dir, "missing.c"), ""); err == nil {
		t.Errorf("expected read error")
	}
	src := writeFile(t, dir, "loop.c", loopSource)
	if _, err := loadProgram(src, filepath.Join(dir, "missing.hcl")); err == nil {
		t.Errorf("expected spec read error")
	}
}

func TestTuneEndToEnd(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	src := writeFile(t, dir, "loop.c", loopSource)
	spec := writeFile(t, dir, "tune.hcl", scriptSpec)
	report := filepath.Join(dir, "report.yaml")

	var stderr bytes.Buffer
	code := run([]string{"tune", "-spec", spec, "-work-dir", filepath.Join(dir, "work"), "-log-level", "error", "-o", report, src}, io.Discard, &stderr)
	if code != 0 {
		t.Fatalf("tune exit %d: %s", code, stderr.String())
	}

	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var rep struct {
		Source    string `yaml:"source"`
		Instances []struct {
			Best      map[string]any `yaml:"best"`
			Succeeded int            `yaml:"succeeded"`
		} `yaml:"instances"`
	}
	if err := yaml.Unmarshal(data, &rep); err != nil {
		t.Fatalf("report yaml: %v", err)
	}
	if rep.Source != "loop.c" || len(rep.Instances) != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Instances[0].Succeeded != 2 || rep.Instances[0].Best == nil {
		t.Fatalf("instance = %+v", rep.Instances[0])
	}
}

func TestTuneNoSuccess(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	src := writeFile(t, dir, "loop.c", loopSource)
	spec := writeFile(t, dir, "tune.hcl", failingSpec)

	var stdout bytes.Buffer
	code := run([]string{"tune", "-spec", spec, "-log-level", "error", "-format", "json", src}, &stdout, io.Discard)
	if code != exitNoSuccess {
		t.Fatalf("exit = %d, want %d", code, exitNoSuccess)
	}
	if !strings.Contains(stdout.String(), `"BuildFailed": 2`) {
		t.Errorf("report does not count failures: %s", stdout.String())
	}
}

func TestValidateEndToEnd(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	src := writeFile(t, dir, "loop.c", loopSource)
	spec := writeFile(t, dir, "tune.hcl", scriptSpec)

	var stdout bytes.Buffer
	code := run([]string{"validate", "-spec", spec, "-log-level", "error", "-set", "factor=2", src}, &stdout, io.Discard)
	if code != 0 {
		t.Fatalf("validate exit %d: %s", code, stdout.String())
	}
	if !strings.Contains(stdout.String(), "factor=2: output matches") {
		t.Errorf("stdout = %q", stdout.String())
	}

	code = run([]string{"validate", "-spec", spec, "-log-level", "error", "-set", "factor=3", src}, io.Discard, io.Discard)
	if code != 1 {
		t.Errorf("unknown value: exit %d, want 1", code)
	}
}
