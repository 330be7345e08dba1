package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/materialize"
	"github.com/looptune/looptune/internal/recorder"
)

// fakeToolchain scripts build and run outcomes per run number.
type fakeToolchain struct {
	mu       sync.Mutex
	buildErr error
	runs     []func() (*RunResult, error)
	ran      int
	cleaned  int
}

func (f *fakeToolchain) Build(ctx context.Context, req BuildRequest) (*Artifact, error) {
	if f.buildErr != nil {
		return &Artifact{Dir: req.Name}, f.buildErr
	}
	return &Artifact{Dir: req.Name}, nil
}

func (f *fakeToolchain) Run(ctx context.Context, art *Artifact) (*RunResult, error) {
	f.mu.Lock()
	i := f.ran
	f.ran++
	f.mu.Unlock()
	if i >= len(f.runs) {
		return &RunResult{Elapsed: time.Second}, nil
	}
	return f.runs[i]()
}

func (f *fakeToolchain) Cleanup(art *Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned++
	return nil
}

func elapsed(d time.Duration) func() (*RunResult, error) {
	return func() (*RunResult, error) { return &RunResult{Elapsed: d}, nil }
}

func testVariant(t *testing.T) domain.Variant {
	t.Helper()
	d, err := domain.NewDomain("U", cty.TupleVal([]cty.Value{cty.NumberIntVal(2)}))
	if err != nil {
		t.Fatalf("NewDomain: %v", err)
	}
	space, err := domain.NewSpace([]domain.Domain{d}, nil)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return space.VariantAt([]int{0})
}

func TestMeasureWallSamples(t *testing.T) {
	tc := &fakeToolchain{runs: []func() (*RunResult, error){
		elapsed(2 * time.Second), elapsed(4 * time.Second), elapsed(3 * time.Second),
	}}
	d := New(tc, Options{Repetitions: 3})
	m, err := d.Measure(context.Background(), Job{Seq: 7, Variant: testVariant(t)})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if m.Status != recorder.Success || m.Seq != 7 {
		t.Fatalf("measurement = %+v", m)
	}
	if fmt.Sprint(m.Samples) != "[2 4 3]" {
		t.Errorf("Samples = %v, want all repetitions kept", m.Samples)
	}
	if tc.cleaned != 1 {
		t.Errorf("cleanup called %d times", tc.cleaned)
	}
}

func TestMeasureRunFailureDiscardsSamples(t *testing.T) {
	tc := &fakeToolchain{runs: []func() (*RunResult, error){
		elapsed(time.Second),
		func() (*RunResult, error) { return nil, fmt.Errorf("%w: exit status 139", ErrRunFailed) },
		elapsed(time.Second),
	}}
	d := New(tc, Options{Repetitions: 3})
	m, err := d.Measure(context.Background(), Job{Seq: 1, Variant: testVariant(t)})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if m.Status != recorder.RunFailed || m.Samples != nil || m.Timeout {
		t.Fatalf("measurement = %+v", m)
	}
	if tc.ran != 2 {
		t.Errorf("ran %d times, want to stop after the failure", tc.ran)
	}
	if !strings.Contains(m.Diagnostics, "139") {
		t.Errorf("Diagnostics = %q", m.Diagnostics)
	}
}

func TestMeasureBuildFailure(t *testing.T) {
	tc := &fakeToolchain{buildErr: fmt.Errorf("%w: %w", ErrBuildFailed, ErrTimeout)}
	d := New(tc, Options{Repetitions: 2})
	m, err := d.Measure(context.Background(), Job{Seq: 1, Variant: testVariant(t)})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if m.Status != recorder.BuildFailed || !m.Timeout {
		t.Fatalf("measurement = %+v", m)
	}
	if tc.ran != 0 {
		t.Errorf("ran %d times after failed build", tc.ran)
	}
}

func TestMeasureReportedTiming(t *testing.T) {
	out := func(s string) func() (*RunResult, error) {
		return func() (*RunResult, error) { return &RunResult{Stdout: s, Elapsed: time.Hour}, nil }
	}
	tc := &fakeToolchain{runs: []func() (*RunResult, error){
		out("0.125\t800.0\n"), out("0.375\t400\n"),
	}}
	d := New(tc, Options{Repetitions: 2, Timing: TimingReported})
	m, err := d.Measure(context.Background(), Job{Seq: 1, Variant: testVariant(t)})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if fmt.Sprint(m.Samples) != "[0.125 0.375]" || m.Throughput != 600 {
		t.Fatalf("measurement = %+v", m)
	}

	tc = &fakeToolchain{runs: []func() (*RunResult, error){out("no numbers here\n")}}
	m, _ = New(tc, Options{Timing: TimingReported}).Measure(context.Background(), Job{Seq: 2, Variant: testVariant(t)})
	if m.Status != recorder.RunFailed {
		t.Errorf("status = %v, want RunFailed when nothing is reported", m.Status)
	}
}

func TestMeasureCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tc := &fakeToolchain{runs: []func() (*RunResult, error){
		func() (*RunResult, error) {
			cancel()
			return nil, fmt.Errorf("%w: killed", ErrRunFailed)
		},
	}}
	m, err := New(tc, Options{}).Measure(ctx, Job{Seq: 1, Variant: testVariant(t)})
	if !errors.Is(err, context.Canceled) || m != nil {
		t.Fatalf("Measure = %+v, %v; want cancellation", m, err)
	}
}

func TestTailBuffer(t *testing.T) {
	b := newTailBuffer(8)
	b.Write([]byte("hello "))
	b.Write([]byte("world"))
	if got := b.String(); got != "...lo world" {
		t.Errorf("tail = %q", got)
	}
	b = newTailBuffer(4)
	b.Write([]byte("abcdefgh"))
	if got := b.String(); got != "...efgh" {
		t.Errorf("tail = %q", got)
	}
}

// scriptVariant "compiles" by copying a shell script to the binary path.
func scriptVariant(script string) *materialize.Materialized {
	return &materialize.Materialized{
		Key:      "U=2",
		Source:   "#!/bin/sh\n" + script,
		Template: "cp @SOURCE@ @BINARY@ && chmod +x @BINARY@",
	}
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process toolchain needs a POSIX shell")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
}

func TestProcessToolchainBuildAndRun(t *testing.T) {
	requireShell(t)
	tc, err := NewProcessToolchain(t.TempDir(), "", false)
	if err != nil {
		t.Fatalf("NewProcessToolchain: %v", err)
	}
	d := New(tc, Options{Repetitions: 2, Timing: TimingReported})
	m, err := d.Measure(context.Background(), Job{Seq: 1, Variant: testVariant(t), Materialized: scriptVariant("echo '0.5\t12'\n")})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if m.Status != recorder.Success || fmt.Sprint(m.Samples) != "[0.5 0.5]" {
		t.Fatalf("measurement = %+v", m)
	}
	entries, _ := os.ReadDir(tc.WorkDir())
	if len(entries) != 0 {
		t.Errorf("variant directories left behind: %d", len(entries))
	}

	out, err := d.Capture(context.Background(), Job{Seq: 2, Variant: testVariant(t), Materialized: scriptVariant("echo result 42\n")})
	if err != nil || out != "result 42\n" {
		t.Errorf("Capture = %q, %v", out, err)
	}
}

func TestProcessToolchainBuildFailure(t *testing.T) {
	requireShell(t)
	tc, err := NewProcessToolchain(t.TempDir(), "/bin/sh", false)
	if err != nil {
		t.Fatalf("NewProcessToolchain: %v", err)
	}
	v := scriptVariant("true\n")
	v.Template = "echo 'variant.c:3: error: expected ;' >&2; false"
	_, err = tc.Build(context.Background(), BuildRequest{Name: "bad", Variant: v})
	if !errors.Is(err, ErrBuildFailed) || errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrBuildFailed", err)
	}
	if !strings.Contains(err.Error(), "expected ;") {
		t.Errorf("diagnostics not captured: %v", err)
	}
}

func TestProcessToolchainRunTimeoutKillsGroup(t *testing.T) {
	requireShell(t)
	tc, err := NewProcessToolchain(t.TempDir(), "", true)
	if err != nil {
		t.Fatalf("NewProcessToolchain: %v", err)
	}
	d := New(tc, Options{RunTimeout: 200 * time.Millisecond})
	start := time.Now()
	m, err := d.Measure(context.Background(), Job{Seq: 1, Variant: testVariant(t), Materialized: scriptVariant("sleep 30 &\nsleep 30\n")})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if m.Status != recorder.RunFailed || !m.Timeout {
		t.Fatalf("measurement = %+v, want timed out run", m)
	}
	if waited := time.Since(start); waited > 10*time.Second {
		t.Errorf("hung variant stalled the driver for %s", waited)
	}
}
