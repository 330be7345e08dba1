package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/looptune/looptune/internal/materialize"
	"github.com/looptune/looptune/pkg/logger"
)

// Sentinel errors returned by toolchains. A timeout wraps both the stage
// error and ErrTimeout.
var (
	ErrBuildFailed = errors.New("build failed")
	ErrRunFailed   = errors.New("run failed")
	ErrTimeout     = errors.New("timed out")
)

// BuildRequest asks a toolchain to build one materialized variant.
type BuildRequest struct {
	// Name is a filesystem-safe name unique within the session.
	Name       string
	SourceName string
	Variant    *materialize.Materialized
}

// Artifact is a built variant.
type Artifact struct {
	Dir     string
	Source  string
	Binary  string
	Command string
	Output  string // build diagnostics, tail only
}

// RunResult is one execution of an artifact.
type RunResult struct {
	Stdout  string
	Elapsed time.Duration
}

// Toolchain builds and runs variants. Implementations must honour context
// cancellation and deadlines; errors wrap ErrBuildFailed, ErrRunFailed and
// ErrTimeout.
type Toolchain interface {
	Build(ctx context.Context, req BuildRequest) (*Artifact, error)
	Run(ctx context.Context, art *Artifact) (*RunResult, error)
	Cleanup(art *Artifact) error
}

// DefaultSourceName is used when a request does not name its source file.
const DefaultSourceName = "variant.c"

const (
	binaryName      = "variant"
	diagnosticLimit = 4 << 10
	stdoutLimit     = 1 << 20
	waitDelay       = 2 * time.Second
)

// ProcessToolchain runs build commands through a shell in per-variant work
// directories and executes binaries in their own process group, so a
// timeout kills everything the variant spawned.
type ProcessToolchain struct {
	workDir string
	shell   string
	keep    bool
	logger  *slog.Logger
}

// NewProcessToolchain creates the work directory root; an empty workDir
// selects a fresh temporary directory.
func NewProcessToolchain(workDir, shell string, keep bool) (*ProcessToolchain, error) {
	if workDir == "" {
		dir, err := os.MkdirTemp("", "looptune-")
		if err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
		workDir = dir
	} else if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work directory %s: %w", workDir, err)
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	return &ProcessToolchain{workDir: workDir, shell: shell, keep: keep, logger: logger.Default}, nil
}

// SetLogger sets the logger for the toolchain.
func (p *ProcessToolchain) SetLogger(l *slog.Logger) {
	p.logger = l
}

// WorkDir returns the root of the variant directories.
func (p *ProcessToolchain) WorkDir() string { return p.workDir }

func (p *ProcessToolchain) Build(ctx context.Context, req BuildRequest) (*Artifact, error) {
	if req.Variant == nil {
		return nil, fmt.Errorf("%w: no materialized variant", ErrBuildFailed)
	}
	dir := filepath.Join(p.workDir, req.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	srcName := req.SourceName
	if srcName == "" {
		srcName = DefaultSourceName
	}
	art := &Artifact{
		Dir:    dir,
		Source: filepath.Join(dir, srcName),
		Binary: filepath.Join(dir, binaryName),
	}
	if err := os.WriteFile(art.Source, []byte(req.Variant.Source), 0o644); err != nil {
		return art, fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
	for name, content := range req.Variant.Files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return art, fmt.Errorf("%w: %w", ErrBuildFailed, err)
		}
	}
	art.Command = req.Variant.BuildCommand(art.Source, art.Binary)

	cmd := exec.CommandContext(ctx, p.shell, "-c", art.Command)
	cmd.Dir = dir
	inProcessGroup(cmd)
	out := newTailBuffer(diagnosticLimit)
	cmd.Stdout = out
	cmd.Stderr = out

	p.logger.Debug("Building variant", "dir", dir, "command", art.Command)
	err := cmd.Run()
	art.Output = out.String()
	if err != nil {
		if timedOut(ctx) {
			return art, fmt.Errorf("%w: %w after %s", ErrBuildFailed, ErrTimeout, art.Command)
		}
		return art, fmt.Errorf("%w: %v: %s", ErrBuildFailed, err, art.Output)
	}
	if _, err := os.Stat(art.Binary); err != nil {
		return art, fmt.Errorf("%w: build produced no binary: %s", ErrBuildFailed, art.Output)
	}
	return art, nil
}

func (p *ProcessToolchain) Run(ctx context.Context, art *Artifact) (*RunResult, error) {
	cmd := exec.CommandContext(ctx, art.Binary)
	cmd.Dir = art.Dir
	inProcessGroup(cmd)
	stdout := newTailBuffer(stdoutLimit)
	stderr := newTailBuffer(diagnosticLimit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)
	if err != nil {
		if timedOut(ctx) {
			return nil, fmt.Errorf("%w: %w after %s", ErrRunFailed, ErrTimeout, elapsed.Round(time.Millisecond))
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrRunFailed, err, stderr.String())
	}
	return &RunResult{Stdout: stdout.String(), Elapsed: elapsed}, nil
}

// Cleanup removes the artifact directory unless artifacts are kept.
func (p *ProcessToolchain) Cleanup(art *Artifact) error {
	if p.keep || art == nil || art.Dir == "" {
		return nil
	}
	return os.RemoveAll(art.Dir)
}

func timedOut(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newTailBuffer(limit int) *tailBuffer { return &tailBuffer{limit: limit} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= t.limit {
		t.buf.Reset()
		t.buf.Write(p[len(p)-t.limit:])
		t.truncated = true
		return n, nil
	}
	if over := t.buf.Len() + len(p) - t.limit; over > 0 {
		t.buf.Next(over)
		t.truncated = true
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	if t.truncated {
		return "..." + t.buf.String()
	}
	return t.buf.String()
}
