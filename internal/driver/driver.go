// Package driver builds materialized variants and times their executions.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/materialize"
	"github.com/looptune/looptune/internal/recorder"
	"github.com/looptune/looptune/pkg/logger"
	"github.com/looptune/looptune/pkg/utils"
)

// Timing methods.
const (
	TimingWall     = "wall"
	TimingReported = "reported"
)

// Options configures a driver. Zero timeouts disable the limit.
type Options struct {
	Repetitions  int
	Timing       string
	BuildTimeout time.Duration
	RunTimeout   time.Duration
	SourceName   string
}

// Driver measures one variant at a time: build once, then run Repetitions
// times back to back.
type Driver struct {
	toolchain Toolchain
	opts      Options
	logger    *slog.Logger
}

// New creates a driver over tc.
func New(tc Toolchain, opts Options) *Driver {
	if opts.Repetitions < 1 {
		opts.Repetitions = 1
	}
	if opts.Timing == "" {
		opts.Timing = TimingWall
	}
	return &Driver{toolchain: tc, opts: opts, logger: logger.Default}
}

// SetLogger sets the logger for the driver.
func (d *Driver) SetLogger(l *slog.Logger) {
	d.logger = l
}

// Job is one variant ready for measurement.
type Job struct {
	Seq          int
	Variant      domain.Variant
	Materialized *materialize.Materialized
}

// Measure builds and runs the job. Build and run failures, including
// timeouts, are reported in the measurement; the error is non-nil only when
// ctx itself was cancelled, in which case nothing should be recorded.
func (d *Driver) Measure(ctx context.Context, job Job) (*recorder.Measurement, error) {
	m := &recorder.Measurement{Seq: job.Seq, Variant: job.Variant}
	start := time.Now()

	art, err := d.build(ctx, job)
	defer d.cleanup(art)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.fail(m, recorder.BuildFailed, err)
		return m, nil
	}

	samples := make([]float64, 0, d.opts.Repetitions)
	var throughput []float64
	for rep := 0; rep < d.opts.Repetitions; rep++ {
		res, err := d.run(ctx, art)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.fail(m, recorder.RunFailed, err)
			return m, nil
		}
		sample, tp, err := d.sample(res)
		if err != nil {
			d.fail(m, recorder.RunFailed, err)
			return m, nil
		}
		samples = append(samples, sample)
		if tp > 0 {
			throughput = append(throughput, tp)
		}
	}
	m.Status = recorder.Success
	m.Samples = samples
	if len(throughput) == len(samples) {
		m.Throughput = utils.Mean(throughput)
	}
	d.logger.Debug("Variant measured",
		"seq", job.Seq,
		"variant", job.Variant.Key(),
		"samples", len(samples),
		"elapsed_ms", time.Since(start).Milliseconds())
	return m, nil
}

// Capture builds the variant and returns the stdout of a single run, for
// comparing a transformed build against its baseline.
func (d *Driver) Capture(ctx context.Context, job Job) (string, error) {
	art, err := d.build(ctx, job)
	defer d.cleanup(art)
	if err != nil {
		return "", err
	}
	res, err := d.run(ctx, art)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

func (d *Driver) build(ctx context.Context, job Job) (*Artifact, error) {
	bctx, cancel := withOptionalTimeout(ctx, d.opts.BuildTimeout)
	defer cancel()
	name := utils.VariantDirName(job.Seq, job.Variant.Key())
	return d.toolchain.Build(bctx, BuildRequest{Name: name, SourceName: d.opts.SourceName, Variant: job.Materialized})
}

func (d *Driver) run(ctx context.Context, art *Artifact) (*RunResult, error) {
	rctx, cancel := withOptionalTimeout(ctx, d.opts.RunTimeout)
	defer cancel()
	return d.toolchain.Run(rctx, art)
}

func (d *Driver) cleanup(art *Artifact) {
	if art == nil {
		return
	}
	if err := d.toolchain.Cleanup(art); err != nil {
		d.logger.Warn("Failed to remove variant directory", "dir", art.Dir, "error", err)
	}
}

func (d *Driver) fail(m *recorder.Measurement, status recorder.Status, err error) {
	m.Status = status
	m.Samples = nil
	m.Timeout = errors.Is(err, ErrTimeout)
	m.Diagnostics = err.Error()
	d.logger.Warn("Variant failed",
		"seq", m.Seq,
		"variant", m.Variant.Key(),
		"status", status.String(),
		"timeout", m.Timeout)
}

var number = regexp.MustCompile(`[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`)

// sample extracts the timing of one run and an optional throughput figure.
// With reported timing the program prints its own time as the first number
// on stdout, optionally followed by a throughput such as MFLOPS.
func (d *Driver) sample(res *RunResult) (float64, float64, error) {
	if d.opts.Timing != TimingReported {
		return res.Elapsed.Seconds(), 0, nil
	}
	nums := number.FindAllString(res.Stdout, 2)
	if len(nums) == 0 {
		return 0, 0, fmt.Errorf("%w: no timing reported on stdout", ErrRunFailed)
	}
	t, err := strconv.ParseFloat(nums[0], 64)
	if err != nil || t < 0 {
		return 0, 0, fmt.Errorf("%w: bad reported timing %q", ErrRunFailed, nums[0])
	}
	var tp float64
	if len(nums) > 1 {
		tp, _ = strconv.ParseFloat(nums[1], 64)
	}
	return t, tp, nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
