// Package session runs a tuning session: for each input parameter
// combination it drives the configured search through the transform,
// materialize, build and run stages and records every measurement.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/looptune/looptune/internal/annotation"
	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/driver"
	"github.com/looptune/looptune/internal/loopast"
	"github.com/looptune/looptune/internal/materialize"
	"github.com/looptune/looptune/internal/recorder"
	"github.com/looptune/looptune/internal/search"
	"github.com/looptune/looptune/internal/transform"
	"github.com/looptune/looptune/pkg/config"
	"github.com/looptune/looptune/pkg/hostinfo"
	"github.com/looptune/looptune/pkg/logger"
	"github.com/looptune/looptune/pkg/utils"
)

// Session owns one parsed program and its immutable configuration.
type Session struct {
	ID   string
	Name string // source file name, for reports

	prog     *annotation.Program
	cfg      *config.SessionConfig
	engine   *transform.Engine
	mat      *materialize.Materializer
	drv      *driver.Driver
	reduce   recorder.Reducer
	tieBreak recorder.TieBreak
	logger   *slog.Logger

	// Progress, when set, is called after every recorded measurement. With
	// several workers it may be called concurrently.
	Progress func(instance int, m *recorder.Measurement)
}

// New prepares a session. cfg is cloned; later changes to it have no effect.
func New(prog *annotation.Program, cfg *config.SessionConfig, tc driver.Toolchain) (*Session, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	cfg = cfg.Clone()

	engine := transform.NewEngine()
	mat, err := materialize.New(prog, engine)
	if err != nil {
		return nil, err
	}
	reduce, err := recorder.ParseReducer(cfg.Reducer)
	if err != nil {
		return nil, err
	}
	tb, err := recorder.ParseTieBreak(cfg.TieBreak)
	if err != nil {
		return nil, err
	}
	buildTimeout, _ := cfg.GetBuildTimeout()
	runTimeout, _ := cfg.GetRunTimeout()

	spec := prog.Spec
	reps := spec.Repetitions
	if cfg.RepetitionsOverride > 0 {
		reps = cfg.RepetitionsOverride
	}
	timing := spec.Timing
	if cfg.Timing != "" {
		timing = cfg.Timing
	}

	id := utils.GenerateSessionID()
	l := logger.With("session_id", id)
	engine.SetLogger(l)
	drv := driver.New(tc, driver.Options{
		Repetitions:  reps,
		Timing:       timing,
		BuildTimeout: buildTimeout,
		RunTimeout:   runTimeout,
	})
	drv.SetLogger(l)

	return &Session{
		ID:       id,
		prog:     prog,
		cfg:      cfg,
		engine:   engine,
		mat:      mat,
		drv:      drv,
		reduce:   reduce,
		tieBreak: tb,
		logger:   l,
	}, nil
}

// SetLogger replaces the session logger. Callers that assign their own ID
// should do so first so that it is carried as session_id.
func (s *Session) SetLogger(l *slog.Logger) {
	s.logger = l.With("session_id", s.ID)
	s.engine.SetLogger(s.logger)
	s.drv.SetLogger(s.logger)
}

// Config returns the session configuration.
func (s *Session) Config() *config.SessionConfig { return s.cfg }

// Spec returns the parsed tuning spec.
func (s *Session) Spec() *annotation.TuningSpec { return s.prog.Spec }

// Inputs lists every input parameter combination in declared order. A spec
// without input parameters has exactly one, empty, combination.
func (s *Session) Inputs() ([]loopast.Env, error) {
	space, err := s.prog.Spec.InputSpace()
	if err != nil {
		return nil, err
	}
	if space.Dims() == 0 {
		return []loopast.Env{{}}, nil
	}
	var out []loopast.Env
	enum, err := search.New(search.Exhaustive, space, search.Options{})
	if err != nil {
		return nil, err
	}
	for v, ok := enum.Next(); ok; v, ok = enum.Next() {
		out = append(out, v.Env())
	}
	return out, nil
}

// Space returns the performance parameter space bound to inputs.
func (s *Session) Space(inputs loopast.Env) (*domain.Space, error) {
	space, err := s.prog.Spec.Space()
	if err != nil {
		return nil, err
	}
	return space.WithInputs(inputs), nil
}

// Run tunes every input combination in turn. Cancellation stops the search
// between variants; the report then holds everything measured so far and
// has Cancelled set.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	ctx = logger.WithContext(ctx, s.logger)
	start := time.Now()
	inputs, err := s.Inputs()
	if err != nil {
		return nil, err
	}
	rep := &Report{
		SessionID: s.ID,
		Source:    s.Name,
		Algorithm: s.prog.Spec.Search.Algorithm.String(),
		StartedAt: start,
		Host:      hostinfo.Detect(),
	}
	s.logger.Info("Tuning session started",
		"algorithm", rep.Algorithm,
		"instances", len(inputs),
		"workers", s.cfg.Workers)

	for i, in := range inputs {
		res, skipped, err := s.tune(ctx, i, in)
		if err != nil {
			return nil, err
		}
		rep.Instances = append(rep.Instances, newInstanceReport(in, s.prog.Spec, res, skipped))
		if ctx.Err() != nil {
			rep.Cancelled = true
			break
		}
	}
	rep.Duration = time.Since(start).Round(time.Millisecond).String()
	s.logger.Info("Tuning session finished",
		"instances", len(rep.Instances),
		"cancelled", rep.Cancelled,
		"elapsed_ms", time.Since(start).Milliseconds())
	return rep, nil
}

// prepared is a variant transformed ahead of its build.
type prepared struct {
	seq     int
	variant domain.Variant
	mat     *materialize.Materialized
	err     error
}

// tune runs one search over the space bound to inputs.
func (s *Session) tune(ctx context.Context, instance int, inputs loopast.Env) (*recorder.SearchResult, int, error) {
	spec := s.prog.Spec
	space, err := s.Space(inputs)
	if err != nil {
		return nil, 0, err
	}
	opts := spec.Search.Options
	enum, err := search.New(spec.Search.Algorithm, space, opts)
	if err != nil {
		return nil, 0, err
	}
	limit := opts.TotalRuns
	if m := s.cfg.Budget.MaxEvaluations; m > 0 && (limit <= 0 || m < limit) {
		limit = m
	}
	budget := search.NewBudget(limit, opts.TimeLimit, s.cfg.Budget.ChargeInvalid, s.cfg.Budget.ChargeFailed)
	rec := recorder.New(s.reduce, s.tieBreak)
	rec.SetLogger(s.logger)

	s.logger.Info("Searching",
		"instance", instance,
		"space", space.Describe(),
		"strategy", enum.Name())

	record := func(p prepared, m *recorder.Measurement) {
		rec.Record(m)
		kind := kindOf(m.Status)
		budget.Settle(kind)
		enum.Observe(search.Observation{Variant: p.variant, Kind: kind, Score: m.Aggregate})
		if s.Progress != nil {
			s.Progress(instance, m)
		}
	}

	// Transformation is pure, so the producer materializes ahead of the
	// workers. Adaptive strategies need every observation before proposing
	// the next variant and therefore run strictly one at a time.
	workers := s.cfg.Workers
	if enum.Adaptive() {
		workers = 1
	}
	jobs := make(chan prepared, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				m, err := s.evaluate(ctx, p)
				if err != nil {
					budget.Release()
					continue
				}
				record(p, m)
			}
		}()
	}

	seq := 0
	for {
		if !budget.Reserve(ctx) {
			break
		}
		v, ok := enum.Next()
		if !ok {
			budget.Release()
			break
		}
		seq++
		p := prepared{seq: seq, variant: v}
		p.mat, p.err = s.mat.Materialize(v, inputs)
		if enum.Adaptive() {
			m, err := s.evaluate(ctx, p)
			if err != nil {
				budget.Release()
				break
			}
			record(p, m)
			continue
		}
		select {
		case jobs <- p:
		case <-ctx.Done():
			budget.Release()
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	res := rec.Result()
	s.logger.Info("Search finished",
		"instance", instance,
		"evaluated", len(res.History),
		"succeeded", res.Succeeded(),
		"skipped_infeasible", enum.Skipped())
	return res, enum.Skipped(), nil
}

// evaluate measures one prepared variant. Structurally invalid variants are
// recorded without building. The error is non-nil only on cancellation.
func (s *Session) evaluate(ctx context.Context, p prepared) (*recorder.Measurement, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if p.err != nil {
		var inv *transform.InvalidVariant
		status := recorder.BuildFailed
		if errors.As(p.err, &inv) {
			status = recorder.Invalid
		}
		s.logger.Debug("Variant not built", "seq", p.seq, "variant", p.variant.Key(), "error", p.err)
		return &recorder.Measurement{Seq: p.seq, Variant: p.variant, Status: status, Diagnostics: p.err.Error()}, nil
	}
	return s.drv.Measure(ctx, driver.Job{Seq: p.seq, Variant: p.variant, Materialized: p.mat})
}

func kindOf(st recorder.Status) search.Kind {
	switch st {
	case recorder.Success:
		return search.Succeeded
	case recorder.Invalid:
		return search.Rejected
	}
	return search.Failed
}
