// Package tuned is the tuning daemon: it accepts annotated programs over
// HTTP or gRPC, runs their sessions in the background and keeps the reports.
package tuned

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/looptune/looptune/internal/annotation"
	"github.com/looptune/looptune/internal/driver"
	"github.com/looptune/looptune/internal/recorder"
	"github.com/looptune/looptune/internal/session"
	"github.com/looptune/looptune/pkg/config"
	"github.com/looptune/looptune/pkg/logger"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionTerminal  = errors.New("session is terminal")
	ErrSessionIDMissing = errors.New("session_id is required")
	ErrInvalidInput     = errors.New("invalid session input")
)

// ToolchainFactory builds the toolchain for one session.
type ToolchainFactory func(cfg *config.SessionConfig) (driver.Toolchain, error)

// ProcessToolchains is the default factory: a real compiler toolchain
// under the session's work directory.
func ProcessToolchains(cfg *config.SessionConfig) (driver.Toolchain, error) {
	return driver.NewProcessToolchain(cfg.WorkDir, cfg.Shell, cfg.KeepArtifacts)
}

// Executor manages asynchronous session execution and per-session
// cancellation.
type Executor struct {
	store     *SessionStore
	base      *config.SessionConfig
	toolchain ToolchainFactory
	notifier  *Notifier
	logger    *slog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewExecutor returns an executor whose sessions start from base. A nil base
// uses config.Default.
func NewExecutor(store *SessionStore, base *config.SessionConfig) *Executor {
	if base == nil {
		base = config.Default()
	}
	return &Executor{
		store:     store,
		base:      base.Clone(),
		toolchain: ProcessToolchains,
		notifier:  NewNotifier(),
		logger:    logger.Default,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// SetLogger sets the logger for the executor and the sessions it runs.
func (e *Executor) SetLogger(l *slog.Logger) {
	e.logger = l
	e.notifier.logger = l
}

// SetToolchainFactory replaces how sessions obtain their toolchain.
func (e *Executor) SetToolchainFactory(f ToolchainFactory) {
	e.toolchain = f
}

// SetNotifier replaces the completion notifier.
func (e *Executor) SetNotifier(n *Notifier) {
	e.notifier = n
}

// Store returns the backing session store.
func (e *Executor) Store() *SessionStore { return e.store }

// Create checks that input parses and stores it as a pending session.
func (e *Executor) Create(id string, input SessionInput) (*SessionRecord, error) {
	if _, _, err := e.prepare(input); err != nil {
		return nil, err
	}
	rec, err := e.store.Create(id, input)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Session created", "session_id", rec.ID, "name", input.Name)
	return rec, nil
}

// prepare parses the program and merges the config overlay.
func (e *Executor) prepare(input SessionInput) (*annotation.Program, *config.SessionConfig, error) {
	if input.Source == "" {
		return nil, nil, fmt.Errorf("%w: source is required", ErrInvalidInput)
	}
	cfg := e.base.Clone()
	if input.Config != "" {
		if err := yaml.Unmarshal([]byte(input.Config), cfg); err != nil {
			return nil, nil, fmt.Errorf("%w: config: %w", ErrInvalidInput, err)
		}
		if err := config.Validate(cfg); err != nil {
			return nil, nil, fmt.Errorf("%w: config: %w", ErrInvalidInput, err)
		}
	}

	var prog *annotation.Program
	var err error
	if input.Spec != "" {
		var spec *annotation.TuningSpec
		spec, err = annotation.ParseHCL(input.Name+".hcl", []byte(input.Spec))
		if err == nil {
			prog, err = annotation.ParseWithSpec(input.Source, spec)
		}
	} else {
		prog, err = annotation.Parse(input.Source)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if prog.Spec == nil {
		return nil, nil, fmt.Errorf("%w: no tuning spec", ErrInvalidInput)
	}
	return prog, cfg, nil
}

// Start begins executing a session asynchronously and returns its RUNNING
// state. Starting a running session is a no-op.
func (e *Executor) Start(id string) (*SessionRecord, error) {
	if id == "" {
		return nil, ErrSessionIDMissing
	}

	rec, ok := e.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	switch {
	case rec.Status == StatusRunning:
		return rec, nil
	case rec.Status.Terminal():
		return nil, fmt.Errorf("%w: %s", ErrSessionTerminal, id)
	}

	updated, err := e.store.SetStatus(id, StatusRunning, "")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	if old, exists := e.cancels[id]; exists {
		old()
	}
	e.cancels[id] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.runSession(ctx, updated)
	return updated, nil
}

// Stop cancels a pending or running session. The search stops between
// variants; the partial report is attached once the session winds down.
func (e *Executor) Stop(id string) (*SessionRecord, error) {
	if id == "" {
		return nil, ErrSessionIDMissing
	}
	rec, ok := e.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrSessionTerminal, id)
	}

	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}

	updated, err := e.store.SetStatus(id, StatusCancelled, "")
	if err != nil {
		return nil, err
	}
	e.logger.Info("Session cancelled", "session_id", id)
	return updated, nil
}

// Shutdown cancels every running session and waits for them to finish or for
// ctx to end.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for _, cancel := range e.cancels {
		cancel()
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) cleanup(id string) {
	e.mu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
		delete(e.cancels, id)
	}
	e.mu.Unlock()
}

func (e *Executor) runSession(ctx context.Context, rec *SessionRecord) {
	defer e.wg.Done()
	defer e.cleanup(rec.ID)

	id := rec.ID
	l := e.logger.With("session_id", id)

	fail := func(msg string, err error) {
		l.Error(msg, "error", err)
		final, setErr := e.store.SetStatus(id, StatusFailed, fmt.Sprintf("%s: %v", msg, err))
		if setErr != nil {
			l.Error("Failed to set failed status", "error", setErr)
			return
		}
		e.notify(final)
	}

	prog, cfg, err := e.prepare(rec.Input)
	if err != nil {
		fail("invalid session", err)
		return
	}
	tc, err := e.toolchain(cfg)
	if err != nil {
		fail("toolchain unavailable", err)
		return
	}
	sess, err := session.New(prog, cfg, tc)
	if err != nil {
		fail("invalid session", err)
		return
	}
	sess.ID = id
	sess.Name = rec.Input.Name
	sess.SetLogger(e.logger)
	sess.Progress = func(int, *recorder.Measurement) {
		e.store.Progress(id)
	}

	rep, err := sess.Run(ctx)
	if err != nil {
		fail("session failed", err)
		return
	}
	if err := e.store.SetReport(id, rep); err != nil {
		l.Error("Failed to store report", "error", err)
	}

	status := StatusCompleted
	if rep.Cancelled {
		status = StatusCancelled
	}
	final, err := e.store.SetStatus(id, status, "")
	if err != nil {
		l.Error("Failed to set final status", "error", err)
		return
	}
	l.Info("Session finished", "status", final.Status.String(), "evaluated", final.Evaluated)
	e.notify(final)
}

func (e *Executor) notify(rec *SessionRecord) {
	if e.notifier == nil || rec.Input.CallbackURL == "" {
		return
	}
	if full, ok := e.store.Get(rec.ID); ok {
		rec = full
	}
	e.notifier.Notify(rec)
}
