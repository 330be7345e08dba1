package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/looptune/looptune/internal/driver"
	"github.com/looptune/looptune/internal/recorder"
	"github.com/looptune/looptune/internal/session"
	"github.com/looptune/looptune/pkg/config"
	"github.com/looptune/looptune/pkg/logger"
)

// Exit codes beyond 0 (success) and 1 (error).
const (
	exitUsage     = 2
	exitNoSuccess = 3
	exitMismatch  = 4
)

func runTune(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tune", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var sf sessionFlags
	sf.register(fs)
	format := fs.String("format", "", "report format (yaml, json)")
	output := fs.String("o", "", "write the report to this file instead of stdout")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: looptune tune [flags] <source.c>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}

	cfg, err := sf.config(fs)
	if err != nil {
		fmt.Fprintf(stderr, "looptune: %v\n", err)
		return 1
	}
	if *format != "" {
		cfg.ReportFormat = *format
	}
	if *output != "" {
		cfg.ReportPath = *output
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, cleanup, err := newSession(fs.Arg(0), sf.specPath, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "looptune: %v\n", err)
		return 1
	}
	defer cleanup()
	sess.Progress = func(instance int, m *recorder.Measurement) {
		logger.Debug("Evaluated variant",
			"instance", instance,
			"seq", m.Seq,
			"variant", m.Variant.Key(),
			"status", m.Status.String(),
			"aggregate", m.Aggregate)
	}

	rep, err := sess.Run(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "looptune: %v\n", err)
		return 1
	}
	if err := writeReport(rep, cfg, stdout); err != nil {
		fmt.Fprintf(stderr, "looptune: %v\n", err)
		return 1
	}

	for _, inst := range rep.Instances {
		if inst.Best == nil {
			logger.Warn("No variant succeeded", "inputs", inst.Inputs, "failures", inst.Failures)
			return exitNoSuccess
		}
	}
	if rep.Cancelled {
		return 130
	}
	return 0
}

// newSession parses the program and wires a process toolchain. cleanup
// removes the temporary work directory unless artifacts are kept.
func newSession(path, specPath string, cfg *config.SessionConfig) (*session.Session, func(), error) {
	prog, err := loadProgram(path, specPath)
	if err != nil {
		return nil, nil, err
	}
	tc, err := driver.NewProcessToolchain(cfg.WorkDir, cfg.Shell, cfg.KeepArtifacts)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {}
	if cfg.WorkDir == "" && !cfg.KeepArtifacts {
		cleanup = func() { os.RemoveAll(tc.WorkDir()) }
	}
	sess, err := session.New(prog, cfg, tc)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sess.Name = filepath.Base(path)
	return sess, cleanup, nil
}

func writeReport(rep *session.Report, cfg *config.SessionConfig, stdout io.Writer) error {
	if cfg.ReportPath == "" {
		return rep.Write(stdout, cfg.ReportFormat)
	}
	f, err := os.Create(cfg.ReportPath)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := rep.Write(f, cfg.ReportFormat); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	logger.Info("Report written", "path", cfg.ReportPath)
	return nil
}
