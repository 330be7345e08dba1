package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/looptune/looptune/internal/annotation"
	"github.com/looptune/looptune/pkg/config"
	"github.com/looptune/looptune/pkg/logger"
)

// sessionFlags are the session config overrides shared by tune and
// validate. Only flags given on the command line replace file values.
type sessionFlags struct {
	configPath string
	specPath   string

	logLevel     string
	logFormat    string
	workDir      string
	keep         bool
	shell        string
	buildTimeout string
	runTimeout   string
	workers      int
	reducer      string
	tieBreak     string
	timing       string
	repetitions  int
	maxEvals     int
	chargeFailed bool
	chargeInval  bool
}

func (f *sessionFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "session config file (YAML)")
	fs.StringVar(&f.specPath, "spec", "", "tuning spec file (HCL) replacing the embedded PerfTuning block")
	fs.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "log format (text, json)")
	fs.StringVar(&f.workDir, "work-dir", "", "directory for variant builds (default: a temporary directory)")
	fs.BoolVar(&f.keep, "keep", false, "keep variant build directories")
	fs.StringVar(&f.shell, "shell", "", "shell used to run build commands")
	fs.StringVar(&f.buildTimeout, "build-timeout", "", "build timeout, e.g. 60s")
	fs.StringVar(&f.runTimeout, "run-timeout", "", "per-execution timeout, e.g. 30s")
	fs.IntVar(&f.workers, "workers", 0, "parallel build/run drivers for non-adaptive searches")
	fs.StringVar(&f.reducer, "reducer", "", "sample reducer (mean, median, min)")
	fs.StringVar(&f.tieBreak, "tie-break", "", "equal-time winner (first, last)")
	fs.StringVar(&f.timing, "timing", "", "timing method (wall, reported)")
	fs.IntVar(&f.repetitions, "repetitions", 0, "executions per variant, overriding the annotation")
	fs.IntVar(&f.maxEvals, "max-evals", 0, "cap on evaluated variants")
	fs.BoolVar(&f.chargeFailed, "charge-failed", true, "count failed variants against the budget")
	fs.BoolVar(&f.chargeInval, "charge-invalid", false, "count invalid variants against the budget")
}

// config loads the config file, or defaults, and applies the flags that
// were set explicitly.
func (f *sessionFlags) config(fs *flag.FlagSet) (*config.SessionConfig, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "log-level":
			cfg.LogLevel = f.logLevel
		case "log-format":
			cfg.LogFormat = f.logFormat
		case "work-dir":
			cfg.WorkDir = f.workDir
		case "keep":
			cfg.KeepArtifacts = f.keep
		case "shell":
			cfg.Shell = f.shell
		case "build-timeout":
			cfg.BuildTimeout = f.buildTimeout
		case "run-timeout":
			cfg.RunTimeout = f.runTimeout
		case "workers":
			cfg.Workers = f.workers
		case "reducer":
			cfg.Reducer = f.reducer
		case "tie-break":
			cfg.TieBreak = f.tieBreak
		case "timing":
			cfg.Timing = f.timing
		case "repetitions":
			cfg.RepetitionsOverride = f.repetitions
		case "max-evals":
			cfg.Budget.MaxEvaluations = f.maxEvals
		case "charge-failed":
			cfg.Budget.ChargeFailed = f.chargeFailed
		case "charge-invalid":
			cfg.Budget.ChargeInvalid = f.chargeInval
		}
	})

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setupLogger installs the default logger. Logs go to stderr so that a
// report on stdout stays machine readable.
func setupLogger(cfg *config.SessionConfig) {
	logger.SetDefault(logger.NewWithFormat(cfg.LogFormat, cfg.LogLevel, os.Stderr))
}

// loadProgram reads an annotated source file and, when specPath is set, a
// separate HCL tuning spec.
func loadProgram(path, specPath string) (*annotation.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	var prog *annotation.Program
	if specPath != "" {
		data, err := os.ReadFile(specPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read spec: %w", err)
		}
		spec, err := annotation.ParseHCL(filepath.Base(specPath), data)
		if err != nil {
			return nil, err
		}
		prog, err = annotation.ParseWithSpec(string(src), spec)
		if err != nil {
			return nil, err
		}
	} else {
		prog, err = annotation.Parse(string(src))
		if err != nil {
			return nil, err
		}
	}
	if prog.Spec == nil {
		return nil, fmt.Errorf("%s: no PerfTuning annotation and no -spec file", path)
	}
	return prog, nil
}

// bindings collects repeated NAME=VALUE flags.
type bindings map[string]string

func (b bindings) String() string {
	parts := make([]string, 0, len(b))
	for k, v := range b {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (b bindings) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("expected NAME=VALUE, got %q", s)
	}
	b[name] = strings.TrimSpace(value)
	return nil
}
