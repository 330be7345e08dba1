package config

import "time"

// SessionConfig is the immutable configuration of one tuning session. It is
// threaded explicitly through every component; nothing reads it from globals.
type SessionConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`     // json or text
	WorkDir       string `yaml:"work_dir"`       // root for per-variant build directories
	KeepArtifacts bool   `yaml:"keep_artifacts"` // keep variant directories after measurement
	Shell         string `yaml:"shell"`          // shell used to run build commands

	BuildTimeout string `yaml:"build_timeout"` // e.g. "60s"
	RunTimeout   string `yaml:"run_timeout"`   // per execution, e.g. "30s"

	Workers int `yaml:"workers"` // parallel build/run drivers for non-adaptive searches

	Reducer  string `yaml:"reducer"`   // mean, median or min
	TieBreak string `yaml:"tie_break"` // first or last
	Timing   string `yaml:"timing"`    // wall or reported; empty defers to the annotation

	Budget Budget `yaml:"budget"`

	// RepetitionsOverride replaces the annotation's repetition count when > 0.
	RepetitionsOverride int `yaml:"repetitions_override,omitempty"`

	ReportFormat string `yaml:"report_format"` // yaml or json
	ReportPath   string `yaml:"report_path,omitempty"`
}

// Budget controls how evaluations are charged against total_runs.
type Budget struct {
	ChargeInvalid bool `yaml:"charge_invalid"`
	ChargeFailed  bool `yaml:"charge_failed"`
	// MaxEvaluations caps the session regardless of the annotation when > 0.
	MaxEvaluations int `yaml:"max_evaluations,omitempty"`
}

// Default returns the configuration used when no file is supplied.
func Default() *SessionConfig {
	return &SessionConfig{
		LogLevel:     "info",
		LogFormat:    "text",
		WorkDir:      "",
		Shell:        "/bin/sh",
		BuildTimeout: "120s",
		RunTimeout:   "60s",
		Workers:      1,
		Reducer:      "mean",
		TieBreak:     "first",
		ReportFormat: "yaml",
		Budget: Budget{
			ChargeInvalid: false,
			ChargeFailed:  true,
		},
	}
}

// GetBuildTimeout parses BuildTimeout; an empty value means no timeout.
func (c *SessionConfig) GetBuildTimeout() (time.Duration, error) {
	return parseOptionalDuration(c.BuildTimeout)
}

// GetRunTimeout parses RunTimeout; an empty value means no timeout.
func (c *SessionConfig) GetRunTimeout() (time.Duration, error) {
	return parseOptionalDuration(c.RunTimeout)
}

// Clone returns a copy so callers can apply overrides without touching a
// configuration that may already be shared with a running session.
func (c *SessionConfig) Clone() *SessionConfig {
	cp := *c
	return &cp
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
