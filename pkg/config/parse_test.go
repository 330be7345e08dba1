package config

import (
	"testing"
	"time"
)

func TestParseConfigYAMLStringAppliesDefaults(t *testing.T) {
	cfg, err := ParseConfigYAMLString("workers: 4\nreducer: min\n")
	if err != nil {
		t.Fatalf("ParseConfigYAMLString failed: %v", err)
	}
	if cfg.Workers != 4 {
		t.Fatalf("expected 4 workers, got %d", cfg.Workers)
	}
	if cfg.Reducer != "min" {
		t.Fatalf("expected reducer min, got %s", cfg.Reducer)
	}
	if cfg.TieBreak != "first" {
		t.Fatalf("expected default tie_break first, got %s", cfg.TieBreak)
	}
	if !cfg.Budget.ChargeFailed {
		t.Fatalf("expected default charge_failed true")
	}
	bt, err := cfg.GetBuildTimeout()
	if err != nil || bt != 120*time.Second {
		t.Fatalf("expected default build timeout 120s, got %v (%v)", bt, err)
	}
}

func TestParseConfigYAMLInvalid(t *testing.T) {
	if _, err := ParseConfigYAMLString("workers: [1, 2"); err == nil {
		t.Fatalf("expected yaml syntax error")
	}
	if _, err := ParseConfigYAMLString("tie_break: sideways"); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestEmptyTimeoutMeansNone(t *testing.T) {
	cfg, err := ParseConfigYAMLString("build_timeout: \"\"\nrun_timeout: \"\"\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bt, _ := cfg.GetBuildTimeout()
	rt, _ := cfg.GetRunTimeout()
	if bt != 0 || rt != 0 {
		t.Fatalf("expected zero timeouts, got %v and %v", bt, rt)
	}
}

func TestMarshalRoundTripKeepsBudget(t *testing.T) {
	cfg := Default()
	cfg.Budget.ChargeInvalid = true
	text, err := MarshalConfigYAML(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := ParseConfigYAMLString(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !back.Budget.ChargeInvalid {
		t.Fatalf("expected charge_invalid to survive marshal")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	cp := cfg.Clone()
	cp.Workers = 8
	if cfg.Workers != 1 {
		t.Fatalf("clone mutated original")
	}
}
