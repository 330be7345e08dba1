package session

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/looptune/looptune/internal/annotation"
	"github.com/looptune/looptune/internal/domain"
	"github.com/looptune/looptune/internal/loopast"
	"github.com/looptune/looptune/internal/recorder"
	"github.com/looptune/looptune/pkg/hostinfo"
)

// Report is the outcome of a session.
type Report struct {
	SessionID string           `yaml:"session_id" json:"session_id"`
	Source    string           `yaml:"source,omitempty" json:"source,omitempty"`
	Algorithm string           `yaml:"algorithm" json:"algorithm"`
	StartedAt time.Time        `yaml:"started_at" json:"started_at"`
	Duration  string           `yaml:"duration" json:"duration"`
	Cancelled bool             `yaml:"cancelled,omitempty" json:"cancelled,omitempty"`
	Host      hostinfo.Info    `yaml:"host" json:"host"`
	Instances []InstanceReport `yaml:"instances" json:"instances"`
}

// Binding is one name = value pair as substituted into builds.
type Binding struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// InstanceReport is the search over one input parameter combination. Best is
// absent when no variant succeeded; Failures counts every other outcome by
// status.
type InstanceReport struct {
	Inputs     []Binding       `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Best       *VariantReport  `yaml:"best,omitempty" json:"best,omitempty"`
	Succeeded  int             `yaml:"succeeded" json:"succeeded"`
	Failures   map[string]int  `yaml:"failures,omitempty" json:"failures,omitempty"`
	Infeasible int             `yaml:"infeasible,omitempty" json:"infeasible,omitempty"`
	History    []VariantReport `yaml:"history" json:"history"`

	Result *recorder.SearchResult `yaml:"-" json:"-"`
}

// VariantReport is one measurement.
type VariantReport struct {
	Seq         int       `yaml:"seq" json:"seq"`
	Params      []Binding `yaml:"params" json:"params"`
	Status      string    `yaml:"status" json:"status"`
	Aggregate   float64   `yaml:"aggregate,omitempty" json:"aggregate,omitempty"`
	StdDev      float64   `yaml:"stddev,omitempty" json:"stddev,omitempty"`
	Samples     []float64 `yaml:"samples,omitempty" json:"samples,omitempty"`
	Throughput  float64   `yaml:"throughput,omitempty" json:"throughput,omitempty"`
	Timeout     bool      `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Diagnostics string    `yaml:"diagnostics,omitempty" json:"diagnostics,omitempty"`
}

func newInstanceReport(inputs loopast.Env, spec *annotation.TuningSpec, res *recorder.SearchResult, infeasible int) InstanceReport {
	ir := InstanceReport{
		Succeeded:  res.Succeeded(),
		Infeasible: infeasible,
		Result:     res,
	}
	for _, p := range spec.InputParams {
		if v, ok := inputs[p.Name]; ok {
			ir.Inputs = append(ir.Inputs, Binding{Name: p.Name, Value: domain.Format(v)})
		}
	}
	for status, n := range res.Counts {
		if status == recorder.Success.String() {
			continue
		}
		if ir.Failures == nil {
			ir.Failures = make(map[string]int)
		}
		ir.Failures[status] = n
	}
	for _, m := range res.History {
		ir.History = append(ir.History, newVariantReport(m))
	}
	if res.Best != nil {
		best := newVariantReport(res.Best)
		ir.Best = &best
	}
	return ir
}

func newVariantReport(m *recorder.Measurement) VariantReport {
	vr := VariantReport{
		Seq:         m.Seq,
		Status:      m.Status.String(),
		Aggregate:   m.Aggregate,
		StdDev:      m.StdDev,
		Samples:     m.Samples,
		Throughput:  m.Throughput,
		Timeout:     m.Timeout,
		Diagnostics: m.Diagnostics,
	}
	for _, a := range m.Variant.Assignments() {
		vr.Params = append(vr.Params, Binding{Name: a.Name, Value: a.Text})
	}
	return vr
}

// Report formats.
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Write encodes the report as YAML or JSON.
func (r *Report) Write(w io.Writer, format string) error {
	switch format {
	case "", FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown report format %q", format)
}

// Best returns the best measurement of the first instance, or nil.
func (r *Report) Best() *VariantReport {
	if len(r.Instances) == 0 {
		return nil
	}
	return r.Instances[0].Best
}
