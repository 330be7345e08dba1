// Package hostinfo captures the machine facts a tuning report needs to be
// interpreted later: timings are only comparable on the same hardware.
package hostinfo

import (
	"os"
	"runtime"
	"sort"

	"golang.org/x/sys/cpu"
)

// Info describes the host a session ran on.
type Info struct {
	Hostname string   `yaml:"hostname" json:"hostname"`
	OS       string   `yaml:"os" json:"os"`
	Arch     string   `yaml:"arch" json:"arch"`
	NumCPU   int      `yaml:"num_cpu" json:"num_cpu"`
	Features []string `yaml:"cpu_features,omitempty" json:"cpu_features,omitempty"`
}

// Detect snapshots the current host.
func Detect() Info {
	host, _ := os.Hostname()
	return Info{
		Hostname: host,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		NumCPU:   runtime.NumCPU(),
		Features: Features(),
	}
}

// Features lists the vector-relevant instruction set extensions reported by
// golang.org/x/sys/cpu, sorted by name.
func Features() []string {
	flags := map[string]bool{
		"sse41":    cpu.X86.HasSSE41,
		"sse42":    cpu.X86.HasSSE42,
		"avx":      cpu.X86.HasAVX,
		"avx2":     cpu.X86.HasAVX2,
		"fma":      cpu.X86.HasFMA,
		"avx512f":  cpu.X86.HasAVX512F,
		"avx512bw": cpu.X86.HasAVX512BW,
		"avx512dq": cpu.X86.HasAVX512DQ,
		"avx512vl": cpu.X86.HasAVX512VL,
		"asimd":    cpu.ARM64.HasASIMD,
		"sve":      cpu.ARM64.HasSVE,
		"fphp":     cpu.ARM64.HasFPHP,
	}

	out := make([]string, 0, len(flags))
	for name, ok := range flags {
		if ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
