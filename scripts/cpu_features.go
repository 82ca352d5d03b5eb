package main

import (
	"fmt"
	"os"
	"runtime"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/tinycnn/internal/kernel"
)

type output struct {
	GoVersion  string          `json:"go_version"`
	GoOS       string          `json:"go_os"`
	GoArch     string          `json:"go_arch"`
	CPUs       int             `json:"cpus"`
	Workers    int             `json:"workers"`
	Lanes      int             `json:"lanes"`
	Vectorized bool            `json:"vectorized"`
	Features   map[string]bool `json:"features"`
}

func main() {
	f := kernel.CPU
	out := output{
		GoVersion:  runtime.Version(),
		GoOS:       runtime.GOOS,
		GoArch:     f.Arch,
		CPUs:       runtime.NumCPU(),
		Workers:    kernel.PoolSize(),
		Lanes:      kernel.Lanes,
		Vectorized: kernel.Vectorized(),
		Features: map[string]bool{
			"AVX2":    f.AVX2,
			"FMA":     f.FMA,
			"AVX512F": f.AVX512F,
			"ASIMD":   f.ASIMD,
		},
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}
