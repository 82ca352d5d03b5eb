package kernel

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// Features holds detected CPU capabilities, checked once at init.
type Features struct {
	Arch    string
	AVX2    bool
	FMA     bool
	AVX512F bool
	ASIMD   bool
}

// CPU is the feature set of the running machine.
var CPU = detectFeatures()

func detectFeatures() Features {
	return Features{
		Arch:    runtime.GOARCH,
		AVX2:    cpu.X86.HasAVX2,
		FMA:     cpu.X86.HasFMA,
		AVX512F: cpu.X86.HasAVX512F,
		ASIMD:   cpu.ARM64.HasASIMD,
	}
}

func (f Features) String() string {
	var names []string
	if f.AVX2 {
		names = append(names, "avx2")
	}
	if f.FMA {
		names = append(names, "fma")
	}
	if f.AVX512F {
		names = append(names, "avx512f")
	}
	if f.ASIMD {
		names = append(names, "asimd")
	}
	if len(names) == 0 {
		return f.Arch
	}
	return f.Arch + " (" + strings.Join(names, ", ") + ")"
}
