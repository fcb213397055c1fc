package device

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/xla"
	"github.com/klauspost/cpuid/v2"
)

// Info describes the host hardware relevant to training throughput
type Info struct {
	CPUBrand      string
	PhysicalCores int
	LogicalCores  int
	HasAVX2       bool
	HasAVX512     bool
}

// Probe inspects the host CPU
func Probe() Info {
	return Info{
		CPUBrand:      cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  runtime.NumCPU(),
		HasAVX2:       cpuid.CPU.Supports(cpuid.AVX2),
		HasAVX512:     cpuid.CPU.Supports(cpuid.AVX512F),
	}
}

// DefaultWorkers picks the decode worker count for the data loader. Audio
// decoding is CPU bound, so one worker per physical core with a floor of 2.
func (i Info) DefaultWorkers() int {
	workers := i.PhysicalCores
	if workers <= 0 {
		workers = i.LogicalCores
	}
	if workers < 2 {
		workers = 2
	}
	return workers
}

// Log writes the probe result at startup
func (i Info) Log(logger *slog.Logger) {
	logger.Info("Host hardware",
		slog.String("cpu", i.CPUBrand),
		slog.Int("physical_cores", i.PhysicalCores),
		slog.Int("logical_cores", i.LogicalCores),
		slog.Bool("avx2", i.HasAVX2),
		slog.Bool("avx512", i.HasAVX512),
	)
}

// NewBackend creates the compute backend for the configured device string
// (e.g. "xla:cpu", "xla:cuda"). An empty device falls back to the backend
// default, which honors GOMLX_BACKEND. Backend construction panics on
// unavailable accelerators, converted here to an error.
func NewBackend(device string, logger *slog.Logger) (backend backends.Backend, err error) {
	err = exceptions.TryCatch[error](func() {
		if device == "" {
			backend = backends.New()
		} else {
			backend = backends.NewWithConfig(device)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create compute backend %q: %w", device, err)
	}

	logger.Info("Compute backend ready",
		slog.String("name", backend.Name()),
		slog.String("description", backend.Description()),
	)
	return backend, nil
}
