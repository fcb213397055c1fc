package device

import (
	"testing"
)

func TestProbe(t *testing.T) {
	info := Probe()
	if info.LogicalCores <= 0 {
		t.Errorf("Expected a positive logical core count, got %d", info.LogicalCores)
	}
}

func TestDefaultWorkers(t *testing.T) {
	tests := []struct {
		name   string
		info   Info
		expect int
	}{
		{name: "physical cores", info: Info{PhysicalCores: 8, LogicalCores: 16}, expect: 8},
		{name: "falls back to logical", info: Info{PhysicalCores: 0, LogicalCores: 4}, expect: 4},
		{name: "floor of two", info: Info{PhysicalCores: 1, LogicalCores: 1}, expect: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.DefaultWorkers(); got != tt.expect {
				t.Errorf("Expected %d workers, got %d", tt.expect, got)
			}
		})
	}
}
