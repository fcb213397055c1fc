package train

import (
	"math"

	"github.com/Synoon/w2v-did/internal/config"
)

// StepLR decays the learning rate by a constant factor at fixed epoch
// intervals: lr(epoch) = base * gamma^floor(epoch/stepSize).
type StepLR struct {
	base     float64
	stepSize int
	gamma    float64
}

// NewStepLR builds the scheduler from config. A zero step size or a gamma
// of 1 keeps the learning rate constant.
func NewStepLR(base float64, cfg config.SchedulerConfig) *StepLR {
	return &StepLR{
		base:     base,
		stepSize: cfg.StepSize,
		gamma:    cfg.Gamma,
	}
}

// At returns the learning rate for a zero-based epoch
func (s *StepLR) At(epoch int) float64 {
	if s.stepSize <= 0 || s.gamma == 1 || s.gamma == 0 {
		return s.base
	}
	return s.base * math.Pow(s.gamma, float64(epoch/s.stepSize))
}
