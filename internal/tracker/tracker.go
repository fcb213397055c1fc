package tracker

import (
	"context"
	"errors"
)

// Run identifies one training run
type Run struct {
	Project string            `json:"project"`
	Entity  string            `json:"entity,omitempty"`
	Name    string            `json:"name"`
	Config  map[string]string `json:"config,omitempty"`
}

// Tracker receives the metric stream of a training run
type Tracker interface {
	// Start opens the run. Must be called before any logging.
	Start(ctx context.Context, run Run) error
	// LogMetrics records scalar metrics at a global step
	LogMetrics(ctx context.Context, step int64, metrics map[string]float64) error
	// LogSummary records final run-level values
	LogSummary(ctx context.Context, summary map[string]float64) error
	// Finish marks the run complete and releases resources
	Finish(ctx context.Context) error
}

// Multi fans metric calls out to several trackers. Errors are joined so one
// failing sink does not silence the others.
type Multi struct {
	trackers []Tracker
}

// NewMulti composes trackers into one
func NewMulti(trackers ...Tracker) *Multi {
	return &Multi{trackers: trackers}
}

func (m *Multi) Start(ctx context.Context, run Run) error {
	var errs []error
	for _, t := range m.trackers {
		errs = append(errs, t.Start(ctx, run))
	}
	return errors.Join(errs...)
}

func (m *Multi) LogMetrics(ctx context.Context, step int64, metrics map[string]float64) error {
	var errs []error
	for _, t := range m.trackers {
		errs = append(errs, t.LogMetrics(ctx, step, metrics))
	}
	return errors.Join(errs...)
}

func (m *Multi) LogSummary(ctx context.Context, summary map[string]float64) error {
	var errs []error
	for _, t := range m.trackers {
		errs = append(errs, t.LogSummary(ctx, summary))
	}
	return errors.Join(errs...)
}

func (m *Multi) Finish(ctx context.Context) error {
	var errs []error
	for _, t := range m.trackers {
		errs = append(errs, t.Finish(ctx))
	}
	return errors.Join(errs...)
}

// Nop is the tracker used when tracking is disabled
type Nop struct{}

func (Nop) Start(context.Context, Run) error { return nil }

func (Nop) LogMetrics(context.Context, int64, map[string]float64) error { return nil }

func (Nop) LogSummary(context.Context, map[string]float64) error { return nil }

func (Nop) Finish(context.Context) error { return nil }
