package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for a training run
type Metrics struct {
	registry *prometheus.Registry

	// Training progress metrics
	StepsTotal       prometheus.Counter
	SamplesTotal     prometheus.Counter
	EpochsCompleted  prometheus.Counter
	CurrentEpoch     prometheus.Gauge
	BatchLoss        prometheus.Gauge
	LearningRate     prometheus.Gauge
	StepDuration     prometheus.Histogram

	// Data loading metrics
	BatchesLoaded  prometheus.Counter
	DecodeFailures prometheus.Counter
	DecodeDuration prometheus.Histogram
	BatchLength    prometheus.Histogram

	// Evaluation metrics
	EvalRuns     prometheus.Counter
	EvalAccuracy prometheus.Gauge
	EvalMacroF1  prometheus.Gauge
	EvalDuration prometheus.Histogram

	// Checkpoint metrics
	CheckpointsSaved   prometheus.Counter
	CheckpointDuration prometheus.Histogram

	// Tracker metrics
	TrackerRequests prometheus.Counter
	TrackerFailures prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics on a private
// registry, so repeated construction in one process stays safe.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		// Training progress metrics
		StepsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "w2vdid_train_steps_total",
			Help: "Total number of optimizer steps taken",
		}),
		SamplesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "w2vdid_train_samples_total",
			Help: "Total number of training examples consumed",
		}),
		EpochsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "w2vdid_train_epochs_completed_total",
			Help: "Total number of completed training epochs",
		}),
		CurrentEpoch: factory.NewGauge(prometheus.GaugeOpts{
			Name: "w2vdid_train_current_epoch",
			Help: "Epoch currently being trained",
		}),
		BatchLoss: factory.NewGauge(prometheus.GaugeOpts{
			Name: "w2vdid_train_batch_loss",
			Help: "Loss of the most recent training batch",
		}),
		LearningRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "w2vdid_train_learning_rate",
			Help: "Learning rate currently applied by the optimizer",
		}),
		StepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "w2vdid_train_step_duration_seconds",
			Help:    "Duration of training steps",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),

		// Data loading metrics
		BatchesLoaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "w2vdid_loader_batches_total",
			Help: "Total number of batches produced by the data loader",
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "w2vdid_loader_decode_failures_total",
			Help: "Total number of corpus files skipped due to decode errors",
		}),
		DecodeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "w2vdid_loader_decode_duration_seconds",
			Help:    "Time spent decoding and preprocessing single files",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
		BatchLength: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "w2vdid_loader_batch_length_samples",
			Help:    "Padded batch length in audio samples",
			Buckets: prometheus.ExponentialBuckets(16000, 2, 8), // 1s to ~2 minutes at 16kHz
		}),

		// Evaluation metrics
		EvalRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "w2vdid_eval_runs_total",
			Help: "Total number of evaluation passes",
		}),
		EvalAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "w2vdid_eval_accuracy",
			Help: "Accuracy of the most recent evaluation pass",
		}),
		EvalMacroF1: factory.NewGauge(prometheus.GaugeOpts{
			Name: "w2vdid_eval_macro_f1",
			Help: "Macro-averaged F1 of the most recent evaluation pass",
		}),
		EvalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "w2vdid_eval_duration_seconds",
			Help:    "Duration of evaluation passes",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),

		// Checkpoint metrics
		CheckpointsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "w2vdid_checkpoints_saved_total",
			Help: "Total number of checkpoints written",
		}),
		CheckpointDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "w2vdid_checkpoint_duration_seconds",
			Help:    "Time spent writing checkpoints",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),

		// Tracker metrics
		TrackerRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "w2vdid_tracker_requests_total",
			Help: "Total number of experiment tracker submissions",
		}),
		TrackerFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "w2vdid_tracker_failures_total",
			Help: "Total number of failed experiment tracker submissions",
		}),
	}
}

// Registry returns the registry backing these metrics
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordStep records one optimizer step
func (m *Metrics) RecordStep(batchSize int, loss float64, durationSeconds float64) {
	m.StepsTotal.Inc()
	m.SamplesTotal.Add(float64(batchSize))
	m.BatchLoss.Set(loss)
	m.StepDuration.Observe(durationSeconds)
}

// RecordEpoch updates the epoch gauges at an epoch boundary
func (m *Metrics) RecordEpoch(epoch int, learningRate float64) {
	m.CurrentEpoch.Set(float64(epoch))
	m.LearningRate.Set(learningRate)
}

// RecordEpochCompleted increments the completed epoch counter
func (m *Metrics) RecordEpochCompleted() {
	m.EpochsCompleted.Inc()
}

// RecordBatchLoaded records a batch produced by the loader
func (m *Metrics) RecordBatchLoaded(lengthSamples int) {
	m.BatchesLoaded.Inc()
	m.BatchLength.Observe(float64(lengthSamples))
}

// RecordDecode records one file decode attempt
func (m *Metrics) RecordDecode(durationSeconds float64, failed bool) {
	m.DecodeDuration.Observe(durationSeconds)
	if failed {
		m.DecodeFailures.Inc()
	}
}

// RecordEval records the result of an evaluation pass
func (m *Metrics) RecordEval(accuracy, macroF1, durationSeconds float64) {
	m.EvalRuns.Inc()
	m.EvalAccuracy.Set(accuracy)
	m.EvalMacroF1.Set(macroF1)
	m.EvalDuration.Observe(durationSeconds)
}

// RecordCheckpoint records a checkpoint write
func (m *Metrics) RecordCheckpoint(durationSeconds float64) {
	m.CheckpointsSaved.Inc()
	m.CheckpointDuration.Observe(durationSeconds)
}

// RecordTrackerRequest records one tracker submission
func (m *Metrics) RecordTrackerRequest(failed bool) {
	m.TrackerRequests.Inc()
	if failed {
		m.TrackerFailures.Inc()
	}
}
