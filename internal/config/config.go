package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete training pipeline configuration
type Config struct {
	Data      DataConfig      `yaml:"data"`
	Audio     AudioConfig     `yaml:"audio"`
	Model     ModelConfig     `yaml:"model"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Training  TrainingConfig  `yaml:"training"`
	Tracker   TrackerConfig   `yaml:"tracker"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DataConfig describes the corpus layout and batching parameters
type DataConfig struct {
	TrainDir        string `yaml:"train_dir"`
	EvalDir         string `yaml:"eval_dir"`
	MetadataFile    string `yaml:"metadata_file"`     // per-split manifest, default "metadata.csv"
	LabelsFile      string `yaml:"labels_file"`       // label index table, default "labels.csv"
	BatchSize       int    `yaml:"batch_size"`
	Shuffle         bool   `yaml:"shuffle"`
	MaxTrainSamples int    `yaml:"max_train_samples"` // 0 = unlimited
	MaxEvalSamples  int    `yaml:"max_eval_samples"`  // 0 = unlimited
	PerClassCap     int    `yaml:"per_class_cap"`     // directory-scan mode only, 0 = unlimited
	Workers         int    `yaml:"workers"`           // 0 = derive from CPU topology
}

// AudioConfig contains audio preprocessing parameters
type AudioConfig struct {
	SampleRate    int     `yaml:"sample_rate"`     // target rate, Hz
	WindowLength  float64 `yaml:"window_length"`   // seconds of audio fed to the encoder
	PadToMultiple int     `yaml:"pad_to_multiple"` // samples, 0 = pad to longest only
	Normalize     bool    `yaml:"normalize"`       // zero-mean/unit-variance per sample
}

// ModelConfig contains encoder/classifier and checkpointing parameters
type ModelConfig struct {
	PretrainedDir   string  `yaml:"pretrained_dir"` // checkpoint dir with encoder weights
	OutputDir       string  `yaml:"output_dir"`
	OverwriteOutput bool    `yaml:"overwrite_output"`
	Resume          bool    `yaml:"resume"`
	FreezeEncoder   bool    `yaml:"freeze_encoder"`
	HiddenSize      int     `yaml:"hidden_size"`
	Dropout         float64 `yaml:"dropout"`
}

// OptimizerConfig selects the optimizer and its hyperparameters
type OptimizerConfig struct {
	Name         string  `yaml:"name"` // only "adam" is supported
	LearningRate float64 `yaml:"learning_rate"`
	WeightDecay  float64 `yaml:"weight_decay"`
}

// SchedulerConfig contains StepLR learning-rate decay parameters
type SchedulerConfig struct {
	StepSize int     `yaml:"step_size"` // epochs between decays, 0 disables decay
	Gamma    float64 `yaml:"gamma"`     // multiplicative decay factor
}

// TrainingConfig contains the outer loop parameters
type TrainingConfig struct {
	Epochs       int    `yaml:"epochs"`
	LogInterval  int    `yaml:"log_interval"`  // batches between loss log lines
	SaveInterval int    `yaml:"save_interval"` // epochs between eval+checkpoint
	Seed         int64  `yaml:"seed"`
	Device       string `yaml:"device"`   // gomlx backend config, e.g. "xla:cpu"
	Progress     bool   `yaml:"progress"` // render a per-epoch progress bar
}

// TrackerConfig contains experiment tracker configuration
type TrackerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint" env:"W2VDID_TRACKER_ENDPOINT"`
	APIKey        string `yaml:"api_key" env:"W2VDID_TRACKER_API_KEY"`
	Project       string `yaml:"project"`
	Entity        string `yaml:"entity"`
	RunName       string `yaml:"run_name"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	StorePath     string `yaml:"store_path"` // sqlite run store, "" disables
}

// MetricsConfig contains the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads, parses and validates the configuration file. Environment
// variables override tracker secrets after the file is parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	config.applyDefaults()

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := env.Parse(&config.Tracker); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyDefaults fills in values that are optional in the YAML file
func (c *Config) applyDefaults() {
	c.Data.MetadataFile = "metadata.csv"
	c.Data.LabelsFile = "labels.csv"
	c.Data.Shuffle = true
	c.Audio.SampleRate = 16000
	c.Audio.Normalize = true
	c.Model.HiddenSize = 256
	c.Model.Dropout = 0.1
	c.Optimizer.Name = "adam"
	c.Scheduler.Gamma = 1.0
	c.Training.LogInterval = 10
	c.Training.SaveInterval = 1
	c.Training.Device = "xla:cpu"
	c.Tracker.Timeout = 30
	c.Tracker.MaxRetries = 3
	c.Tracker.MaxConcurrent = 4
	c.Logging.Level = "info"
	c.Logging.Format = "text"
	c.Logging.Output = "stdout"
}

// Validate checks the complete configuration for consistency
func (c *Config) Validate() error {
	if err := c.Data.Validate(); err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if err := c.Optimizer.Validate(); err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Training.Validate(); err != nil {
		return fmt.Errorf("training: %w", err)
	}
	if err := c.Tracker.Validate(); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Validate checks data configuration
func (d *DataConfig) Validate() error {
	if d.TrainDir == "" && d.EvalDir == "" {
		return fmt.Errorf("at least one of train_dir or eval_dir must be set")
	}
	if d.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", d.BatchSize)
	}
	if d.MaxTrainSamples < 0 {
		return fmt.Errorf("max_train_samples cannot be negative, got %d", d.MaxTrainSamples)
	}
	if d.MaxEvalSamples < 0 {
		return fmt.Errorf("max_eval_samples cannot be negative, got %d", d.MaxEvalSamples)
	}
	if d.PerClassCap < 0 {
		return fmt.Errorf("per_class_cap cannot be negative, got %d", d.PerClassCap)
	}
	if d.Workers < 0 {
		return fmt.Errorf("workers cannot be negative, got %d", d.Workers)
	}
	if d.MetadataFile == "" {
		return fmt.Errorf("metadata_file cannot be empty")
	}
	if d.LabelsFile == "" {
		return fmt.Errorf("labels_file cannot be empty")
	}
	return nil
}

// Validate checks audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}
	if a.WindowLength <= 0 {
		return fmt.Errorf("window_length must be positive, got %f", a.WindowLength)
	}
	if a.PadToMultiple < 0 {
		return fmt.Errorf("pad_to_multiple cannot be negative, got %d", a.PadToMultiple)
	}
	return nil
}

// Validate checks model configuration
func (m *ModelConfig) Validate() error {
	if m.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty")
	}
	if m.HiddenSize <= 0 {
		return fmt.Errorf("hidden_size must be positive, got %d", m.HiddenSize)
	}
	if m.Dropout < 0 || m.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0, 1), got %f", m.Dropout)
	}
	return nil
}

// Validate checks optimizer configuration
func (o *OptimizerConfig) Validate() error {
	if o.Name != "adam" {
		return fmt.Errorf("unsupported optimizer %q (only \"adam\" is supported)", o.Name)
	}
	if o.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %g", o.LearningRate)
	}
	if o.WeightDecay < 0 {
		return fmt.Errorf("weight_decay cannot be negative, got %g", o.WeightDecay)
	}
	return nil
}

// Validate checks scheduler configuration
func (s *SchedulerConfig) Validate() error {
	if s.StepSize < 0 {
		return fmt.Errorf("step_size cannot be negative, got %d", s.StepSize)
	}
	if s.Gamma <= 0 || s.Gamma > 1 {
		return fmt.Errorf("gamma must be in (0, 1], got %f", s.Gamma)
	}
	return nil
}

// Validate checks training configuration
func (t *TrainingConfig) Validate() error {
	if t.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", t.Epochs)
	}
	if t.LogInterval <= 0 {
		return fmt.Errorf("log_interval must be positive, got %d", t.LogInterval)
	}
	if t.SaveInterval <= 0 {
		return fmt.Errorf("save_interval must be positive, got %d", t.SaveInterval)
	}
	if t.Device == "" {
		return fmt.Errorf("device cannot be empty")
	}
	return nil
}

// Validate checks tracker configuration
func (t *TrackerConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.Endpoint == "" && t.StorePath == "" {
		return fmt.Errorf("tracker enabled but neither endpoint nor store_path is set")
	}
	if t.Endpoint != "" && t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty when endpoint is set")
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", t.Timeout)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}
	if t.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", t.MaxConcurrent)
	}
	return nil
}

// Validate checks metrics configuration
func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", m.Port)
	}
	return nil
}

// Validate checks logging configuration
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", l.Level)
	}
	switch l.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", l.Format)
	}
	return nil
}

// WindowSamples returns the encoder input window in samples
func (a *AudioConfig) WindowSamples() int {
	return int(a.WindowLength * float64(a.SampleRate))
}

// GetTimeoutDuration returns the tracker request timeout as a time.Duration
func (t *TrackerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
