package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Data: DataConfig{
			TrainDir:     "./data/train",
			EvalDir:      "./data/eval",
			MetadataFile: "metadata.csv",
			LabelsFile:   "labels.csv",
			BatchSize:    8,
			Shuffle:      true,
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			WindowLength:  10.0,
			PadToMultiple: 160000,
			Normalize:     true,
		},
		Model: ModelConfig{
			PretrainedDir: "./models/xlsr",
			OutputDir:     "./runs/did",
			FreezeEncoder: true,
			HiddenSize:    256,
			Dropout:       0.1,
		},
		Optimizer: OptimizerConfig{
			Name:         "adam",
			LearningRate: 1e-4,
			WeightDecay:  1e-5,
		},
		Scheduler: SchedulerConfig{
			StepSize: 5,
			Gamma:    0.5,
		},
		Training: TrainingConfig{
			Epochs:       20,
			LogInterval:  10,
			SaveInterval: 2,
			Seed:         4,
			Device:       "xla:cpu",
		},
		Tracker: TrackerConfig{
			Enabled:       true,
			Endpoint:      "https://tracker.example.com/api/runs",
			APIKey:        "test-key",
			Project:       "w2v_did",
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    9100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "missing both data dirs",
			mutate:      func(c *Config) { c.Data.TrainDir = ""; c.Data.EvalDir = "" },
			expectError: true,
			errorMsg:    "train_dir or eval_dir",
		},
		{
			name:        "zero batch size",
			mutate:      func(c *Config) { c.Data.BatchSize = 0 },
			expectError: true,
			errorMsg:    "batch_size must be positive",
		},
		{
			name:        "negative sample cap",
			mutate:      func(c *Config) { c.Data.MaxTrainSamples = -1 },
			expectError: true,
			errorMsg:    "max_train_samples",
		},
		{
			name:        "zero window length",
			mutate:      func(c *Config) { c.Audio.WindowLength = 0 },
			expectError: true,
			errorMsg:    "window_length must be positive",
		},
		{
			name:        "unsupported optimizer",
			mutate:      func(c *Config) { c.Optimizer.Name = "sgd" },
			expectError: true,
			errorMsg:    "unsupported optimizer",
		},
		{
			name:        "gamma above one",
			mutate:      func(c *Config) { c.Scheduler.Gamma = 1.5 },
			expectError: true,
			errorMsg:    "gamma must be in (0, 1]",
		},
		{
			name:        "zero epochs",
			mutate:      func(c *Config) { c.Training.Epochs = 0 },
			expectError: true,
			errorMsg:    "epochs must be positive",
		},
		{
			name:        "dropout out of range",
			mutate:      func(c *Config) { c.Model.Dropout = 1.0 },
			expectError: true,
			errorMsg:    "dropout must be in [0, 1)",
		},
		{
			name:        "tracker without endpoint or store",
			mutate:      func(c *Config) { c.Tracker.Endpoint = ""; c.Tracker.StorePath = "" },
			expectError: true,
			errorMsg:    "neither endpoint nor store_path",
		},
		{
			name:        "tracker endpoint without api key",
			mutate:      func(c *Config) { c.Tracker.APIKey = "" },
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
		{
			name:        "tracker disabled skips checks",
			mutate:      func(c *Config) { c.Tracker = TrackerConfig{Enabled: false} },
			expectError: false,
		},
		{
			name:        "invalid metrics port",
			mutate:      func(c *Config) { c.Metrics.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain %q, got %q", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
data:
  train_dir: "./data/train"
  eval_dir: "./data/eval"
  batch_size: 8
audio:
  sample_rate: 16000
  window_length: 10.0
  pad_to_multiple: 160000
model:
  pretrained_dir: "./models/xlsr"
  output_dir: "./runs/did"
  freeze_encoder: true
  hidden_size: 256
  dropout: 0.1
optimizer:
  name: "adam"
  learning_rate: 0.0001
  weight_decay: 0.00001
scheduler:
  step_size: 5
  gamma: 0.5
training:
  epochs: 20
  log_interval: 10
  save_interval: 2
  seed: 4
  device: "xla:cpu"
logging:
  level: "info"
  format: "json"
  output: "stdout"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
data:
  batch_size: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "semantic error surfaces section",
			configYAML: `
data:
  train_dir: "./data/train"
  batch_size: 8
audio:
  window_length: -1
model:
  output_dir: "./runs/did"
  hidden_size: 256
optimizer:
  learning_rate: 0.0001
training:
  epochs: 5
`,
			expectError: true,
			errorMsg:    "audio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain %q, got %q", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")
	minimal := `
data:
  train_dir: "./data/train"
  batch_size: 4
audio:
  window_length: 5.0
model:
  output_dir: "./runs/did"
  hidden_size: 128
optimizer:
  learning_rate: 0.001
training:
  epochs: 3
`
	if err := os.WriteFile(configPath, []byte(minimal), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Expected default sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Data.MetadataFile != "metadata.csv" {
		t.Errorf("Expected default metadata file, got %q", cfg.Data.MetadataFile)
	}
	if cfg.Optimizer.Name != "adam" {
		t.Errorf("Expected default optimizer adam, got %q", cfg.Optimizer.Name)
	}
	if cfg.Training.Device != "xla:cpu" {
		t.Errorf("Expected default device xla:cpu, got %q", cfg.Training.Device)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestTrackerEnvOverride(t *testing.T) {
	t.Setenv("W2VDID_TRACKER_API_KEY", "env-secret")

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")
	yamlWithTracker := `
data:
  train_dir: "./data/train"
  batch_size: 4
audio:
  window_length: 5.0
model:
  output_dir: "./runs/did"
  hidden_size: 128
optimizer:
  learning_rate: 0.001
training:
  epochs: 3
tracker:
  enabled: true
  endpoint: "https://tracker.example.com/api/runs"
  api_key: "file-secret"
  project: "w2v_did"
`
	if err := os.WriteFile(configPath, []byte(yamlWithTracker), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tracker.APIKey != "env-secret" {
		t.Errorf("Expected environment to override api_key, got %q", cfg.Tracker.APIKey)
	}
}

func TestHelpers(t *testing.T) {
	audio := AudioConfig{SampleRate: 16000, WindowLength: 10.0}
	if audio.WindowSamples() != 160000 {
		t.Errorf("Expected 160000 window samples, got %d", audio.WindowSamples())
	}

	tracker := TrackerConfig{Timeout: 30}
	if tracker.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", tracker.GetTimeoutDuration())
	}
}
