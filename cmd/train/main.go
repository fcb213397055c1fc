package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/janpfeifer/must"
	"github.com/joho/godotenv"

	"github.com/Synoon/w2v-did/internal/audio"
	"github.com/Synoon/w2v-did/internal/collate"
	"github.com/Synoon/w2v-did/internal/config"
	"github.com/Synoon/w2v-did/internal/corpus"
	"github.com/Synoon/w2v-did/internal/device"
	"github.com/Synoon/w2v-did/internal/loader"
	"github.com/Synoon/w2v-did/internal/metrics"
	"github.com/Synoon/w2v-did/internal/model"
	"github.com/Synoon/w2v-did/internal/tracker"
	"github.com/Synoon/w2v-did/internal/train"
)

const (
	defaultConfigPath = "configs/train.yaml"
	serviceName       = "w2v-did"
	serviceVersion    = "1.0.0"
)

func main() {
	// Tracker secrets may live in a local .env
	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	epochs := flag.Int("epochs", 0, "Override the configured epoch count")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *epochs > 0 {
		cfg.Training.Epochs = *epochs
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Trainer starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)
	logger.Info("Configuration loaded",
		slog.String("train_dir", cfg.Data.TrainDir),
		slog.String("eval_dir", cfg.Data.EvalDir),
		slog.Int("batch_size", cfg.Data.BatchSize),
		slog.Int("epochs", cfg.Training.Epochs),
		slog.Float64("learning_rate", cfg.Optimizer.LearningRate),
		slog.String("device", cfg.Training.Device),
		slog.String("output_dir", cfg.Model.OutputDir),
	)

	// Cancelled on SIGINT/SIGTERM so the loop can checkpoint and exit
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hw := device.Probe()
	hw.Log(logger)

	backend, err := device.NewBackend(cfg.Training.Device, logger)
	if err != nil {
		logger.Error("Failed to create compute backend", slog.String("error", err.Error()))
		os.Exit(1)
	}

	runner, appMetrics, err := buildRunner(ctx, cfg, backend, hw, logger)
	if err != nil {
		logger.Error("Failed to set up training", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var monitor *metrics.Server
	if cfg.Metrics.Enabled {
		monitor = metrics.NewServer(cfg.Metrics, logger, appMetrics, func() any {
			return runner.Status()
		})
		if err := monitor.Start(); err != nil {
			logger.Error("Failed to start monitoring server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Graph compilation and execution report failures as panics
	trainErr := exceptions.TryCatch[error](func() {
		must.M(runner.Train(ctx))
	})

	if monitor != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := monitor.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping monitoring server", slog.String("error", err.Error()))
		}
	}

	if trainErr != nil {
		if ctx.Err() != nil {
			logger.Warn("Training stopped by signal")
			return
		}
		logger.Error("Training failed", slog.String("error", trainErr.Error()))
		os.Exit(1)
	}

	logger.Info("Trainer stopped")
}

// buildRunner assembles the corpus, loaders, model and tracker
func buildRunner(ctx context.Context, cfg *config.Config, backend backends.Backend,
	hw device.Info, logger *slog.Logger) (*train.Runner, *metrics.Metrics, error) {

	labels, err := corpus.LoadLabels(resolvePath(cfg.Data.TrainDir, cfg.Data.LabelsFile))
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Label table loaded", slog.Int("classes", labels.NumClasses()))

	trainManifest, err := corpus.Load(cfg.Data.TrainDir, cfg.Data.MetadataFile, labels,
		cfg.Data.PerClassCap, cfg.Training.Seed)
	if err != nil {
		return nil, nil, err
	}
	trainManifest.Truncate(cfg.Data.MaxTrainSamples)
	logger.Info("Training corpus loaded",
		slog.Int("examples", trainManifest.Len()),
		slog.Any("class_counts", trainManifest.ClassCounts(labels.NumClasses())),
	)

	appMetrics := metrics.NewMetrics()

	pipeline := audio.NewPipeline(cfg.Audio)
	collator := &collate.Collator{
		MaxLength:     cfg.Audio.WindowSamples(),
		PadToMultiple: cfg.Audio.PadToMultiple,
		NumClasses:    labels.NumClasses(),
	}

	workers := cfg.Data.Workers
	if workers <= 0 {
		workers = hw.DefaultWorkers()
	}

	trainLoader, err := loader.New(trainManifest, pipeline, collator, loader.Options{
		Name:      "train",
		BatchSize: cfg.Data.BatchSize,
		Workers:   workers,
		Shuffle:   cfg.Data.Shuffle,
		Seed:      cfg.Training.Seed,
		Metrics:   appMetrics,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	var evalLoader *loader.Loader
	if cfg.Data.EvalDir != "" {
		evalManifest, err := corpus.Load(cfg.Data.EvalDir, cfg.Data.MetadataFile, labels,
			cfg.Data.PerClassCap, cfg.Training.Seed)
		if err != nil {
			return nil, nil, err
		}
		evalManifest.Truncate(cfg.Data.MaxEvalSamples)
		logger.Info("Evaluation corpus loaded", slog.Int("examples", evalManifest.Len()))

		evalLoader, err = loader.New(evalManifest, pipeline, collator, loader.Options{
			Name:      "eval",
			BatchSize: cfg.Data.BatchSize,
			Workers:   workers,
			Metrics:   appMetrics,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := model.PrepareOutputDir(cfg.Model); err != nil {
		return nil, nil, err
	}
	classifier, err := model.New(cfg.Model, labels.NumClasses(), logger)
	if err != nil {
		return nil, nil, err
	}
	checkpoint, err := classifier.AttachCheckpoints()
	if err != nil {
		return nil, nil, err
	}
	if err := classifier.BuildVariables(backend, probeLength(cfg)); err != nil {
		return nil, nil, err
	}
	if cfg.Model.FreezeEncoder {
		classifier.FreezeEncoder()
	}

	runTracker, err := buildTracker(ctx, cfg, labels, logger)
	if err != nil {
		return nil, nil, err
	}

	runner, err := train.NewRunner(train.Options{
		Config:      cfg,
		Backend:     backend,
		Model:       classifier,
		Checkpoint:  checkpoint,
		TrainLoader: trainLoader,
		EvalLoader:  evalLoader,
		ClassNames:  labels.Names(),
		Tracker:     runTracker,
		Metrics:     appMetrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return runner, appMetrics, nil
}

// buildTracker starts the configured experiment tracker sinks
func buildTracker(ctx context.Context, cfg *config.Config, labels *corpus.Labels,
	logger *slog.Logger) (tracker.Tracker, error) {

	if !cfg.Tracker.Enabled {
		return tracker.Nop{}, nil
	}

	var sinks []tracker.Tracker
	if cfg.Tracker.Endpoint != "" {
		client, err := tracker.NewClient(tracker.Config{
			Endpoint:      cfg.Tracker.Endpoint,
			APIKey:        cfg.Tracker.APIKey,
			Timeout:       cfg.Tracker.GetTimeoutDuration(),
			MaxRetries:    cfg.Tracker.MaxRetries,
			MaxConcurrent: cfg.Tracker.MaxConcurrent,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, client)
	}
	if cfg.Tracker.StorePath != "" {
		store, err := tracker.NewStore(cfg.Tracker.StorePath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, store)
	}
	if len(sinks) == 0 {
		logger.Warn("Tracker enabled but no endpoint or store configured")
		return tracker.Nop{}, nil
	}

	run := tracker.Run{
		Project: cfg.Tracker.Project,
		Entity:  cfg.Tracker.Entity,
		Name:    cfg.Tracker.RunName,
		Config: map[string]string{
			"epochs":        fmt.Sprintf("%d", cfg.Training.Epochs),
			"batch_size":    fmt.Sprintf("%d", cfg.Data.BatchSize),
			"learning_rate": fmt.Sprintf("%g", cfg.Optimizer.LearningRate),
			"weight_decay":  fmt.Sprintf("%g", cfg.Optimizer.WeightDecay),
			"classes":       fmt.Sprintf("%d", labels.NumClasses()),
		},
	}

	multi := tracker.NewMulti(sinks...)
	if err := multi.Start(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to start tracker run: %w", err)
	}
	logger.Info("Experiment tracking started",
		slog.String("project", run.Project),
		slog.String("run", run.Name),
	)
	return multi, nil
}

// probeLength is the dummy batch length used to materialize variables
func probeLength(cfg *config.Config) int {
	if n := cfg.Audio.WindowSamples(); n > 0 {
		return n
	}
	return cfg.Audio.SampleRate
}

// resolvePath joins a relative corpus file path with its split directory
func resolvePath(dir, file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}

// initLogger creates the structured logger from configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
