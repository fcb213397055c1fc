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

	"github.com/gomlx/exceptions"
	"github.com/joho/godotenv"

	"github.com/Synoon/w2v-did/internal/audio"
	"github.com/Synoon/w2v-did/internal/collate"
	"github.com/Synoon/w2v-did/internal/config"
	"github.com/Synoon/w2v-did/internal/corpus"
	"github.com/Synoon/w2v-did/internal/device"
	"github.com/Synoon/w2v-did/internal/eval"
	"github.com/Synoon/w2v-did/internal/loader"
	"github.com/Synoon/w2v-did/internal/model"
	"github.com/Synoon/w2v-did/internal/tracker"
	"github.com/Synoon/w2v-did/internal/train"
)

const defaultConfigPath = "configs/train.yaml"

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	modelDir := flag.String("model", "", "Checkpoint directory to evaluate (defaults to the configured output dir)")
	dataDir := flag.String("data", "", "Evaluation corpus directory (defaults to the configured eval dir)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *modelDir != "" {
		cfg.Model.OutputDir = *modelDir
	}
	if *dataDir != "" {
		cfg.Data.EvalDir = *dataDir
	}
	if cfg.Data.EvalDir == "" {
		fmt.Fprintln(os.Stderr, "No evaluation corpus: set data.eval_dir or pass -data")
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Evaluator starting",
		slog.String("model_dir", cfg.Model.OutputDir),
		slog.String("eval_dir", cfg.Data.EvalDir),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cm *eval.ConfusionMatrix
	runErr := exceptions.TryCatch[error](func() {
		var err error
		cm, err = evaluate(ctx, cfg, logger)
		if err != nil {
			panic(err)
		}
	})
	if runErr != nil {
		logger.Error("Evaluation failed", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	fmt.Println()
	cm.WriteReport(os.Stdout)
	fmt.Println()
	cm.WriteMatrix(os.Stdout)
	logger.Info("Evaluation complete", slog.String("result", cm.Summary()))

	if cfg.Tracker.Enabled && cfg.Tracker.StorePath != "" {
		if err := recordRun(ctx, cfg, cm); err != nil {
			logger.Warn("Failed to record evaluation run", slog.String("error", err.Error()))
		}
	}
}

// recordRun stores the evaluation result in the local run store
func recordRun(ctx context.Context, cfg *config.Config, cm *eval.ConfusionMatrix) error {
	store, err := tracker.NewStore(cfg.Tracker.StorePath)
	if err != nil {
		return err
	}
	run := tracker.Run{
		Project: cfg.Tracker.Project,
		Entity:  cfg.Tracker.Entity,
		Name:    cfg.Tracker.RunName + "-eval",
	}
	if err := store.Start(ctx, run); err != nil {
		return err
	}
	if err := store.LogSummary(ctx, map[string]float64{
		"eval/accuracy": cm.Accuracy(),
		"eval/macro_f1": cm.MacroF1(),
		"eval/examples": float64(cm.Total()),
	}); err != nil {
		return err
	}
	return store.Finish(ctx)
}

// evaluate loads the checkpoint and runs one pass over the eval corpus
func evaluate(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*eval.ConfusionMatrix, error) {
	hw := device.Probe()
	hw.Log(logger)

	backend, err := device.NewBackend(cfg.Training.Device, logger)
	if err != nil {
		return nil, err
	}

	labels, err := corpus.LoadLabels(resolvePath(cfg.Data.EvalDir, cfg.Data.LabelsFile))
	if err != nil {
		return nil, err
	}

	manifest, err := corpus.Load(cfg.Data.EvalDir, cfg.Data.MetadataFile, labels,
		cfg.Data.PerClassCap, cfg.Training.Seed)
	if err != nil {
		return nil, err
	}
	manifest.Truncate(cfg.Data.MaxEvalSamples)
	logger.Info("Evaluation corpus loaded",
		slog.Int("examples", manifest.Len()),
		slog.Int("classes", labels.NumClasses()),
	)

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
	evalLoader, err := loader.New(manifest, pipeline, collator, loader.Options{
		Name:      "eval",
		BatchSize: cfg.Data.BatchSize,
		Workers:   workers,
	}, logger)
	if err != nil {
		return nil, err
	}

	// Evaluation never writes checkpoints, so skip the output dir guard and
	// pretrained seeding; the configured dir is loaded as-is.
	modelCfg := cfg.Model
	modelCfg.PretrainedDir = ""
	classifier, err := model.New(modelCfg, labels.NumClasses(), logger)
	if err != nil {
		return nil, err
	}
	if _, err := classifier.AttachCheckpoints(); err != nil {
		return nil, err
	}
	if err := classifier.BuildVariables(backend, probeLength(cfg)); err != nil {
		return nil, err
	}

	runner, err := train.NewRunner(train.Options{
		Config:     cfg,
		Backend:    backend,
		Model:      classifier,
		EvalLoader: evalLoader,
		ClassNames: labels.Names(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return runner.Evaluate(ctx)
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
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var output *os.File
	if cfg.Output == "stderr" {
		output = os.Stderr
	} else {
		output = os.Stdout
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}
