package train

import (
	stdctx "context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/checkpoints"
	"github.com/gomlx/gomlx/ml/train/losses"
	"github.com/gomlx/gomlx/ml/train/optimizers"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	mltrain "github.com/gomlx/gomlx/ml/train"

	"github.com/Synoon/w2v-did/internal/collate"
	"github.com/Synoon/w2v-did/internal/config"
	"github.com/Synoon/w2v-did/internal/eval"
	"github.com/Synoon/w2v-did/internal/loader"
	"github.com/Synoon/w2v-did/internal/metrics"
	"github.com/Synoon/w2v-did/internal/model"
	"github.com/Synoon/w2v-did/internal/tracker"
)

// Status is a snapshot of loop progress for the monitoring server
type Status struct {
	Epoch        int     `json:"epoch"`
	Epochs       int     `json:"epochs"`
	GlobalStep   int64   `json:"global_step"`
	LastLoss     float64 `json:"last_loss"`
	LearningRate float64 `json:"learning_rate"`
	EvalAccuracy float64 `json:"eval_accuracy"`
	EvalMacroF1  float64 `json:"eval_macro_f1"`
}

// Runner owns the fine-tuning loop
type Runner struct {
	cfg     *config.Config
	backend backends.Backend
	model   *model.Model

	trainer    *mltrain.Trainer
	checkpoint *checkpoints.Handler
	scheduler  *StepLR

	trainLoader *loader.Loader
	evalLoader  *loader.Loader
	classNames  []string

	tracker tracker.Tracker
	metrics *metrics.Metrics
	logger  *slog.Logger

	predictor *context.Exec

	mu     sync.RWMutex
	status Status
}

// Options wires the runner's collaborators
type Options struct {
	Config      *config.Config
	Backend     backends.Backend
	Model       *model.Model
	Checkpoint  *checkpoints.Handler
	TrainLoader *loader.Loader
	EvalLoader  *loader.Loader
	ClassNames  []string
	Tracker     tracker.Tracker
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// NewRunner builds the trainer and scheduler from configuration
func NewRunner(opts Options) (*Runner, error) {
	cfg := opts.Config
	if cfg.Optimizer.Name != "adam" {
		return nil, fmt.Errorf("unsupported optimizer %q", cfg.Optimizer.Name)
	}

	modelCtx := opts.Model.Context()
	modelCtx.SetParam(optimizers.ParamLearningRate, cfg.Optimizer.LearningRate)

	optimizer := optimizers.Adam().
		LearningRate(cfg.Optimizer.LearningRate).
		WeightDecay(cfg.Optimizer.WeightDecay).
		Done()

	modelFn := func(ctx *context.Context, spec any, inputs []*graph.Node) []*graph.Node {
		return opts.Model.Forward(ctx, inputs)
	}

	trainer := mltrain.NewTrainer(opts.Backend, modelCtx, modelFn,
		losses.CategoricalCrossEntropyLogits, optimizer, nil, nil)

	r := &Runner{
		cfg:         cfg,
		backend:     opts.Backend,
		model:       opts.Model,
		trainer:     trainer,
		checkpoint:  opts.Checkpoint,
		scheduler:   NewStepLR(cfg.Optimizer.LearningRate, cfg.Scheduler),
		trainLoader: opts.TrainLoader,
		evalLoader:  opts.EvalLoader,
		classNames:  opts.ClassNames,
		tracker:     opts.Tracker,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
	r.status.Epochs = cfg.Training.Epochs
	if r.tracker == nil {
		r.tracker = tracker.Nop{}
	}
	return r, nil
}

// Status returns a snapshot for the monitoring server
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Train runs the full fine-tuning loop. It stops early when ctx is
// cancelled, saving a final checkpoint.
func (r *Runner) Train(ctx stdctx.Context) error {
	cfg := r.cfg
	for epoch := 0; epoch < cfg.Training.Epochs; epoch++ {
		lr := r.scheduler.At(epoch)
		r.model.Context().SetParam(optimizers.ParamLearningRate, lr)
		if r.metrics != nil {
			r.metrics.RecordEpoch(epoch+1, lr)
		}
		r.setStatus(func(s *Status) {
			s.Epoch = epoch + 1
			s.LearningRate = lr
		})

		r.logger.Info("Starting epoch",
			slog.Int("epoch", epoch+1),
			slog.Int("epochs", cfg.Training.Epochs),
			slog.Float64("learning_rate", lr),
		)

		if err := r.trainEpoch(ctx, epoch); err != nil {
			r.handleInterrupt(ctx, epoch)
			return err
		}
		if r.metrics != nil {
			r.metrics.RecordEpochCompleted()
		}

		saved := false
		if (epoch+1)%cfg.Training.SaveInterval == 0 || epoch+1 == cfg.Training.Epochs {
			if err := r.evaluateAndCheckpoint(ctx, epoch); err != nil {
				r.handleInterrupt(ctx, epoch)
				return err
			}
			saved = true
		}

		if err := ctx.Err(); err != nil {
			if saved {
				r.logger.Warn("Training interrupted", slog.Int("epoch", epoch+1))
			} else {
				r.handleInterrupt(ctx, epoch)
			}
			return err
		}
	}

	return r.finish(ctx)
}

// handleInterrupt saves a checkpoint when the loop is exiting on ctx
// cancellation, so an interrupted run can resume without losing the updates
// since the last save interval. Real failures save nothing.
func (r *Runner) handleInterrupt(ctx stdctx.Context, epoch int) {
	if ctx.Err() == nil {
		return
	}
	r.logger.Warn("Training interrupted", slog.Int("epoch", epoch+1))
	if r.checkpoint == nil {
		return
	}
	if err := r.checkpoint.Save(); err != nil {
		r.logger.Error("Failed to save checkpoint on interrupt", slog.String("error", err.Error()))
		return
	}
	r.logger.Info("Checkpoint saved on interrupt", slog.Int("epoch", epoch+1))
}

// trainEpoch consumes one pass of the training loader
func (r *Runner) trainEpoch(ctx stdctx.Context, epoch int) error {
	r.trainLoader.Reset()

	var progress *mpb.Progress
	var bar *mpb.Bar
	if r.cfg.Training.Progress {
		progress = mpb.New(mpb.WithWidth(64))
		bar = progress.AddBar(int64(r.trainLoader.NumBatches()),
			mpb.PrependDecorators(
				decor.Name(fmt.Sprintf("Epoch %d: ", epoch+1)),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
			),
		)
	}

	batchInEpoch := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		spec, inputs, labels, err := r.trainLoader.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("training data error in epoch %d: %w", epoch+1, err)
		}

		start := time.Now()
		stepMetrics := r.trainer.TrainStep(spec, inputs, labels)
		loss := float64(tensors.ToScalar[float32](stepMetrics[0]))
		batchSize := inputs[0].Shape().Dimensions[0]

		batchInEpoch++
		step := r.advanceStep(loss)
		if r.metrics != nil {
			r.metrics.RecordStep(batchSize, loss, time.Since(start).Seconds())
		}
		if bar != nil {
			bar.Increment()
		}

		if batchInEpoch%r.cfg.Training.LogInterval == 0 {
			r.logger.Info("Training progress",
				slog.Int("epoch", epoch+1),
				slog.Int("batch", batchInEpoch),
				slog.Int64("step", step),
				slog.Float64("loss", loss),
			)
			r.logTracked(ctx, step, map[string]float64{
				"train/loss":          loss,
				"train/learning_rate": r.scheduler.At(epoch),
				"train/epoch":         float64(epoch + 1),
			})
		}
	}

	if progress != nil {
		progress.Wait()
	}
	return nil
}

// evaluateAndCheckpoint runs an evaluation pass when an eval split is
// configured and saves a checkpoint
func (r *Runner) evaluateAndCheckpoint(ctx stdctx.Context, epoch int) error {
	if r.evalLoader != nil {
		cm, err := r.Evaluate(ctx)
		if err != nil {
			return err
		}

		accuracy, macroF1 := cm.Accuracy(), cm.MacroF1()
		r.logger.Info("Evaluation finished",
			slog.Int("epoch", epoch+1),
			slog.Float64("accuracy", accuracy),
			slog.Float64("macro_f1", macroF1),
			slog.Int("examples", cm.Total()),
		)
		r.setStatus(func(s *Status) {
			s.EvalAccuracy = accuracy
			s.EvalMacroF1 = macroF1
		})

		r.logTracked(ctx, r.currentStep(), map[string]float64{
			"eval/accuracy": accuracy,
			"eval/macro_f1": macroF1,
		})
	}

	if r.checkpoint != nil {
		start := time.Now()
		if err := r.checkpoint.Save(); err != nil {
			return fmt.Errorf("failed to save checkpoint after epoch %d: %w", epoch+1, err)
		}
		if r.metrics != nil {
			r.metrics.RecordCheckpoint(time.Since(start).Seconds())
		}
		r.logger.Info("Checkpoint saved", slog.Int("epoch", epoch+1))
	}
	return nil
}

// Evaluate runs one full pass over the evaluation loader
func (r *Runner) Evaluate(ctx stdctx.Context) (*eval.ConfusionMatrix, error) {
	if r.evalLoader == nil {
		return nil, fmt.Errorf("no evaluation data configured")
	}

	start := time.Now()
	r.evalLoader.Reset()
	cm := eval.NewConfusionMatrix(r.classNames)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := r.evalLoader.NextBatch()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("evaluation data error: %w", err)
		}

		predicted, err := r.predict(batch)
		if err != nil {
			return nil, err
		}
		if err := cm.Add(batch.LabelIDs, predicted); err != nil {
			return nil, err
		}
	}

	if r.metrics != nil {
		r.metrics.RecordEval(cm.Accuracy(), cm.MacroF1(), time.Since(start).Seconds())
	}
	return cm, nil
}

// predict runs the inference graph over one batch
func (r *Runner) predict(batch *collate.Batch) ([]int32, error) {
	if r.predictor == nil {
		r.predictor = context.NewExec(r.backend, r.model.Context().Reuse(),
			func(ctx *context.Context, waveform, mask *graph.Node) *graph.Node {
				logits := r.model.Forward(ctx, []*graph.Node{waveform, mask})[0]
				return graph.ArgMax(logits, -1, dtypes.Int32)
			})
	}

	inputs := tensors.FromFlatDataAndDimensions(batch.Inputs, batch.Size, batch.Length)
	mask := tensors.FromFlatDataAndDimensions(batch.Mask, batch.Size, batch.Length)
	outputs := r.predictor.Call(inputs, mask)
	return tensors.CopyFlatData[int32](outputs[0]), nil
}

// finish logs run summaries and closes the tracker
func (r *Runner) finish(ctx stdctx.Context) error {
	status := r.Status()
	summary := map[string]float64{
		"final/loss":          status.LastLoss,
		"final/eval_accuracy": status.EvalAccuracy,
		"final/eval_macro_f1": status.EvalMacroF1,
		"final/steps":         float64(status.GlobalStep),
	}
	if err := r.tracker.LogSummary(ctx, summary); err != nil {
		r.logger.Warn("Failed to log run summary", slog.String("error", err.Error()))
	}
	if err := r.tracker.Finish(ctx); err != nil {
		r.logger.Warn("Failed to finish tracker run", slog.String("error", err.Error()))
	}

	stats := r.trainLoader.Stats()
	r.logger.Info("Training complete",
		slog.Int64("steps", status.GlobalStep),
		slog.Uint64("examples", stats.Examples),
		slog.Uint64("skipped_files", stats.SkippedFiles),
	)
	return nil
}

// advanceStep bumps the global step and loss status
func (r *Runner) advanceStep(loss float64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.GlobalStep++
	r.status.LastLoss = loss
	return r.status.GlobalStep
}

func (r *Runner) currentStep() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.GlobalStep
}

func (r *Runner) setStatus(update func(*Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	update(&r.status)
}

// logTracked sends metrics to the tracker, counting failures instead of
// aborting training on them.
func (r *Runner) logTracked(ctx stdctx.Context, step int64, values map[string]float64) {
	err := r.tracker.LogMetrics(ctx, step, values)
	if r.metrics != nil {
		r.metrics.RecordTrackerRequest(err != nil)
	}
	if err != nil {
		r.logger.Warn("Failed to log tracked metrics",
			slog.Int64("step", step),
			slog.String("error", err.Error()),
		)
	}
}
