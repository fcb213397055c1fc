package model

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"

	"github.com/Synoon/w2v-did/internal/config"
)

// Scope names for the two halves of the model. The encoder scope is the
// freeze boundary.
const (
	encoderScope    = "encoder"
	classifierScope = "classifier"
)

// convLayer describes one encoder convolution
type convLayer struct {
	filters int
	kernel  int
	stride  int
}

// encoderLayers is the waveform downsampling stack, total stride 40
var encoderLayers = []convLayer{
	{filters: 128, kernel: 10, stride: 5},
	{filters: 128, kernel: 8, stride: 4},
	{filters: 256, kernel: 4, stride: 2},
}

// Model is the dialect classifier
type Model struct {
	ctx        *context.Context
	cfg        config.ModelConfig
	numClasses int
	logger     *slog.Logger
}

// New creates the model context. Variables materialize on the first graph
// build or when a checkpoint is loaded.
func New(cfg config.ModelConfig, numClasses int, logger *slog.Logger) (*Model, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("classifier needs at least 2 classes, got %d", numClasses)
	}

	ctx := context.New()
	return &Model{
		ctx:        ctx,
		cfg:        cfg,
		numClasses: numClasses,
		logger:     logger,
	}, nil
}

// Context returns the variable context
func (m *Model) Context() *context.Context {
	return m.ctx
}

// NumClasses returns the classifier output width
func (m *Model) NumClasses() int {
	return m.numClasses
}

// Forward builds the classifier graph. inputs[0] is the padded waveform
// [batch, length], inputs[1] the attention mask of the same shape. Returns
// the class logits [batch, numClasses].
func (m *Model) Forward(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
	waveform := inputs[0]
	mask := inputs[1]

	// [batch, length] -> [batch, length, 1] for channels-last convolutions
	hidden := graph.InsertAxes(waveform, -1)
	maskDown := graph.InsertAxes(mask, -1)

	encoderCtx := ctx.In(encoderScope)
	for i, layer := range encoderLayers {
		layerCtx := encoderCtx.Inf("conv_%d", i)
		hidden = layers.Convolution(layerCtx, hidden).
			Filters(layer.filters).
			KernelSize(layer.kernel).
			Strides(layer.stride).
			Done()
		hidden = activations.Relu(hidden)

		// Track validity through the same downsampling geometry
		maskDown = graph.MaxPool(maskDown).
			Window(layer.kernel).
			Strides(layer.stride).
			Done()
	}

	// Masked mean pooling over time: padded frames do not contribute
	maskSum := graph.ReduceSum(maskDown, 1)
	maskSum = graph.Max(maskSum, graph.OnesLike(maskSum))
	pooled := graph.Div(graph.ReduceSum(graph.Mul(hidden, maskDown), 1), maskSum)

	headCtx := ctx.In(classifierScope)
	if m.cfg.Dropout > 0 {
		pooled = layers.DropoutNormalize(headCtx, pooled,
			graph.Scalar(pooled.Graph(), dtypes.Float32, m.cfg.Dropout), true)
	}
	hiddenSize := m.cfg.HiddenSize
	if hiddenSize <= 0 {
		hiddenSize = 256
	}
	projected := layers.Dense(headCtx.In("projector"), pooled, true, hiddenSize)
	projected = graph.Tanh(projected)
	logits := layers.Dense(headCtx.In("logits"), projected, true, m.numClasses)

	return []*graph.Node{logits}
}

// FreezeEncoder marks every encoder variable non-trainable, leaving only
// the classification head to the optimizer. Call after variables exist.
func (m *Model) FreezeEncoder() int {
	frozen := 0
	m.ctx.EnumerateVariables(func(v *context.Variable) {
		if strings.Contains(v.Scope(), "/"+encoderScope) && v.Trainable {
			v.Trainable = false
			frozen++
		}
	})
	if m.logger != nil {
		m.logger.Info("Froze encoder variables", slog.Int("count", frozen))
	}
	return frozen
}

// BuildVariables runs one throwaway forward pass so all variables exist
// before freezing or checkpoint attachment on a fresh model.
func (m *Model) BuildVariables(backend backends.Backend, batchLength int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to build model variables: %v", r)
		}
	}()

	exec := context.NewExec(backend, m.ctx, func(ctx *context.Context, g *graph.Graph) *graph.Node {
		waveform := graph.Zeros(g, shapes.Make(dtypes.Float32, 1, batchLength))
		mask := graph.Ones(g, shapes.Make(dtypes.Float32, 1, batchLength))
		return m.Forward(ctx, []*graph.Node{waveform, mask})[0]
	})
	exec.Call()
	return nil
}
