package audio

import (
	"fmt"

	"github.com/Synoon/w2v-did/internal/config"
	"github.com/Synoon/w2v-did/internal/corpus"
)

// Pipeline is the preprocessing chain applied to every corpus entry before
// batching: decode, segment slice, resample, window cap, normalize.
type Pipeline struct {
	TargetRate int
	MaxSamples int
	Normalize  bool
}

// NewPipeline builds the pipeline from the audio section of the config
func NewPipeline(cfg config.AudioConfig) *Pipeline {
	return &Pipeline{
		TargetRate: cfg.SampleRate,
		MaxSamples: cfg.WindowSamples(),
		Normalize:  cfg.Normalize,
	}
}

// Load decodes and preprocesses one corpus entry into model-ready samples
func (p *Pipeline) Load(entry corpus.Entry) ([]float32, error) {
	samples, rate, err := Decode(entry.Path)
	if err != nil {
		return nil, err
	}

	samples, err = Slice(samples, entry.Segment)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", entry.Path, err)
	}

	samples = Resample(samples, rate, p.TargetRate)
	samples = Truncate(samples, p.MaxSamples)

	if len(samples) == 0 {
		return nil, fmt.Errorf("%s: decoded to zero samples", entry.Path)
	}

	if p.Normalize {
		samples = Normalize(samples)
	}
	return samples, nil
}
