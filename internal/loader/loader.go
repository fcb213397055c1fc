package loader

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gomlx/gomlx/types/tensors"

	"github.com/Synoon/w2v-did/internal/audio"
	"github.com/Synoon/w2v-did/internal/collate"
	"github.com/Synoon/w2v-did/internal/corpus"
	"github.com/Synoon/w2v-did/internal/metrics"
)

// Stats counts loader activity across epochs
type Stats struct {
	Batches      uint64
	Examples     uint64
	SkippedFiles uint64
	Epochs       uint64
}

// Loader streams batches from a manifest. It implements train.Dataset:
// Yield returns one collated batch as tensors and io.EOF at the end of an
// epoch; Reset starts the next epoch, reshuffling when configured.
type Loader struct {
	name     string
	manifest *corpus.Manifest
	pipeline *audio.Pipeline
	collator *collate.Collator

	batchSize int
	workers   int
	shuffle   bool
	seed      int64

	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	cursor int
	epoch  int64
	stats  Stats
}

// Options configures a Loader
type Options struct {
	Name      string
	BatchSize int
	Workers   int
	// Shuffle reshuffles the manifest at every Reset
	Shuffle bool
	Seed    int64
	// Metrics is optional
	Metrics *metrics.Metrics
}

// New creates a loader over a manifest
func New(manifest *corpus.Manifest, pipeline *audio.Pipeline, collator *collate.Collator,
	opts Options, logger *slog.Logger) (*Loader, error) {

	if manifest == nil || manifest.Len() == 0 {
		return nil, fmt.Errorf("loader needs a non-empty manifest")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("loader needs a positive batch size, got %d", opts.BatchSize)
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Name == "" {
		opts.Name = "corpus"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Loader{
		name:      opts.Name,
		manifest:  manifest,
		pipeline:  pipeline,
		collator:  collator,
		batchSize: opts.BatchSize,
		workers:   opts.Workers,
		shuffle:   opts.Shuffle,
		seed:      opts.Seed,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// Name implements train.Dataset
func (l *Loader) Name() string {
	return l.name
}

// NumBatches returns the batch count of one epoch, counting the final
// partial batch.
func (l *Loader) NumBatches() int {
	return (l.manifest.Len() + l.batchSize - 1) / l.batchSize
}

// NumExamples returns the manifest size
func (l *Loader) NumExamples() int {
	return l.manifest.Len()
}

// Stats returns a snapshot of loader counters
func (l *Loader) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// NextBatch decodes and collates the next batch of the epoch. Files that
// fail to decode are skipped and counted; io.EOF signals the epoch end.
func (l *Loader) NextBatch() (*collate.Batch, error) {
	for {
		entries := l.nextEntries()
		if len(entries) == 0 {
			return nil, io.EOF
		}

		samples, labels := l.decodeAll(entries)
		if len(samples) == 0 {
			// Whole slice failed to decode, move on to the next one
			continue
		}

		batch, err := l.collator.Collate(samples, labels)
		if err != nil {
			return nil, fmt.Errorf("failed to collate batch: %w", err)
		}

		l.mu.Lock()
		l.stats.Batches++
		l.stats.Examples += uint64(batch.Size)
		l.mu.Unlock()

		if l.metrics != nil {
			l.metrics.RecordBatchLoaded(batch.Length)
		}
		return batch, nil
	}
}

// nextEntries claims the next batch slice of the manifest
func (l *Loader) nextEntries() []corpus.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cursor >= l.manifest.Len() {
		return nil
	}
	end := l.cursor + l.batchSize
	if end > l.manifest.Len() {
		end = l.manifest.Len()
	}
	entries := l.manifest.Entries[l.cursor:end]
	l.cursor = end
	return entries
}

// decodeAll runs the preprocessing pipeline over a batch slice with a
// bounded worker pool, preserving manifest order among the survivors.
func (l *Loader) decodeAll(entries []corpus.Entry) ([][]float32, []int) {
	decoded := make([][]float32, len(entries))
	failures := make([]error, len(entries))

	sem := make(chan struct{}, l.workers)
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry corpus.Entry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			samples, err := l.pipeline.Load(entry)
			if l.metrics != nil {
				l.metrics.RecordDecode(time.Since(start).Seconds(), err != nil)
			}
			if err != nil {
				failures[i] = err
				return
			}
			decoded[i] = samples
		}(i, entry)
	}
	wg.Wait()

	samples := make([][]float32, 0, len(entries))
	labels := make([]int, 0, len(entries))
	for i, entry := range entries {
		if failures[i] != nil {
			l.mu.Lock()
			l.stats.SkippedFiles++
			l.mu.Unlock()
			l.logger.Warn("Skipping undecodable file",
				slog.String("path", entry.Path),
				slog.String("error", failures[i].Error()),
			)
			continue
		}
		samples = append(samples, decoded[i])
		labels = append(labels, entry.Label)
	}
	return samples, labels
}

// Yield implements train.Dataset. Inputs are the padded waveforms and the
// attention mask, labels are the one-hot targets.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	batch, err := l.NextBatch()
	if err != nil {
		return nil, nil, nil, err
	}

	inputs = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(batch.Inputs, batch.Size, batch.Length),
		tensors.FromFlatDataAndDimensions(batch.Mask, batch.Size, batch.Length),
	}
	labels = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(batch.Labels, batch.Size, l.collator.NumClasses),
	}
	return l, inputs, labels, nil
}

// Reset implements train.Dataset, starting a new epoch
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cursor = 0
	l.epoch++
	l.stats.Epochs++
	if l.shuffle {
		l.manifest.Shuffle(l.seed + l.epoch)
	}
}
