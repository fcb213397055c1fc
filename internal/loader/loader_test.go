package loader

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Synoon/w2v-did/internal/audio"
	"github.com/Synoon/w2v-did/internal/collate"
	"github.com/Synoon/w2v-did/internal/corpus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeWAV(t *testing.T, path string, numSamples int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()

	data := make([]int, numSamples)
	for i := range data {
		data[i] = (i%100 - 50) * 200
	}
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Failed to write WAV: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to finalize WAV: %v", err)
	}
}

func buildCorpus(t *testing.T, lengths []int) *corpus.Manifest {
	t.Helper()
	dir := t.TempDir()
	manifest := &corpus.Manifest{}
	for i, n := range lengths {
		path := filepath.Join(dir, "clip"+string(rune('a'+i))+".wav")
		writeWAV(t, path, n)
		manifest.Entries = append(manifest.Entries, corpus.Entry{Path: path, Label: i % 2})
	}
	return manifest
}

func newTestLoader(t *testing.T, manifest *corpus.Manifest, opts Options) *Loader {
	t.Helper()
	pipeline := &audio.Pipeline{TargetRate: 16000, MaxSamples: 4000, Normalize: true}
	collator := &collate.Collator{MaxLength: 4000, NumClasses: 2}
	l, err := New(manifest, pipeline, collator, opts, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l
}

func TestLoaderEpoch(t *testing.T) {
	manifest := buildCorpus(t, []int{1000, 2000, 1500, 800, 1200})
	l := newTestLoader(t, manifest, Options{Name: "train", BatchSize: 2, Workers: 2})

	var batches, examples int
	for {
		batch, err := l.NextBatch()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextBatch failed: %v", err)
		}
		batches++
		examples += batch.Size
	}

	if batches != 3 {
		t.Errorf("Expected 3 batches, got %d", batches)
	}
	if examples != 5 {
		t.Errorf("Expected 5 examples, got %d", examples)
	}
	if l.NumBatches() != 3 {
		t.Errorf("NumBatches: expected 3, got %d", l.NumBatches())
	}

	stats := l.Stats()
	if stats.Batches != 3 || stats.Examples != 5 || stats.SkippedFiles != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestLoaderYieldTensors(t *testing.T) {
	manifest := buildCorpus(t, []int{1000, 2000})
	l := newTestLoader(t, manifest, Options{BatchSize: 2, Workers: 2})

	spec, inputs, labels, err := l.Yield()
	if err != nil {
		t.Fatalf("Yield failed: %v", err)
	}
	if spec != l {
		t.Errorf("Expected the loader as dataset spec")
	}
	if len(inputs) != 2 {
		t.Fatalf("Expected waveform and mask tensors, got %d", len(inputs))
	}

	shape := inputs[0].Shape()
	if shape.Dimensions[0] != 2 || shape.Dimensions[1] != 2000 {
		t.Errorf("Unexpected input shape: %v", shape.Dimensions)
	}
	maskShape := inputs[1].Shape()
	if maskShape.Dimensions[0] != shape.Dimensions[0] || maskShape.Dimensions[1] != shape.Dimensions[1] {
		t.Errorf("Mask shape %v must match input shape %v", maskShape.Dimensions, shape.Dimensions)
	}

	labelShape := labels[0].Shape()
	if labelShape.Dimensions[0] != 2 || labelShape.Dimensions[1] != 2 {
		t.Errorf("Unexpected label shape: %v", labelShape.Dimensions)
	}

	if _, _, _, err := l.Yield(); err != io.EOF {
		t.Errorf("Expected io.EOF after the last batch, got %v", err)
	}
}

func TestLoaderSkipsUndecodableFiles(t *testing.T) {
	manifest := buildCorpus(t, []int{1000, 1000})
	bad := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(bad, []byte("not a wav"), 0644); err != nil {
		t.Fatalf("Failed to write broken file: %v", err)
	}
	manifest.Entries = append(manifest.Entries, corpus.Entry{Path: bad, Label: 0})

	l := newTestLoader(t, manifest, Options{BatchSize: 3, Workers: 2})

	batch, err := l.NextBatch()
	if err != nil {
		t.Fatalf("NextBatch failed: %v", err)
	}
	if batch.Size != 2 {
		t.Errorf("Expected the broken file to be skipped, batch size %d", batch.Size)
	}
	if l.Stats().SkippedFiles != 1 {
		t.Errorf("Expected 1 skipped file, got %d", l.Stats().SkippedFiles)
	}
}

func TestLoaderReset(t *testing.T) {
	manifest := buildCorpus(t, []int{1000, 1000, 1000})
	l := newTestLoader(t, manifest, Options{BatchSize: 2, Workers: 2, Shuffle: true, Seed: 4})

	for {
		if _, err := l.NextBatch(); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("NextBatch failed: %v", err)
		}
	}

	l.Reset()
	batch, err := l.NextBatch()
	if err != nil {
		t.Fatalf("NextBatch after Reset failed: %v", err)
	}
	if batch.Size != 2 {
		t.Errorf("Expected a fresh epoch after Reset, batch size %d", batch.Size)
	}
	if l.Stats().Epochs != 1 {
		t.Errorf("Expected 1 completed reset, got %d", l.Stats().Epochs)
	}
}

func TestLoaderNilLoggerSkipsBrokenFiles(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "broken.wav")
	if err := os.WriteFile(bad, []byte("not a wav"), 0644); err != nil {
		t.Fatalf("Failed to write broken file: %v", err)
	}
	manifest := &corpus.Manifest{Entries: []corpus.Entry{{Path: bad, Label: 0}}}

	pipeline := &audio.Pipeline{TargetRate: 16000, MaxSamples: 4000, Normalize: true}
	collator := &collate.Collator{MaxLength: 4000, NumClasses: 2}
	l, err := New(manifest, pipeline, collator, Options{BatchSize: 1}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := l.NextBatch(); err != io.EOF {
		t.Errorf("Expected io.EOF after skipping the broken file, got %v", err)
	}
	if l.Stats().SkippedFiles != 1 {
		t.Errorf("Expected 1 skipped file, got %d", l.Stats().SkippedFiles)
	}
}

func TestLoaderValidation(t *testing.T) {
	manifest := buildCorpus(t, []int{1000})
	pipeline := &audio.Pipeline{TargetRate: 16000}
	collator := &collate.Collator{NumClasses: 2}

	if _, err := New(&corpus.Manifest{}, pipeline, collator, Options{BatchSize: 2}, testLogger()); err == nil {
		t.Errorf("Expected error for empty manifest")
	}
	if _, err := New(manifest, pipeline, collator, Options{BatchSize: 0}, testLogger()); err == nil {
		t.Errorf("Expected error for zero batch size")
	}
}
