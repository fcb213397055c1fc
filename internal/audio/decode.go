package audio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/Synoon/w2v-did/internal/corpus"
)

// Decode reads an audio file into mono float32 samples in [-1, 1] and
// returns the source sample rate. WAV and MP3 are supported.
func Decode(path string) ([]float32, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWAV(path)
	case ".mp3":
		return decodeMP3(path)
	default:
		return nil, 0, fmt.Errorf("unsupported audio format %q", filepath.Ext(path))
	}
}

// decodeWAV decodes a PCM WAV file, mixing channels down to mono
func decodeWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("invalid WAV file %s", path)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode WAV %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, 0, fmt.Errorf("WAV %s has no format information", path)
	}

	channels := buf.Format.NumChannels
	bitDepth := int(decoder.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += float32(buf.Data[i*channels+ch]) / scale
		}
		samples[i] = sum / float32(channels)
	}

	return samples, buf.Format.SampleRate, nil
}

// decodeMP3 decodes an MP3 file. go-mp3 always emits 16-bit stereo frames.
func decodeMP3(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	decoder, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode MP3 %s: %w", path, err)
	}

	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read MP3 %s: %w", path, err)
	}

	// 4 bytes per frame: left int16 + right int16, little endian
	frames := len(raw) / 4
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		left := int16(uint16(raw[i*4]) | uint16(raw[i*4+1])<<8)
		right := int16(uint16(raw[i*4+2]) | uint16(raw[i*4+3])<<8)
		samples[i] = (float32(left) + float32(right)) / (2 * 32768)
	}

	return samples, decoder.SampleRate(), nil
}

// Slice cuts a sample range out of a waveform. The range is clamped to the
// available samples; an empty result is an error.
func Slice(samples []float32, segment *corpus.Segment) ([]float32, error) {
	if segment == nil {
		return samples, nil
	}
	start, stop := segment.Start, segment.Stop
	if start >= len(samples) {
		return nil, fmt.Errorf("segment start %d beyond audio length %d", start, len(samples))
	}
	if stop > len(samples) {
		stop = len(samples)
	}
	return samples[start:stop], nil
}

// Truncate caps the waveform at maxSamples. maxSamples <= 0 disables the cap.
func Truncate(samples []float32, maxSamples int) []float32 {
	if maxSamples > 0 && len(samples) > maxSamples {
		return samples[:maxSamples]
	}
	return samples
}
