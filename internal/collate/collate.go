package collate

import (
	"fmt"
)

// Collator pads a batch of waveforms to a common length.
//
// The batch length is the longest waveform rounded up to a multiple of
// PadToMultiple, never exceeding MaxLength; when the cap is hit the length
// rounds down so it stays a multiple. Padding positions carry zeros in the
// inputs and zeros in the mask.
type Collator struct {
	// MaxLength caps the padded length in samples. 0 = uncapped.
	MaxLength int
	// PadToMultiple rounds the padded length up. 0 or 1 = no rounding.
	PadToMultiple int
	// NumClasses sizes the one-hot target rows
	NumClasses int
}

// Batch is one collated training step in row-major flat layout.
// Inputs and Mask are [Size, Length]; Labels is [Size, NumClasses] one-hot.
type Batch struct {
	Size   int
	Length int

	Inputs []float32
	Mask   []float32
	Labels []float32

	// LabelIDs keeps the class indices alongside the one-hot rows for
	// metric accumulation.
	LabelIDs []int32
}

// Collate pads samples into a batch. Waveforms longer than the padded
// length are truncated.
func (c *Collator) Collate(samples [][]float32, labels []int) (*Batch, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if len(samples) != len(labels) {
		return nil, fmt.Errorf("batch size mismatch: %d waveforms, %d labels", len(samples), len(labels))
	}
	if c.NumClasses <= 0 {
		return nil, fmt.Errorf("collator needs a positive class count, got %d", c.NumClasses)
	}

	length := 0
	for _, s := range samples {
		if len(s) > length {
			length = len(s)
		}
	}
	if length == 0 {
		return nil, fmt.Errorf("batch contains only empty waveforms")
	}
	if c.PadToMultiple > 1 && length%c.PadToMultiple != 0 {
		length += c.PadToMultiple - length%c.PadToMultiple
	}
	if c.MaxLength > 0 && length > c.MaxLength {
		length = c.MaxLength
		if c.PadToMultiple > 1 {
			length -= length % c.PadToMultiple
		}
		if length <= 0 {
			return nil, fmt.Errorf("max length %d is below pad multiple %d", c.MaxLength, c.PadToMultiple)
		}
	}

	n := len(samples)
	batch := &Batch{
		Size:     n,
		Length:   length,
		Inputs:   make([]float32, n*length),
		Mask:     make([]float32, n*length),
		Labels:   make([]float32, n*c.NumClasses),
		LabelIDs: make([]int32, n),
	}

	for i, s := range samples {
		if len(s) > length {
			s = s[:length]
		}
		row := batch.Inputs[i*length : (i+1)*length]
		mask := batch.Mask[i*length : (i+1)*length]
		copy(row, s)
		for j := range s {
			mask[j] = 1
		}

		label := labels[i]
		if label < 0 || label >= c.NumClasses {
			return nil, fmt.Errorf("label %d out of range [0, %d)", label, c.NumClasses)
		}
		batch.Labels[i*c.NumClasses+label] = 1
		batch.LabelIDs[i] = int32(label)
	}

	return batch, nil
}
