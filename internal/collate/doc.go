// Package collate assembles variable-length waveforms into fixed-shape
// training batches: right-padded inputs, an attention mask marking real
// samples, and one-hot class targets.
package collate
