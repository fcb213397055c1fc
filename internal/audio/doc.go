// Package audio handles decoding of corpus files and waveform preprocessing.
// It decodes WAV and MP3 into mono float32 samples and implements segment
// slicing, linear resampling and per-sample mean/variance normalization as
// fed to the encoder.
package audio
