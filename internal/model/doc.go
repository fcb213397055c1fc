// Package model defines the dialect classifier: a convolutional waveform
// encoder followed by masked mean pooling and a dense classification head.
// It owns the model variables, pretrained initialization and checkpointing.
package model
