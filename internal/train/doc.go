// Package train drives fine-tuning: the epoch loop over the data loader,
// learning-rate scheduling, periodic evaluation, checkpointing and metric
// reporting.
package train
