// Package eval accumulates classification outcomes across evaluation batches
// and computes accuracy, per-class precision/recall/F1 and macro averages,
// with terminal rendering for the classification report and confusion matrix.
package eval
