// Package corpus maps an on-disk speech corpus to (audio path, label) entries.
// It supports CSV manifests (metadata.csv + labels.csv) with optional per-entry
// sample segments, and a directory-scan mode where each class label is a
// subdirectory of audio files.
package corpus
