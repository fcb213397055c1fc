// Package loader streams collated training batches from a corpus manifest.
// Files are decoded by a bounded worker pool, undecodable files are skipped
// and counted, and the result implements the train.Dataset contract of the
// compute framework.
package loader
