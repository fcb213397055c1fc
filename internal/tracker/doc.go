// Package tracker records experiment runs: scalar metric streams per
// training step and final summaries. Two sinks are provided, an HTTP client
// for a remote tracking server and a local SQLite store, composable behind
// one interface.
package tracker
