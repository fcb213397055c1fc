// Package device probes the host hardware and creates the compute backend
// training runs on.
package device
