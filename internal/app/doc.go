// Package app wires audiogrid together: it builds the node registry, the
// engine and the graph controller from a Config, loads or restores the graph,
// drives the engine from the device clock and serves the health endpoints.
// It is independent of the entrypoint that constructs it.
package app
