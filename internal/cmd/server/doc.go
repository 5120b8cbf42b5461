// Package server runs a cassieq node: it opens the configured store, starts
// the engine and serves the HTTP API until its context is cancelled.
package server
