// Package client contains Cobra CLI commands that talk to a cassieq server
// over its HTTP API.
package client
