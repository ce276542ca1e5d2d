// Package core defines the core interfaces and types for the inference gateway.
package core

import (
	"context"
	"io"
)

// InferenceBackend sends resolved requests to a model server.
type InferenceBackend interface {
	// Complete executes a non-streaming completion and returns the raw JSON body
	Complete(ctx context.Context, req *InferenceRequest) ([]byte, error)

	// Stream returns a raw SSE stream (caller must close)
	Stream(ctx context.Context, req *InferenceRequest) (io.ReadCloser, error)
}

// Pinger is implemented by dependencies that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
