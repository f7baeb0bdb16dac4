package infrastructure

import "context"

// Server is any long-running component the App supervises: HTTP listeners,
// NATS consumers, background sweepers.
type Server interface {
	// Start blocks until the server exits or ctx is cancelled.
	Start(ctx context.Context) error
	// Stop asks the server to shut down gracefully.
	Stop(ctx context.Context) error
}
