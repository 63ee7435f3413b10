package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Definitions (versioned, immutable documents)
	SaveDefinition(ctx context.Context, name string, document []byte) (*Definition, error)
	GetDefinition(ctx context.Context, name string, version int) (*Definition, error)
	ListDefinitions(ctx context.Context) ([]*Definition, error)
	ListVersions(ctx context.Context, name string) ([]*Definition, error)
	DeleteDefinition(ctx context.Context, name string) error

	// Run event history (append-only)
	AppendRunEvent(ctx context.Context, event *RunEvent) error
	GetRunEvents(ctx context.Context, runID string, since int64) ([]*RunEvent, error)
	ListRuns(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
