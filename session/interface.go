package session

import "context"

// Store defines the interface for live call state storage.
type Store interface {
	// Create stores a new call with Version set to 1.
	// Returns hotline.ErrDuplicate if the call already exists.
	Create(ctx context.Context, state *CallState) error

	// Get retrieves a call by ID.
	// Returns nil if the call is not found (not an error).
	Get(ctx context.Context, id string) (*CallState, error)

	// Update updates an existing call with optimistic locking.
	// Verifies the Version matches the stored version, increments Version,
	// updates UpdatedAt timestamp, and persists the CallState.
	// Returns hotline.ErrVersionConflict if the version does not match.
	// Returns hotline.ErrNotFound if the call does not exist.
	Update(ctx context.Context, state *CallState) error

	// Delete deletes a call by ID.
	Delete(ctx context.Context, id string) error

	// Close closes the store and releases any resources.
	Close() error
}
