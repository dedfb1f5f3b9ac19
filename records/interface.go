package records

import "context"

// Store is the durable ledger of calls and everything that happens on them.
type Store interface {
	// CreateCall inserts a call. Returns hotline.ErrDuplicate when the provider
	// call id is already recorded.
	CreateCall(ctx context.Context, call *Call) error

	// GetCall returns hotline.ErrNotFound for unknown ids.
	GetCall(ctx context.Context, id string) (*Call, error)

	// FindCallByProviderID returns hotline.ErrNotFound for unknown ids.
	FindCallByProviderID(ctx context.Context, providerCallID string) (*Call, error)

	// UpdateCall overwrites the mutable fields of a call.
	UpdateCall(ctx context.Context, call *Call) error

	// NextChunk assigns chunk.Number as the count of existing chunks for the
	// call plus one and inserts the chunk. Concurrent callers never receive the
	// same number.
	NextChunk(ctx context.Context, chunk *Chunk) error

	// UpdateChunk overwrites the mutable fields of a chunk.
	UpdateChunk(ctx context.Context, chunk *Chunk) error

	// ListChunks returns chunks ordered by number.
	ListChunks(ctx context.Context, callID string) ([]Chunk, error)

	// ChunkStats counts chunks and their flags for a call.
	ChunkStats(ctx context.Context, callID string) (ChunkStats, error)

	// AddAssessment inserts an assessment.
	AddAssessment(ctx context.Context, a *Assessment) error

	// ListAssessments returns assessments in creation order.
	ListAssessments(ctx context.Context, callID string) ([]Assessment, error)

	// ClaimEscalation records the escalation unless one with the same call
	// and trigger exists. It reports whether this call created the record.
	ClaimEscalation(ctx context.Context, e *Escalation) (bool, error)

	// ReleaseEscalation removes a claim whose alerts were never dispatched,
	// so a later assessment can claim it again.
	ReleaseEscalation(ctx context.Context, callID, trigger string) error

	// AddContactAttempts inserts a batch of attempts.
	AddContactAttempts(ctx context.Context, attempts []ContactAttempt) error

	// ListContactAttempts returns attempts in insertion order.
	ListContactAttempts(ctx context.Context, callID string) ([]ContactAttempt, error)

	// Close releases the store.
	Close() error
}
