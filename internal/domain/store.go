package domain

import "context"

// ThreadStore abstracts thread persistence.
//
// Mutating operations take an expectedOwner: the write succeeds only when
// the stored owner is empty or equals expectedOwner. Update additionally
// takes the version the caller read; a stale version fails with
// ErrConflict so the caller can reload and retry instead of silently
// overwriting a concurrent writer's turn.
type ThreadStore interface {
	// Create inserts a new thread. Fails with ErrThreadExists on id collision.
	Create(ctx context.Context, t *Thread) error
	// Get returns the thread or ErrThreadNotFound.
	Get(ctx context.Context, id string) (*Thread, error)
	// Update conditionally replaces messages and title, refreshes
	// updated_at, bumps version, and returns the post-update record.
	Update(ctx context.Context, id string, messages []Message, title string, expectedOwner string, expectedVersion int64) (*Thread, error)
	// AddCost atomically increments the cost accumulator and returns the
	// new total. Safe under concurrent increments.
	AddCost(ctx context.Context, id string, delta float64, expectedOwner string) (float64, error)
	// ListByOwner returns up to limit threads for owner, newest first.
	ListByOwner(ctx context.Context, owner string, limit int) ([]*Thread, error)
	// CountByOwner returns the number of threads owned by owner.
	CountByOwner(ctx context.Context, owner string) (int, error)
	// Delete conditionally removes a thread.
	Delete(ctx context.Context, id string, expectedOwner string) error
}
