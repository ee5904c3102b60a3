package domain

import "context"

// Unsubscribe stops snapshot delivery and releases the subscription.
// Calling it more than once is a no-op.
type Unsubscribe func()

// RemoteSyncAdapter is the contract a managed document store must satisfy to back
// a workout store. Snapshots are full, internally consistent and ordered by
// timestamp descending; they are not deltas.
type RemoteSyncAdapter interface {
	// Subscribe delivers every snapshot of ownerID's collection until the returned
	// Unsubscribe is called. onError is called at most once, after which no more
	// snapshots are delivered.
	Subscribe(ctx context.Context, ownerID string, onSnapshot func([]RemoteRecord), onError func(error)) (Unsubscribe, error)
	// NewID reserves a record id for a later Create. It does not touch the remote store.
	NewID(ownerID string) string
	// Create writes a new record under id. Snapshots carrying it may be delivered
	// before Create returns. An id that already exists is a RemoteWriteError.
	Create(ctx context.Context, ownerID, id string, payload Payload) error
	// Update rewrites an existing record; a missing id is a RemoteWriteError
	Update(ctx context.Context, ownerID, id string, payload Payload) error
	// Remove deletes a record; removing an absent record succeeds
	Remove(ctx context.Context, ownerID, id string) error
}
