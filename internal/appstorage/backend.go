package appstorage

import "context"

// rawItem is the wire shape a Backend persists: T encoded as a msgpack
// blob via internal/rpcenvelope, alongside the revision and tombstone
// bookkeeping the spec's merge policy needs.
type rawItem struct {
	Key     string
	Data    []byte
	Rev     int64
	Deleted bool
}

// Backend is the durable persistence layer behind a Storage[T]. Multiple
// implementations back it, the way statefn.StateStore in the teacher
// abstracts over Postgres/Redis/DynamoDB.
type Backend interface {
	// Get retrieves one item by prefix+key. Returns (nil, nil) if absent.
	Get(ctx context.Context, prefix, key string) (*rawItem, error)

	// Put creates or overwrites an item. Callers are responsible for
	// revision bookkeeping; Put just persists what it's given.
	Put(ctx context.Context, prefix string, item rawItem) error

	// List returns every item under prefix, tombstones included — the
	// caller's merge policy decides what to do with Deleted entries.
	List(ctx context.Context, prefix string) ([]rawItem, error)

	// Ping verifies connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}
