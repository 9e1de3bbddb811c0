// Package store provides local durable storage for the sync engine.
// The engine treats local storage as a key-value blob store; this package
// carries the contract plus a SQLite-backed default and an in-memory
// implementation for tests.
package store

// Well-known keys used by the engine.
const (
	KeyWorkRecords = "work_records"
	KeySyncQueue   = "sync_queue"
	KeyLastSync    = "last_sync_at"
)

// KV is the local durable store contract. Implementations must make Set
// durable before returning: the sync queue relies on persistence preceding
// any network attempt.
type KV interface {
	// Get returns the value for key. The second return is false when the
	// key does not exist.
	Get(key string) ([]byte, bool, error)

	// Set durably stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}
