package storage

import "context"

// Update is sent to listeners whenever a key changes. Value is the raw JSON
// of the new value.
type Update struct {
	Key   []byte
	Value []byte
}

// Store keeps a JSON document addressed by dotted key paths, e.g.
// "conns.<id>.bytes_in".
type Store interface {
	Set(ctx context.Context, key []byte, value interface{}) error
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Incr adds delta to the integer at key, treating a missing key as 0,
	// and returns the new value.
	Incr(ctx context.Context, key []byte, delta int64) (int64, error)

	// Delete removes key and everything below it. Listeners receive an
	// Update with an empty Value.
	Delete(ctx context.Context, key []byte) error

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}
