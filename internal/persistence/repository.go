package persistence

// Repository is the storage boundary for persisted application state. It
// abstracts the underlying backend (BadgerDB, SQLite, in-memory) from the
// rest of the application.
type Repository interface {
	// Save atomically stores the payload under the given key.
	Save(key string, data []byte) error

	// Load returns the payload for the key. A missing key returns (nil, nil).
	Load(key string) ([]byte, error)

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(key string) error

	// Close gracefully closes the backend.
	Close() error
}
