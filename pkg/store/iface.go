// iface.go defines the StoreInterface for dependency injection and testing.
//
// The concrete *Store type satisfies this interface. The pool and the
// CLI accept StoreInterface instead of *Store, enabling fakes in tests.
package store

// StoreInterface defines the full set of store operations.
// The concrete *Store type implements this interface.
type StoreInterface interface {
	// Close closes the database connection.
	Close() error

	// --- Task states ---

	// PutInsertTaskStates records newly spawned tasks.
	PutInsertTaskStates(rows []TaskState) error

	// PutUpdateTaskStates updates status and submit number of existing tasks.
	PutUpdateTaskStates(rows []TaskState) error

	// SelectSubmitNums returns recorded submit numbers for known keys.
	SelectSubmitNums(keys []TaskKey) (map[TaskKey]int, error)

	// ListTaskStates returns every task state row.
	ListTaskStates() ([]TaskState, error)

	// --- Pool snapshot ---

	// PutTaskPool replaces the pool snapshot.
	PutTaskPool(rows []PoolRow) error

	// SelectTaskPool returns the last pool snapshot.
	SelectTaskPool() ([]PoolRow, error)

	// --- Events ---

	// PutTaskEvents appends task events.
	PutTaskEvents(evs []TaskEvent) error

	// ListTaskEvents returns recent events, optionally for one task id.
	ListTaskEvents(id string, limit int) ([]TaskEvent, error)

	// --- Suite params ---

	// SetParam stores a suite-level key/value pair.
	SetParam(key, value string) error

	// GetParam returns a stored value or ErrNotFound.
	GetParam(key string) (string, error)
}

// Compile-time check that *Store implements StoreInterface.
var _ StoreInterface = (*Store)(nil)
