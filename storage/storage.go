// Package storage defines the persistence contract shared by every stateful
// component: namespaced, versioned records with atomic conditional updates.
package storage

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCASFailed indicates a conditional write lost against a concurrent
	// writer (or the record's existence did not match the expectation).
	ErrCASFailed = errors.New("compare-and-swap failed")
)

// Repository is a namespaced record store. Implementations must provide
// read-after-write consistency within a namespace and atomic PutCAS — the
// handshake session store depends on both for its at-most-once semantics.
type Repository interface {
	// Put creates or overwrites a record unconditionally.
	Put(namespace, recordType, recordID string, rec *Record) error
	// PutCAS writes the record only if the stored version matches
	// expectedVersion. An expectedVersion of 0 means the record must not
	// exist yet. On success the stored version becomes rec.Version.
	PutCAS(namespace, recordType, recordID string, expectedVersion uint64, rec *Record) error
	// Get retrieves a record. Returns ErrNotFound if absent.
	Get(namespace, recordType, recordID string) (*Record, error)
	// Delete removes a record. Returns ErrNotFound if absent.
	Delete(namespace, recordType, recordID string) error
	// List returns the IDs of all records of the given type in the namespace.
	List(namespace, recordType string) ([]string, error)
	// Batch executes fn atomically within a single namespace. All writes
	// are rolled back if fn returns an error.
	Batch(namespace string, fn func(tx BatchTx) error) error
}

// BatchTx is the write surface available inside a Batch.
type BatchTx interface {
	Put(recordType, recordID string, rec *Record) error
	PutCAS(recordType, recordID string, expectedVersion uint64, rec *Record) error
	Delete(recordType, recordID string) error
}
