// File: api/metastore.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Versioned key-value metadata store contract used for checkpoint persistence.

package api

import "context"

// UpdateCallback receives the outcome of an asynchronous conditional update.
type UpdateCallback func(version uint64, err error)

// VersionedConfigStore is a key-value store with per-key monotonically
// increasing versions and conditional updates.
type VersionedConfigStore interface {
	// GetConfigSync returns the value and version stored under key, or an
	// error matching ErrNotFound.
	GetConfigSync(ctx context.Context, key string) ([]byte, uint64, error)

	// UpdateConfigSync stores value under key. When base is non-nil the update
	// only succeeds if the stored version equals *base (0 meaning absent);
	// otherwise it fails with ErrVersionMismatch. Returns the new version.
	UpdateConfigSync(ctx context.Context, key string, value []byte, base *uint64) (uint64, error)

	// UpdateConfig is the asynchronous form of UpdateConfigSync.
	UpdateConfig(key string, value []byte, base *uint64, cb UpdateCallback)

	// DeleteConfigSync removes key; deleting an absent key is not an error.
	DeleteConfigSync(ctx context.Context, key string) error

	// Close releases the store.
	Close() error
}
