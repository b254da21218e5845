package secretcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/hashpath/foreman/pkg/log"
	"github.com/hashpath/foreman/pkg/types"
)

var (
	bucketEntries = []byte("entries")
	bucketMeta    = []byte("meta")

	keyDeviceKeyVersion = []byte("device_key_version")
)

var (
	// ErrCounterRegression is returned when a Put carries a counter at or
	// below the stored one for the same miner
	ErrCounterRegression = errors.New("secret counter regression")

	// ErrKeyVersionMismatch is returned when an entry's key_version does
	// not match the cache's current device key version
	ErrKeyVersionMismatch = errors.New("secret key version mismatch")

	// ErrNotFound is returned when no entry exists for a miner
	ErrNotFound = errors.New("secret not found")
)

// Entry is one cached ciphertext envelope for a miner
type Entry struct {
	MinerID    string         `json:"miner_id"`
	Envelope   types.Envelope `json:"envelope"`
	Counter    int64          `json:"counter"`
	KeyVersion int            `json:"key_version"`
	StoredAt   time.Time      `json:"stored_at"`
}

// Cache is the edge's local store of encrypted miner secrets. Entries are
// ciphertext only; the cache never sees plaintext. Counters enforce
// monotonic updates per miner and the device key version pins every entry
// to the current keypair.
type Cache struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// Open creates or reopens the cache under dataDir
func Open(dataDir string) (*Cache, error) {
	dbPath := filepath.Join(dataDir, "secrets.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketEntries, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db, logger: log.WithComponent("secretcache")}, nil
}

// Close closes the underlying database
func (c *Cache) Close() error {
	return c.db.Close()
}

// KeyVersion returns the device key version the cache is pinned to, or 0
// when unset
func (c *Cache) KeyVersion() (int, error) {
	var version int
	err := c.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyDeviceKeyVersion); data != nil {
			return json.Unmarshal(data, &version)
		}
		return nil
	})
	return version, err
}

// SetKeyVersion pins the cache to a device key version. Raising the
// version drops every cached entry: envelopes sealed to the old keypair
// can no longer be opened.
func (c *Cache) SetKeyVersion(version int) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)

		var current int
		if data := meta.Get(keyDeviceKeyVersion); data != nil {
			if err := json.Unmarshal(data, &current); err != nil {
				return err
			}
		}
		if version < current {
			return fmt.Errorf("%w: cannot lower device key version %d to %d", ErrKeyVersionMismatch, current, version)
		}
		if version > current {
			if err := tx.DeleteBucket(bucketEntries); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(bucketEntries); err != nil {
				return err
			}
			c.logger.Info().
				Int("old_version", current).
				Int("new_version", version).
				Msg("device key rotated, cached secrets dropped")
		}

		data, err := json.Marshal(version)
		if err != nil {
			return err
		}
		return meta.Put(keyDeviceKeyVersion, data)
	})
}

// Put stores one envelope for a miner. The counter must be strictly
// greater than the stored one and the key version must match the cache's
// pinned device key version. Both checks run inside a single transaction.
func (c *Cache) Put(minerID string, env types.Envelope) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		entries := tx.Bucket(bucketEntries)

		var pinned int
		if data := meta.Get(keyDeviceKeyVersion); data != nil {
			if err := json.Unmarshal(data, &pinned); err != nil {
				return err
			}
		}
		if pinned != 0 && env.KeyVersion != pinned {
			return fmt.Errorf("%w: envelope key_version %d, device key_version %d", ErrKeyVersionMismatch, env.KeyVersion, pinned)
		}

		if data := entries.Get([]byte(minerID)); data != nil {
			var existing Entry
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
			if env.Counter <= existing.Counter {
				return fmt.Errorf("%w: miner %s counter %d <= stored %d", ErrCounterRegression, minerID, env.Counter, existing.Counter)
			}
		}

		entry := Entry{
			MinerID:    minerID,
			Envelope:   env,
			Counter:    env.Counter,
			KeyVersion: env.KeyVersion,
			StoredAt:   time.Now().UTC(),
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return entries.Put([]byte(minerID), data)
	})
}

// Get returns the cached entry for a miner
func (c *Cache) Get(minerID string) (*Entry, error) {
	var entry Entry
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(minerID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, minerID)
		}
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// List returns all cached entries
func (c *Cache) List() ([]*Entry, error) {
	var out []*Entry
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			out = append(out, &entry)
			return nil
		})
	})
	return out, err
}

// MaxCounter returns the highest counter across all cached entries. The
// edge passes it as since_counter on incremental pulls.
func (c *Cache) MaxCounter() (int64, error) {
	var max int64
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.Counter > max {
				max = entry.Counter
			}
			return nil
		})
	})
	return max, err
}

// SinceCounter returns entries whose counter is strictly greater than n
func (c *Cache) SinceCounter(n int64) ([]*Entry, error) {
	all, err := c.List()
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, entry := range all {
		if entry.Counter > n {
			out = append(out, entry)
		}
	}
	return out, nil
}

// Delete removes one entry. Missing entries are not an error.
func (c *Cache) Delete(minerID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Delete([]byte(minerID))
	})
}
