package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/hashpath/foreman/pkg/log"
	"github.com/hashpath/foreman/pkg/types"
)

var (
	bucketRaw   = []byte("raw_24h")
	bucketLive  = []byte("live")
	bucket5min  = []byte("history_5min")
	bucketDaily = []byte("daily")
)

// Retention windows per layer
const (
	RawRetention     = 24 * time.Hour
	FiveMinRetention = 90 * 24 * time.Hour
	DailyRetention   = 365 * 24 * time.Hour

	// LiveWindow is how far back the minute job looks for the newest raw
	// row per miner
	LiveWindow = 5 * time.Minute
)

// Store is the four-layer telemetry database. Raw rows are append-only
// with time-prefixed keys; live holds exactly one row per miner; 5-minute
// and daily rows are written once per (bucket, site, miner) by the
// promotion jobs.
type Store struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// Open creates or reopens the telemetry store under dataDir
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "telemetry.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRaw, bucketLive, bucket5min, bucketDaily} {
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

	return &Store{db: db, logger: log.WithComponent("telemetry")}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// timeKey builds a key sortable by timestamp first: 8 big-endian bytes of
// unix nanos, then site and miner ids
func timeKey(ts time.Time, siteID, minerID string) []byte {
	key := make([]byte, 8, 8+len(siteID)+1+len(minerID))
	binary.BigEndian.PutUint64(key, uint64(ts.UnixNano()))
	key = append(key, siteID...)
	key = append(key, '|')
	key = append(key, minerID...)
	return key
}

func timePrefix(ts time.Time) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(ts.UnixNano()))
	return key
}

// WriteRaw appends one normalized reading to the raw layer
func (s *Store) WriteRaw(r types.RawReading) error {
	if r.TS.IsZero() {
		r.TS = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketRaw).Put(timeKey(r.TS, r.SiteID, r.MinerID), data)
	})
}

// WriteRawBatch appends several readings in one transaction
func (s *Store) WriteRawBatch(rows []types.RawReading) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRaw)
		for _, r := range rows {
			if r.TS.IsZero() {
				r.TS = time.Now().UTC()
			}
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if err := b.Put(timeKey(r.TS, r.SiteID, r.MinerID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// rawRange returns raw rows with start <= ts < end
func (s *Store) rawRange(start, end time.Time) ([]types.RawReading, error) {
	var rows []types.RawReading
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRaw).Cursor()
		min := timePrefix(start)
		max := timePrefix(end)
		for k, v := c.Seek(min); k != nil && compareKey(k, max) < 0; k, v = c.Next() {
			var r types.RawReading
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			rows = append(rows, r)
		}
		return nil
	})
	return rows, err
}

func compareKey(key, prefix []byte) int {
	n := len(prefix)
	if len(key) < n {
		n = len(key)
	}
	for i := 0; i < n; i++ {
		if key[i] != prefix[i] {
			if key[i] < prefix[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// upsertLive replaces the live row for a miner
func (s *Store) upsertLive(row types.LiveRow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketLive).Put([]byte(row.MinerID), data)
	})
}

// liveRows returns every live row, optionally filtered by site
func (s *Store) liveRows(siteID string) ([]types.LiveRow, error) {
	var rows []types.LiveRow
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLive).ForEach(func(k, v []byte) error {
			var row types.LiveRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if siteID == "" || row.SiteID == siteID {
				rows = append(rows, row)
			}
			return nil
		})
	})
	return rows, err
}

// insert5m writes one 5-minute aggregate. Existing keys are left alone so
// a rerun of the same bucket is a no-op.
func (s *Store) insert5m(row types.Bucket5m) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket5min)
		key := timeKey(row.BucketTS, row.SiteID, row.MinerID)
		if b.Get(key) != nil {
			return nil
		}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// range5m returns 5-minute rows for a site with start <= bucket_ts < end
func (s *Store) range5m(siteID string, start, end time.Time) ([]types.Bucket5m, error) {
	var rows []types.Bucket5m
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket5min).Cursor()
		min := timePrefix(start)
		max := timePrefix(end)
		for k, v := c.Seek(min); k != nil && compareKey(k, max) < 0; k, v = c.Next() {
			var row types.Bucket5m
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if siteID == "" || row.SiteID == siteID {
				rows = append(rows, row)
			}
		}
		return nil
	})
	return rows, err
}

// insertDaily writes one day row, idempotent like insert5m
func (s *Store) insertDaily(row types.DailyRow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDaily)
		key := timeKey(row.Day, row.SiteID, row.MinerID)
		if b.Get(key) != nil {
			return nil
		}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// rangeDaily returns day rows for a site with start <= day < end
func (s *Store) rangeDaily(siteID string, start, end time.Time) ([]types.DailyRow, error) {
	var rows []types.DailyRow
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDaily).Cursor()
		min := timePrefix(start)
		max := timePrefix(end)
		for k, v := c.Seek(min); k != nil && compareKey(k, max) < 0; k, v = c.Next() {
			var row types.DailyRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if siteID == "" || row.SiteID == siteID {
				rows = append(rows, row)
			}
		}
		return nil
	})
	return rows, err
}

// pruneBefore deletes all rows in a time-keyed bucket older than cutoff
func (s *Store) pruneBefore(bucket []byte, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		max := timePrefix(cutoff)
		for k, _ := c.First(); k != nil && compareKey(k, max) < 0; k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
