package cloud

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hashpath/foreman/pkg/types"
)

var (
	bucketDevices    = []byte("devices")
	bucketTokens     = []byte("device_tokens") // token hash -> device id
	bucketMiners     = []byte("miners")
	bucketSecrets    = []byte("secrets") // miner_id|device_id -> MinerSecret
	bucketCommands   = []byte("commands")
	bucketCmdOrder   = []byte("command_order") // seq -> command id
	bucketScans      = []byte("scan_jobs")
	bucketDiscovered = []byte("discovered") // scan_id|ip -> DiscoveredMiner
)

var (
	// ErrNotFound covers all missing-entity lookups
	ErrNotFound = errors.New("not found")

	// ErrCounterRegression is returned when a secret upload does not
	// strictly advance the stored counter
	ErrCounterRegression = errors.New("secret counter regression")

	// ErrKeyVersionMismatch is returned when a secret upload targets a
	// key version other than the device's current one
	ErrKeyVersionMismatch = errors.New("secret key version mismatch")
)

// Store is the cloud's bbolt-backed registry of devices, miners, secrets,
// commands, and scan jobs
type Store struct {
	db *bolt.DB
}

// OpenStore creates or reopens the cloud database under dataDir
func OpenStore(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "cloud.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketDevices,
			bucketTokens,
			bucketMiners,
			bucketSecrets,
			bucketCommands,
			bucketCmdOrder,
			bucketScans,
			bucketDiscovered,
		}
		for _, bucket := range buckets {
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

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func put(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), data)
}

func get(tx *bolt.Tx, bucket []byte, key string, v interface{}) error {
	data := tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return json.Unmarshal(data, v)
}

// Device operations

func (s *Store) CreateDevice(device *types.EdgeDevice) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := put(tx, bucketDevices, device.ID, device); err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Put([]byte(device.TokenHash), []byte(device.ID))
	})
}

func (s *Store) GetDevice(id string) (*types.EdgeDevice, error) {
	var device types.EdgeDevice
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketDevices, id, &device)
	})
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// GetDeviceByTokenHash resolves the bearer token index
func (s *Store) GetDeviceByTokenHash(tokenHash string) (*types.EdgeDevice, error) {
	var device types.EdgeDevice
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketTokens).Get([]byte(tokenHash))
		if id == nil {
			return fmt.Errorf("%w: token", ErrNotFound)
		}
		return get(tx, bucketDevices, string(id), &device)
	})
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (s *Store) UpdateDevice(device *types.EdgeDevice) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketDevices, device.ID, device)
	})
}

func (s *Store) ListDevices(tenantID string) ([]*types.EdgeDevice, error) {
	var out []*types.EdgeDevice
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(k, v []byte) error {
			var device types.EdgeDevice
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			if tenantID == "" || device.TenantID == tenantID {
				out = append(out, &device)
			}
			return nil
		})
	})
	return out, err
}

// Miner operations

func (s *Store) CreateMiner(miner *types.HostingMiner) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketMiners, miner.ID, miner)
	})
}

func (s *Store) GetMiner(id string) (*types.HostingMiner, error) {
	var miner types.HostingMiner
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketMiners, id, &miner)
	})
	if err != nil {
		return nil, err
	}
	return &miner, nil
}

func (s *Store) UpdateMiner(miner *types.HostingMiner) error {
	return s.CreateMiner(miner)
}

func (s *Store) ListMinersBySite(siteID string) ([]*types.HostingMiner, error) {
	var out []*types.HostingMiner
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMiners).ForEach(func(k, v []byte) error {
			var miner types.HostingMiner
			if err := json.Unmarshal(v, &miner); err != nil {
				return err
			}
			if siteID == "" || miner.SiteID == siteID {
				out = append(out, &miner)
			}
			return nil
		})
	})
	return out, err
}

// Secret operations

func secretKey(minerID, deviceID string) string {
	return minerID + "|" + deviceID
}

// PutSecret stores an envelope for (miner, device). The counter check and
// the write happen in one transaction: the new counter must strictly
// exceed the stored one, and the envelope's key version must equal the
// device's current key version.
func (s *Store) PutSecret(secret *types.MinerSecret) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var device types.EdgeDevice
		if err := get(tx, bucketDevices, secret.DeviceID, &device); err != nil {
			return err
		}
		if secret.Envelope.KeyVersion != device.KeyVersion {
			return fmt.Errorf("%w: envelope key_version %d, device key_version %d",
				ErrKeyVersionMismatch, secret.Envelope.KeyVersion, device.KeyVersion)
		}

		key := secretKey(secret.MinerID, secret.DeviceID)
		if data := tx.Bucket(bucketSecrets).Get([]byte(key)); data != nil {
			var existing types.MinerSecret
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
			if secret.Envelope.Counter <= existing.Envelope.Counter {
				return fmt.Errorf("%w: counter %d <= stored %d",
					ErrCounterRegression, secret.Envelope.Counter, existing.Envelope.Counter)
			}
		}

		secret.UpdatedAt = time.Now().UTC()
		return put(tx, bucketSecrets, key, secret)
	})
}

func (s *Store) GetSecret(minerID, deviceID string) (*types.MinerSecret, error) {
	var secret types.MinerSecret
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketSecrets, secretKey(minerID, deviceID), &secret)
	})
	if err != nil {
		return nil, err
	}
	return &secret, nil
}

func (s *Store) DeleteSecret(minerID, deviceID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).Delete([]byte(secretKey(minerID, deviceID)))
	})
}

// ListSecretsByDevice returns every stored secret addressed to a device
func (s *Store) ListSecretsByDevice(deviceID string) ([]*types.MinerSecret, error) {
	var out []*types.MinerSecret
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSecrets).ForEach(func(k, v []byte) error {
			var secret types.MinerSecret
			if err := json.Unmarshal(v, &secret); err != nil {
				return err
			}
			if secret.DeviceID == deviceID {
				out = append(out, &secret)
			}
			return nil
		})
	})
	return out, err
}

// DeleteSecretsByDevice removes every secret addressed to a device.
// Called on key rotation: envelopes sealed to the old key are unusable.
func (s *Store) DeleteSecretsByDevice(deviceID string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var secret types.MinerSecret
			if err := json.Unmarshal(v, &secret); err != nil {
				return err
			}
			if secret.DeviceID == deviceID {
				if err := c.Delete(); err != nil {
					return err
				}
				deleted++
			}
		}
		return nil
	})
	return deleted, err
}

// Command operations

// CreateCommand persists a command and appends it to the pull order
func (s *Store) CreateCommand(cmd *types.CommandRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := put(tx, bucketCommands, cmd.ID, cmd); err != nil {
			return err
		}
		order := tx.Bucket(bucketCmdOrder)
		seq, err := order.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return order.Put(key, []byte(cmd.ID))
	})
}

func (s *Store) GetCommand(id string) (*types.CommandRecord, error) {
	var cmd types.CommandRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketCommands, id, &cmd)
	})
	if err != nil {
		return nil, err
	}
	return &cmd, nil
}

func (s *Store) UpdateCommand(cmd *types.CommandRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketCommands, cmd.ID, cmd)
	})
}

// PullCommands returns up to limit queued commands for (site, device) in
// creation order, flipping each to pulled inside the same transaction
func (s *Store) PullCommands(siteID, deviceID string, limit int) ([]*types.CommandRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []*types.CommandRecord
	err := s.db.Update(func(tx *bolt.Tx) error {
		commands := tx.Bucket(bucketCommands)
		return tx.Bucket(bucketCmdOrder).ForEach(func(k, v []byte) error {
			if len(out) >= limit {
				return nil
			}
			data := commands.Get(v)
			if data == nil {
				return nil
			}
			var cmd types.CommandRecord
			if err := json.Unmarshal(data, &cmd); err != nil {
				return err
			}
			if cmd.Status != types.CommandQueued || cmd.SiteID != siteID || cmd.DeviceID != deviceID {
				return nil
			}
			cmd.Status = types.CommandPulled
			cmd.PulledAt = time.Now().UTC()
			if err := put(tx, bucketCommands, cmd.ID, &cmd); err != nil {
				return err
			}
			out = append(out, &cmd)
			return nil
		})
	})
	return out, err
}

// Scan job operations

func (s *Store) CreateScanJob(job *types.IPScanJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx, bucketScans, job.ID, job)
	})
}

func (s *Store) GetScanJob(id string) (*types.IPScanJob, error) {
	var job types.IPScanJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx, bucketScans, id, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) UpdateScanJob(job *types.IPScanJob) error {
	return s.CreateScanJob(job)
}

func (s *Store) DeleteScanJob(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketScans).Delete([]byte(id)); err != nil {
			return err
		}
		// drop the job's discoveries too
		c := tx.Bucket(bucketDiscovered).Cursor()
		prefix := []byte(id + "|")
		for k, _ := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddDiscovered inserts one discovery, keeping (scan_job_id, ip) unique.
// A duplicate insert is a no-op and reports false.
func (s *Store) AddDiscovered(m *types.DiscoveredMiner) (bool, error) {
	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDiscovered)
		key := []byte(m.ScanJobID + "|" + m.IPAddress)
		if b.Get(key) != nil {
			return nil
		}
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		inserted = true
		return b.Put(key, data)
	})
	return inserted, err
}

func (s *Store) ListDiscovered(scanJobID string) ([]*types.DiscoveredMiner, error) {
	var out []*types.DiscoveredMiner
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDiscovered).Cursor()
		prefix := []byte(scanJobID + "|")
		for k, v := c.Seek(prefix); k != nil && len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix); k, v = c.Next() {
			var m types.DiscoveredMiner
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, &m)
		}
		return nil
	})
	return out, err
}

// MarkImported flips a discovery's is_imported once. A second call with a
// different miner id fails.
func (s *Store) MarkImported(scanJobID, ip, minerID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDiscovered)
		key := []byte(scanJobID + "|" + ip)
		data := b.Get(key)
		if data == nil {
			return fmt.Errorf("%w: discovery %s", ErrNotFound, ip)
		}
		var m types.DiscoveredMiner
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		if m.IsImported {
			return fmt.Errorf("discovery %s already imported as %s", ip, m.ImportedMinerID)
		}
		m.IsImported = true
		m.ImportedMinerID = minerID
		out, err := json.Marshal(&m)
		if err != nil {
			return err
		}
		return b.Put(key, out)
	})
}
