package audit

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"

	"github.com/hashpath/foreman/pkg/log"
	"github.com/hashpath/foreman/pkg/types"
)

var bucketEvents = []byte("events")

// Event type names recorded by the control plane
const (
	EventDeviceRegister   = "device.register"
	EventDeviceRevoke     = "device.revoke"
	EventDeviceKeyRotate  = "device.key_rotate"
	EventSecretCreate     = "secret.create"
	EventSecretUpdate     = "secret.update"
	EventSecretPull       = "secret.pull"
	EventSecretPullBulk   = "secret.pull_bulk"
	EventSecretDelete     = "secret.delete"
	EventCapabilityUpdate = "miner.capability_update"
	EventIPModeChange     = "miner.ip_mode_change"
	EventIPReveal         = "miner.ip_reveal"
	EventScanCreate       = "scan.create"
	EventScanStart        = "scan.start"
	EventScanProgress     = "scan.progress"
	EventScanComplete     = "scan.complete"
	EventScanDelete       = "scan.delete"
	EventCommandQueue     = "command.queue"
	EventCommandPull      = "command.pull"
	EventCommandAck       = "command.ack"
)

// Log is an append-only audit event store. Events are keyed by a
// monotonic sequence number; there is no update or delete path.
type Log struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// Open creates or reopens the audit log under dataDir
func Open(dataDir string) (*Log, error) {
	dbPath := filepath.Join(dataDir, "audit.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEvents)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Log{db: db, logger: log.WithComponent("audit")}, nil
}

// Close closes the underlying database
func (l *Log) Close() error {
	return l.db.Close()
}

// Append records one event. ID, Seq, and CreatedAt are filled in here.
func (l *Log) Append(event types.AuditEvent) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		event.Seq = seq
		if event.ID == "" {
			event.ID = uuid.New().String()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = time.Now().UTC()
		}
		if event.Result == "" {
			event.Result = types.AuditSuccess
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, data)
	})
}

// Query filters read-side listing
type Query struct {
	TenantID string
	DeviceID string
	MinerID  string
	Type     string
	AfterSeq uint64
	Limit    int
}

// List returns masked events in sequence order. Raw stored entries are
// never handed out: IPs, sensitive payload keys, and long error messages
// are masked on every read.
func (l *Log) List(q Query) ([]types.AuditEvent, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	var out []types.AuditEvent
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()

		start := make([]byte, 8)
		binary.BigEndian.PutUint64(start, q.AfterSeq+1)

		for k, v := c.Seek(start); k != nil && len(out) < q.Limit; k, v = c.Next() {
			var event types.AuditEvent
			if err := json.Unmarshal(v, &event); err != nil {
				return err
			}
			if q.TenantID != "" && event.TenantID != q.TenantID {
				continue
			}
			if q.DeviceID != "" && event.DeviceID != q.DeviceID {
				continue
			}
			if q.MinerID != "" && event.MinerID != q.MinerID {
				continue
			}
			if q.Type != "" && event.Type != q.Type {
				continue
			}
			out = append(out, Mask(event))
		}
		return nil
	})
	return out, err
}
