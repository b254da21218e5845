package edge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DedupFileName is the on-disk executed-command ledger
const DedupFileName = ".edge_executed_commands.json"

// DedupCap bounds the ledger to the newest entries on save
const DedupCap = 1000

// Dedup is the edge's persistent executed-command set. It survives
// restarts so a command re-issued after a lost ACK is never run twice.
type Dedup struct {
	mu       sync.Mutex
	path     string
	executed map[string]time.Time // command id -> executed at
}

// OpenDedup loads the ledger from dataDir, starting empty when the file
// does not exist yet
func OpenDedup(dataDir string) (*Dedup, error) {
	d := &Dedup{
		path:     filepath.Join(dataDir, DedupFileName),
		executed: map[string]time.Time{},
	}

	data, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &d.executed); err != nil {
		// a corrupt ledger is not worth crashing the edge over; start
		// fresh and let re-execution idempotency absorb the repeats
		d.executed = map[string]time.Time{}
	}
	return d, nil
}

// Seen reports whether a command id was already executed
func (d *Dedup) Seen(commandID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.executed[commandID]
	return ok
}

// Len returns the number of remembered command ids
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.executed)
}

// Mark records a command as executed and persists the ledger, trimming
// to the newest DedupCap entries
func (d *Dedup) Mark(commandID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.executed[commandID] = time.Now().UTC()
	d.trimLocked()
	return d.saveLocked()
}

func (d *Dedup) trimLocked() {
	if len(d.executed) <= DedupCap {
		return
	}

	type entry struct {
		id string
		at time.Time
	}
	entries := make([]entry, 0, len(d.executed))
	for id, at := range d.executed {
		entries = append(entries, entry{id, at})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].at.After(entries[j].at)
	})
	for _, e := range entries[DedupCap:] {
		delete(d.executed, e.id)
	}
}

func (d *Dedup) saveLocked() error {
	data, err := json.Marshal(d.executed)
	if err != nil {
		return err
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}
