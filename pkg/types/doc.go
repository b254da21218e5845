/*
Package types defines the core data structures used throughout foreman.

This package contains all fundamental types of the fleet control plane's
domain model: edge devices, hosting miners, encrypted secret envelopes,
scan jobs, telemetry layers, command records, and audit events. These types
are used by all other packages for state management, API communication,
and edge execution.

# Core Types

Fleet topology:
  - EdgeDevice: per-site collector identity with X25519 public key and key version
  - HostingMiner: a single ASIC miner with capability level and device binding
  - CapabilityLevel: DISCOVERY(1) < TELEMETRY(2) < CONTROL(3)

Secret distribution:
  - Envelope: on-wire encrypted secret record (sealed-box DEK + AES-GCM payload)
  - MinerSecret: stored ciphertext per (miner, device) pair with anti-rollback counter
  - PassphraseBlock: PBKDF2-derived site-master-passphrase encryption

Discovery:
  - IPScanJob: async range scan with atomic progress
  - DiscoveredMiner: one probe hit, importable exactly once

Telemetry:
  - RawReading: the normalized sample (24 h retention)
  - LiveRow: current snapshot, one per miner
  - Bucket5m / DailyRow: cooked aggregates (90 d / 365 d retention)

Control:
  - CommandRecord: queued -> pulled -> succeeded|failed|partial
  - CommandResult: per-target outcome reported in the ACK

Auditing:
  - AuditEvent: append-only record of every privileged operation

# Design Patterns

All enums use typed string (or small int) constants. Entities are flat and
keyed by ids; relationships are navigated via lookups, never object graphs.
Everything is JSON-serializable: bbolt stores these structs as JSON and the
HTTP API transports them unchanged.

Types in this package are read-safe for concurrent use; mutations must be
synchronized by callers (the storage layers own that synchronization).
*/
package types
