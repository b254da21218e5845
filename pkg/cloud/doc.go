/*
Package cloud is the control-plane manager: device registry, miner
registry, secret distribution, command queue, and scan job bookkeeping.

Everything persists in one bbolt database. The Manager layers policy on
top of the Store and audits every privileged action.

Devices register with a one-time bearer token; only its SHA-256 is kept.
Key rotation bumps key_version and drops the device's stored secrets,
since envelopes sealed to the old keypair are unopenable.

Secret uploads enforce two invariants inside a single transaction: the
per-(miner, device) counter must strictly increase, and the envelope's
key version must match the device's current one. Reads pass the
capability gate; denials carry a reason code and an audit entry.

Miner addresses follow the ip_encryption_mode: MASK stores plaintext,
SERVER_ENCRYPT stores a site-passphrase block, E2EE stores only the
pending marker and reveal is always denied because the cloud never holds
anything it can decrypt.

Commands move queued -> pulled -> succeeded | failed | partial; exactly
one ACK lands, with the terminal state decided by the per-target result
mix. Scan jobs move pending -> running -> completed | failed, with
running -> cancelled, and discoveries are unique per (job, ip).
*/
package cloud
