/*
Package edge is the on-site device runtime.

The Runner supervises four loops against the cloud API: heartbeat,
incremental secret pull (by counter high-water mark, stored in the
secretcache), command poll/execute/ack, and telemetry collection for every
known miner. Loops share one stop channel and never crash on a per-miner
failure.

Command execution is exactly-once from the device's point of view: a
persistent dedup ledger (.edge_executed_commands.json, capped at the 1000
newest ids) is checked before execution and written only after the
acknowledgement returns 2xx. A command redelivered after a crash between
execute and ack is skipped without a second execution and without a
second ack.

Credentials travel as sealed envelopes and are decrypted with the device
private key only for the moment an adapter is constructed; the plaintext
buffer is zeroed afterwards.
*/
package edge
