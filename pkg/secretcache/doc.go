/*
Package secretcache is the edge device's local store of encrypted miner
credentials.

Entries are ciphertext envelopes keyed by miner id; the cache never holds
plaintext. Two invariants are enforced inside a single transaction on
every Put: the entry counter must strictly increase per miner (stale or
replayed envelopes are rejected with ErrCounterRegression), and the
envelope's key version must match the device key version the cache is
pinned to (ErrKeyVersionMismatch otherwise). Raising the pinned key
version drops every cached entry, since envelopes sealed to the previous
keypair are unopenable after rotation.

MaxCounter and SinceCounter support incremental pulls: the edge sends its
highest seen counter and stores only what the cloud returns above it.
*/
package secretcache
