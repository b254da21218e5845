/*
Package envelope implements the hybrid encryption that moves per-miner
credentials from the cloud to exactly one edge device.

# Device path

Each secret gets a fresh 32-byte DEK. The payload is AES-256-GCM under the
DEK with a 12-byte random nonce; the structured AAD (schema_version,
key_version, created_at, optional miner_id) is serialized canonically
(sorted keys, no whitespace) and authenticated into the GCM tag. The DEK is
sealed to the device's X25519 public key as an anonymous-sender sealed box
(ephemeral key pair, nonce = BLAKE2b-24(epk || rpk)), so the cloud can
produce envelopes it cannot itself open once the DEK is zeroed.

Tampering with any byte of payload, nonce, wrapped DEK, or AAD yields
ErrAuthFailure. Rotating the device key makes every envelope wrapped for the
old key unopenable at the sealed-box stage.

# Passphrase path

Operator-originated encryption uses AES-256-GCM with a key derived by
PBKDF2-HMAC-SHA256 over the site master passphrase (100,000 iterations,
per-block salt). Blocks carry algo and version fields that are validated
strictly before key derivation.

Derived keys, DEKs, and ephemeral private keys are zeroed after use on a
best-effort basis; passphrases never leave process memory and are never
logged.
*/
package envelope
