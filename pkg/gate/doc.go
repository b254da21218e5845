/*
Package gate decides whether an edge device may read miner secrets.

Evaluate runs the four checks in order and stops at the first failure:
device active, miner capability at CONTROL, bound device match, key
version match. Denials carry a reason code (CAPABILITY_DENIED,
BOUND_DEVICE_DENIED, DEVICE_REVOKED, KEY_VERSION_MISMATCH) that the API
layer returns and audits. FilterBulk applies the same rules across a
miner list and counts skips per cause, so an edge can distinguish an
empty entitlement from a filtered one.

The package is pure: no storage, no clock, no I/O.
*/
package gate
