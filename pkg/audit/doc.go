/*
Package audit is the append-only event log for every privileged
control-plane action.

Events are stored under a monotonic sequence number; nothing updates or
deletes them. Device registration, revocation, and key rotation, secret
lifecycle and pulls, capability and IP-mode changes, IP reveals, scan job
transitions, and the full command queue/pull/ack cycle all land here.

Reads always pass through Mask: client IP octets 3 and 4 become x.x,
event_data values under keys matching password, secret, token,
credential, key, or private are replaced with [REDACTED], and error
messages are truncated. The stored entries keep full fidelity; only the
read side is masked.
*/
package audit
