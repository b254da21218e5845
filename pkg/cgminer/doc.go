/*
Package cgminer implements the JSON-over-TCP client for the ASIC control API.

The protocol (commonly called the CGMiner API) is a request/response exchange
on port 4028: the client sends {"command": ..., "parameter": ...} and the
miner replies with a JSON document terminated by peer close or a NUL byte.
Firmware forks diverge in small, maddening ways, so the client repairs the
usual quirks (trailing NULs, missing commas between adjacent objects,
truncated braces) before giving up with a parse error.

# Contract

One Call per (host, command); the result is either a parsed reply or an
*Error tagged timeout, connection, dns, parse, or unknown. Transport errors
are retried with exponential backoff plus host-hashed jitter, up to five
attempts; validation and parse failures are returned immediately. Replies
are capped at 1 MiB.

Hosts are validated as dotted-quad IPv4 or RFC 1123 hostnames before any
network activity. Commands must be on the read-only whitelist; control
commands (restart, addpool, fanctrl, ...) require a client constructed with
AllowControl, which the edge runtime ties to its execution-enabled switch.

# Normalization

NormalizeTelemetry turns summary/stats/pools replies into a
types.RawReading. Vendor JSON never escapes this package.
*/
package cgminer
