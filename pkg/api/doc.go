/*
Package api is the cloud's HTTP surface.

Edges authenticate with a bearer device token; the token is hashed for
lookup and never logged. Endpoints cover device registration (the one
place the plaintext token appears), pubkey lookup, heartbeats, bulk and
single secret pulls, command poll and acknowledgement, scan job
reporting, raw telemetry ingestion, and the telemetry read surface.

Error bodies are JSON {"error": ...}. A capability denial on a single
secret pull returns 403 with required_level and miner_level so the edge
can tell policy from absence. Request counts and latencies feed the
Prometheus registry; GET /metrics serves it and GET /healthz answers
liveness probes.
*/
package api
