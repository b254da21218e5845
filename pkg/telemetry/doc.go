/*
Package telemetry is the cloud's four-layer miner telemetry store.

Layers, all in one bbolt database with big-endian time-prefixed keys:

  - raw_24h: append-only normalized readings, pruned past 24 hours
  - live: exactly one row per miner, upserted by the minute job from the
    newest raw row within the last 5 minutes
  - history_5min: per-(bucket, site, miner) aggregates computed by the
    5-minute job over the immediately preceding closed bucket; inserts
    are idempotent so reruns write nothing
  - daily: per-day rollups of 5-minute rows, retained 365 days

Jobs runs the minute, 5-minute, daily, and retention loops; each layer
has a single writer. Reader serves live, history, and site summaries;
history auto-selects resolution by window span (over 60 days reads daily,
over 2 days groups 5-minute buckets by hour) and every response carries
{source, resolution, start, end} so callers can verify which layer
answered. Liveness is derived at read time: a live row whose last_seen is
stale reads as offline.
*/
package telemetry
