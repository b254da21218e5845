/*
Package adapter provides a uniform capability surface over heterogeneous
miner firmwares.

An Adapter executes one typed command (reboot, power_mode, change_pool,
set_freq, thermal_policy, led) against one miner and returns a Result with
success, message, and optional metrics. Adapters never return Go errors or
panic: unknown command types and network failures alike become unsuccessful
Results, so the edge executor can report every target without special cases.

CGMinerAdapter maps command types onto control API calls (power_mode
high/normal/eco becomes ascset 0,freq,700/600/500; change_pool is addpool,
pool-id lookup by URL substring, switchpool; reboot soft/hard is
restart/quit). A best-effort metrics snapshot precedes any mutation.

SimulatedAdapter keeps a locked in-memory miner state with configurable
latency and failure injection for development and tests. Its output shape
is identical to the real adapter.
*/
package adapter
