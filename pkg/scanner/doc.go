/*
Package scanner discovers miners on IPv4 ranges.

ExpandRange accepts "start-end" or CIDR notation and refuses ranges past
the caller's cap (10,000 for explicit ranges, 65,536 for CIDR). A Scanner
probes every host with a bounded worker pool (at most 50), asking the
control port for its version with a short timeout and optionally
fingerprinting the web console ports {80, 443, 8080}. Any host that
answers the control port is reported; the firmware string is matched
against a fixed family dictionary (Antminer, Whatsminer, Avalon, Braiins,
Vnish, LuxOS) and falls back to UNKNOWN.

Progress counters are atomic so job status can be polled mid-scan, and
Cancel stops work at the next worker boundary without interrupting
in-flight probes.
*/
package scanner
