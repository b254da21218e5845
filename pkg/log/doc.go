/*
Package log provides structured logging for foreman using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	edgeLog := log.WithComponent("edge")
	edgeLog.Info().Str("command_id", id).Msg("command executed")

Context helpers add device_id, site_id, miner_id, or scan_job_id fields so
fleet operations can be traced across the cloud and edge halves of the system.

Secrets, passphrases, and device tokens must never be logged; audit-side
redaction (pkg/audit) is a second line of defense, not a license to log them.
*/
package log
