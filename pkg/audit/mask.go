package audit

import (
	"regexp"
	"strings"

	"github.com/hashpath/foreman/pkg/types"
)

// sensitiveKey matches event_data keys whose values must never be shown
var sensitiveKey = regexp.MustCompile(`(?i)password|secret|token|credential|key|private`)

// Redacted replaces sensitive event_data values on read
const Redacted = "[REDACTED]"

// maxErrorLen bounds error messages on the read side
const maxErrorLen = 200

// Mask returns a read-safe copy of an event: IP octets 3 and 4 become
// x.x, event_data values under sensitive keys are redacted, and error
// messages are truncated
func Mask(event types.AuditEvent) types.AuditEvent {
	event.IP = MaskIP(event.IP)

	if len(event.Data) > 0 {
		masked := make(map[string]string, len(event.Data))
		for k, v := range event.Data {
			if sensitiveKey.MatchString(k) {
				masked[k] = Redacted
			} else {
				masked[k] = v
			}
		}
		event.Data = masked
	}

	if len(event.ErrorMessage) > maxErrorLen {
		event.ErrorMessage = event.ErrorMessage[:maxErrorLen] + "..."
	}
	return event
}

// MaskIP hides the host half of a dotted-quad address. Non-IPv4 strings
// pass through unchanged.
func MaskIP(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}
	return parts[0] + "." + parts[1] + ".x.x"
}
