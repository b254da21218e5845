package cgminer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseReply decodes a miner reply with three stages of quirk handling.
// Real firmwares emit trailing NULs, concatenated objects without commas,
// and occasionally truncated JSON with unbalanced braces.
func parseReply(raw []byte) (map[string]interface{}, error) {
	s := strings.TrimRight(strings.TrimSpace(string(raw)), "\x00")
	if s == "" {
		return nil, fmt.Errorf("empty reply")
	}

	// Stage 1: direct parse
	if m, err := tryParse(s); err == nil {
		return m, nil
	}

	// Stage 2: insert commas between adjacent objects/arrays
	repaired := strings.ReplaceAll(s, "}{", "},{")
	repaired = strings.ReplaceAll(repaired, "][", "],[")
	if m, err := tryParse(repaired); err == nil {
		return m, nil
	}

	// Stage 3: close unbalanced braces/brackets
	balanced := balance(repaired)
	if m, err := tryParse(balanced); err == nil {
		return m, nil
	}

	return nil, fmt.Errorf("reply is not valid JSON after quirk repair")
}

func tryParse(s string) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// balance appends the closing braces/brackets a truncated reply is missing
func balance(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				stack = append(stack, c)
			}
		case '}', ']':
			if !inString && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// IsSuccess reports whether a reply's STATUS[0].STATUS is S or I
func IsSuccess(reply map[string]interface{}) bool {
	status := statusField(reply, "STATUS")
	return status == "S" || status == "I"
}

// ReplyMsg extracts STATUS[0].Msg, the miner's human-readable result
func ReplyMsg(reply map[string]interface{}) string {
	return statusField(reply, "Msg")
}

func statusField(reply map[string]interface{}, field string) string {
	arr, ok := reply["STATUS"].([]interface{})
	if !ok || len(arr) == 0 {
		return ""
	}
	first, ok := arr[0].(map[string]interface{})
	if !ok {
		return ""
	}
	s, _ := first[field].(string)
	return s
}

// Section returns the named reply section (e.g. "SUMMARY", "POOLS") as a
// slice of objects, or nil when absent
func Section(reply map[string]interface{}, name string) []map[string]interface{} {
	arr, ok := reply[name].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}
