package cgminer

import (
	"strconv"
	"strings"
	"time"

	"github.com/hashpath/foreman/pkg/types"
)

// NormalizeTelemetry flattens summary/stats/pools replies from heterogeneous
// firmwares into one fixed record. Raw vendor JSON stops here; callers never
// inspect it. Any of the replies may be nil when the corresponding command
// failed, in which case the affected fields stay zero.
func NormalizeTelemetry(summary, stats, pools map[string]interface{}, siteID, minerID string) types.RawReading {
	r := types.RawReading{
		TS:      time.Now().UTC(),
		SiteID:  siteID,
		MinerID: minerID,
		Status:  types.MinerOffline,
	}

	if summary != nil {
		if s := Section(summary, "SUMMARY"); len(s) > 0 {
			r.Status = types.MinerOnline
			r.HashrateTHS = hashrateTHS(s[0])
			r.RejectRate = numField(s[0], "Device Rejected%", "Pool Rejected%") / 100
		}
	}

	if stats != nil {
		for _, s := range Section(stats, "STATS") {
			if t := maxPrefixed(s, "temp"); t > r.TemperatureC {
				r.TemperatureC = t
			}
			if f := int(maxPrefixed(s, "fan")); f > r.FanRPM {
				r.FanRPM = f
			}
			if p := numField(s, "Power", "power", "total_power"); p > r.PowerW {
				r.PowerW = p
			}
		}
	}

	if pools != nil {
		for _, p := range Section(pools, "POOLS") {
			status, _ := p["Status"].(string)
			url, _ := p["URL"].(string)
			if url == "" {
				continue
			}
			if status == "Alive" || r.PoolURL == "" {
				r.PoolURL = url
			}
			if status == "Alive" {
				break
			}
		}
	}

	return r
}

// hashrateTHS finds a hashrate field under any of the common vendor names
// and converts it to TH/s
func hashrateTHS(m map[string]interface{}) float64 {
	for _, key := range []string{"GHS 5s", "GHS av"} {
		if v, ok := numLoose(m[key]); ok && v > 0 {
			return v / 1000
		}
	}
	for _, key := range []string{"MHS 5s", "MHS av"} {
		if v, ok := numLoose(m[key]); ok && v > 0 {
			return v / 1e6
		}
	}
	for _, key := range []string{"HS RT", "THS av"} {
		if v, ok := numLoose(m[key]); ok && v > 0 {
			return v
		}
	}
	return 0
}

// numField returns the first present numeric field among the given keys
func numField(m map[string]interface{}, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := numLoose(m[k]); ok {
			return v
		}
	}
	return 0
}

// maxPrefixed scans keys like temp1/temp2_2/fan3 and returns the maximum
// positive value. Board arrays vary wildly between firmwares.
func maxPrefixed(m map[string]interface{}, prefix string) float64 {
	var max float64
	for k, raw := range m {
		lk := strings.ToLower(k)
		if !strings.HasPrefix(lk, prefix) {
			continue
		}
		rest := lk[len(prefix):]
		if rest != "" && (rest[0] < '0' || rest[0] > '9') {
			continue
		}
		if v, ok := numLoose(raw); ok && v > max {
			max = v
		}
	}
	return max
}

// numLoose coerces the numeric encodings seen in the wild: float64 from
// JSON, and strings like "75" or "58.2" from older bmminer builds
func numLoose(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
