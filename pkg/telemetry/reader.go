package telemetry

import (
	"fmt"
	"time"

	"github.com/hashpath/foreman/pkg/types"
)

// Resolution names the granularity of a history response
type Resolution string

const (
	ResolutionAuto   Resolution = "auto"
	Resolution5Min   Resolution = "5min"
	ResolutionHourly Resolution = "hourly"
	ResolutionDaily  Resolution = "daily"
)

// Meta stamps every read response with its layer provenance
type Meta struct {
	Source     string     `json:"source"`
	Resolution Resolution `json:"resolution"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
}

// LiveResponse is the current fleet snapshot
type LiveResponse struct {
	Meta   Meta            `json:"meta"`
	Miners []types.LiveRow `json:"miners"`
}

// HistoryResponse carries aggregates at the selected resolution
type HistoryResponse struct {
	Meta    Meta             `json:"meta"`
	Buckets []types.Bucket5m `json:"buckets,omitempty"`
	Days    []types.DailyRow `json:"days,omitempty"`
}

// SiteSummary is a fleet-level rollup of the live layer
type SiteSummary struct {
	Meta             Meta    `json:"meta"`
	SiteID           string  `json:"site_id"`
	MinersTotal      int     `json:"miners_total"`
	MinersOnline     int     `json:"miners_online"`
	TotalHashrateTHS float64 `json:"total_hashrate_ths"`
	AvgTemperatureC  float64 `json:"avg_temperature_c"`
	TotalPowerW      float64 `json:"total_power_w"`
}

// Reader is the unified read surface over the four layers
type Reader struct {
	store *Store

	// now is swappable in tests
	now func() time.Time
}

// NewReader creates a reader over a store
func NewReader(store *Store) *Reader {
	return &Reader{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Live returns the current per-miner snapshot. A miner whose last_seen is
// older than the live window reads as offline regardless of the stored
// status.
func (r *Reader) Live(siteID string) (*LiveResponse, error) {
	rows, err := r.store.liveRows(siteID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	for i := range rows {
		if now.Sub(rows[i].LastSeen) > LiveWindow {
			rows[i].Status = types.MinerOffline
		}
	}

	return &LiveResponse{
		Meta: Meta{
			Source:     "live",
			Resolution: Resolution5Min,
			Start:      now.Add(-LiveWindow),
			End:        now,
		},
		Miners: rows,
	}, nil
}

// SelectResolution picks the coarsest layer that still covers the window:
// spans over 60 days read daily rows, over 2 days read hourly groupings
// of 5-minute buckets, anything shorter reads raw 5-minute buckets.
func SelectResolution(start, end time.Time) Resolution {
	span := end.Sub(start)
	switch {
	case span > 60*24*time.Hour:
		return ResolutionDaily
	case span > 2*24*time.Hour:
		return ResolutionHourly
	default:
		return Resolution5Min
	}
}

// History returns aggregates for a site over [start, end). Resolution
// "auto" picks by window span.
func (r *Reader) History(siteID string, start, end time.Time, resolution Resolution) (*HistoryResponse, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("history window: end %s not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if resolution == "" || resolution == ResolutionAuto {
		resolution = SelectResolution(start, end)
	}

	switch resolution {
	case ResolutionDaily:
		days, err := r.store.rangeDaily(siteID, start, end)
		if err != nil {
			return nil, err
		}
		return &HistoryResponse{
			Meta: Meta{Source: "daily", Resolution: ResolutionDaily, Start: start, End: end},
			Days: days,
		}, nil

	case ResolutionHourly:
		buckets, err := r.store.range5m(siteID, start, end)
		if err != nil {
			return nil, err
		}
		return &HistoryResponse{
			Meta:    Meta{Source: "history_5min", Resolution: ResolutionHourly, Start: start, End: end},
			Buckets: groupHourly(buckets),
		}, nil

	case Resolution5Min:
		buckets, err := r.store.range5m(siteID, start, end)
		if err != nil {
			return nil, err
		}
		return &HistoryResponse{
			Meta:    Meta{Source: "history_5min", Resolution: Resolution5Min, Start: start, End: end},
			Buckets: buckets,
		}, nil

	default:
		return nil, fmt.Errorf("unknown resolution %q", resolution)
	}
}

// groupHourly merges 5-minute buckets into hour buckets per (site, miner),
// weighting averages by sample count
func groupHourly(buckets []types.Bucket5m) []types.Bucket5m {
	type groupKey struct {
		hour    int64
		siteID  string
		minerID string
	}
	groups := map[groupKey][]types.Bucket5m{}
	var order []groupKey
	for _, b := range buckets {
		k := groupKey{
			hour:    b.BucketTS.Truncate(time.Hour).Unix(),
			siteID:  b.SiteID,
			minerID: b.MinerID,
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], b)
	}

	out := make([]types.Bucket5m, 0, len(order))
	for _, k := range order {
		members := groups[k]
		merged := types.Bucket5m{
			BucketTS: time.Unix(k.hour, 0).UTC(),
			SiteID:   k.siteID,
			MinerID:  k.minerID,
		}
		merged.MinHashrateTHS = members[0].MinHashrateTHS
		var sumHash, sumTemp, sumPower, sumFan, sumOnline float64
		total := 0
		for _, b := range members {
			w := float64(b.Samples)
			sumHash += b.AvgHashrateTHS * w
			sumTemp += b.AvgTempC * w
			sumPower += b.AvgPowerW * w
			sumFan += b.AvgFanRPM * w
			sumOnline += b.OnlineRatio * w
			total += b.Samples
			if b.MaxHashrateTHS > merged.MaxHashrateTHS {
				merged.MaxHashrateTHS = b.MaxHashrateTHS
			}
			if b.MinHashrateTHS < merged.MinHashrateTHS {
				merged.MinHashrateTHS = b.MinHashrateTHS
			}
			if b.MaxTempC > merged.MaxTempC {
				merged.MaxTempC = b.MaxTempC
			}
		}
		if total > 0 {
			n := float64(total)
			merged.AvgHashrateTHS = sumHash / n
			merged.AvgTempC = sumTemp / n
			merged.AvgPowerW = sumPower / n
			merged.AvgFanRPM = sumFan / n
			merged.OnlineRatio = sumOnline / n
		}
		merged.Samples = total
		out = append(out, merged)
	}
	return out
}

// Summary rolls the live layer up to one record per site
func (r *Reader) Summary(siteID string) (*SiteSummary, error) {
	live, err := r.Live(siteID)
	if err != nil {
		return nil, err
	}

	sum := &SiteSummary{Meta: live.Meta, SiteID: siteID}
	sum.Meta.Source = "site_summary"

	var sumTemp float64
	for _, m := range live.Miners {
		sum.MinersTotal++
		if m.Status == types.MinerOnline {
			sum.MinersOnline++
			sum.TotalHashrateTHS += m.HashrateTHS
			sum.TotalPowerW += m.PowerW
		}
		sumTemp += m.TemperatureC
	}
	if sum.MinersTotal > 0 {
		sum.AvgTemperatureC = sumTemp / float64(sum.MinersTotal)
	}
	return sum, nil
}
