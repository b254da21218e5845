package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashpath/foreman/pkg/types"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fixedJobs(s *Store, now time.Time) *Jobs {
	j := NewJobs(s)
	j.now = func() time.Time { return now }
	return j
}

func reading(ts time.Time, minerID string, hashrate float64, status types.MinerStatus) types.RawReading {
	return types.RawReading{
		TS:           ts,
		SiteID:       "site-1",
		MinerID:      minerID,
		Status:       status,
		HashrateTHS:  hashrate,
		TemperatureC: 64,
		PowerW:       3250,
		FanRPM:       6000,
		RejectRate:   0.01,
		PoolURL:      "stratum+tcp://pool.example.com:3333",
	}
}

// TestFiveMinuteAggregation inserts five raw rows in one closed bucket
// and checks the aggregate: hashrates {100,110,120,90,100} with four
// online and one offline sample.
func TestFiveMinuteAggregation(t *testing.T) {
	s := newStore(t)

	now := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)
	bucket := now.Add(-10 * time.Minute) // 12:00, the closed bucket

	hashrates := []float64{100, 110, 120, 90, 100}
	statuses := []types.MinerStatus{
		types.MinerOnline, types.MinerOnline, types.MinerOnline, types.MinerOnline, types.MinerOffline,
	}
	for i := range hashrates {
		ts := bucket.Add(time.Duration(i*50) * time.Second)
		require.NoError(t, s.WriteRaw(reading(ts, "M", hashrates[i], statuses[i])))
	}

	j := fixedJobs(s, now)
	require.NoError(t, j.RunFiveMinute())

	rows, err := s.range5m("site-1", bucket, bucket.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	agg := rows[0]
	assert.Equal(t, bucket, agg.BucketTS)
	assert.InDelta(t, 104.0, agg.AvgHashrateTHS, 1e-9)
	assert.Equal(t, 120.0, agg.MaxHashrateTHS)
	assert.Equal(t, 90.0, agg.MinHashrateTHS)
	assert.InDelta(t, 0.8, agg.OnlineRatio, 1e-9)
	assert.Equal(t, 5, agg.Samples)
}

func TestFiveMinuteIdempotent(t *testing.T) {
	s := newStore(t)

	now := time.Date(2025, 6, 1, 12, 10, 0, 0, time.UTC)
	bucket := now.Add(-10 * time.Minute)
	require.NoError(t, s.WriteRaw(reading(bucket, "M", 100, types.MinerOnline)))

	j := fixedJobs(s, now)
	require.NoError(t, j.RunFiveMinute())

	// add a late row to the same closed bucket, then rerun; the existing
	// aggregate must survive untouched
	require.NoError(t, s.WriteRaw(reading(bucket.Add(time.Minute), "M", 999, types.MinerOnline)))
	require.NoError(t, j.RunFiveMinute())

	rows, err := s.range5m("site-1", bucket, bucket.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 100.0, rows[0].AvgHashrateTHS)
	assert.Equal(t, 1, rows[0].Samples)
}

func TestMinuteJobUpsertsLive(t *testing.T) {
	s := newStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.WriteRaw(reading(now.Add(-4*time.Minute), "M1", 95, types.MinerOnline)))
	require.NoError(t, s.WriteRaw(reading(now.Add(-1*time.Minute), "M1", 105, types.MinerOnline)))
	// outside the 5-minute window, must not surface
	require.NoError(t, s.WriteRaw(reading(now.Add(-20*time.Minute), "M2", 80, types.MinerOnline)))

	j := fixedJobs(s, now)
	require.NoError(t, j.RunMinute())

	rows, err := s.liveRows("site-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "M1", rows[0].MinerID)
	assert.Equal(t, 105.0, rows[0].HashrateTHS)
	assert.Equal(t, now.Add(-1*time.Minute), rows[0].LastSeen)
}

func TestLiveReaderDerivesOffline(t *testing.T) {
	s := newStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.upsertLive(types.LiveRow{
		MinerID: "M1", SiteID: "site-1", Status: types.MinerOnline,
		HashrateTHS: 100, LastSeen: now.Add(-2 * time.Minute),
	}))
	require.NoError(t, s.upsertLive(types.LiveRow{
		MinerID: "M2", SiteID: "site-1", Status: types.MinerOnline,
		HashrateTHS: 100, LastSeen: now.Add(-30 * time.Minute),
	}))

	r := NewReader(s)
	r.now = func() time.Time { return now }

	live, err := r.Live("site-1")
	require.NoError(t, err)
	require.Len(t, live.Miners, 2)

	byID := map[string]types.LiveRow{}
	for _, m := range live.Miners {
		byID[m.MinerID] = m
	}
	assert.Equal(t, types.MinerOnline, byID["M1"].Status)
	assert.Equal(t, types.MinerOffline, byID["M2"].Status)
	assert.Equal(t, "live", live.Meta.Source)
}

func TestSelectResolution(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		span time.Duration
		want Resolution
	}{
		{"one hour", time.Hour, Resolution5Min},
		{"two days", 48 * time.Hour, Resolution5Min},
		{"three days", 72 * time.Hour, ResolutionHourly},
		{"sixty days", 60 * 24 * time.Hour, ResolutionHourly},
		{"ninety days", 90 * 24 * time.Hour, ResolutionDaily},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectResolution(base, base.Add(tt.span)))
		})
	}
}

func TestHistoryHourlyGrouping(t *testing.T) {
	s := newStore(t)
	hour := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// two 5-minute buckets in the same hour, unequal sample counts
	require.NoError(t, s.insert5m(types.Bucket5m{
		BucketTS: hour, SiteID: "site-1", MinerID: "M",
		AvgHashrateTHS: 100, MaxHashrateTHS: 110, MinHashrateTHS: 90,
		OnlineRatio: 1.0, Samples: 4,
	}))
	require.NoError(t, s.insert5m(types.Bucket5m{
		BucketTS: hour.Add(5 * time.Minute), SiteID: "site-1", MinerID: "M",
		AvgHashrateTHS: 200, MaxHashrateTHS: 220, MinHashrateTHS: 180,
		OnlineRatio: 0.5, Samples: 2,
	}))

	r := NewReader(s)
	resp, err := r.History("site-1", hour.Add(-time.Hour), hour.Add(72*time.Hour), ResolutionAuto)
	require.NoError(t, err)
	assert.Equal(t, ResolutionHourly, resp.Meta.Resolution)
	assert.Equal(t, "history_5min", resp.Meta.Source)
	require.Len(t, resp.Buckets, 1)

	merged := resp.Buckets[0]
	assert.Equal(t, hour, merged.BucketTS)
	// weighted: (100*4 + 200*2) / 6
	assert.InDelta(t, 133.333333, merged.AvgHashrateTHS, 1e-4)
	assert.Equal(t, 220.0, merged.MaxHashrateTHS)
	assert.Equal(t, 90.0, merged.MinHashrateTHS)
	assert.Equal(t, 6, merged.Samples)
}

func TestHistoryRejectsBadWindow(t *testing.T) {
	s := newStore(t)
	r := NewReader(s)
	now := time.Now().UTC()
	_, err := r.History("site-1", now, now, ResolutionAuto)
	assert.Error(t, err)
}

func TestDailyRollup(t *testing.T) {
	s := newStore(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.insert5m(types.Bucket5m{
		BucketTS: day.Add(1 * time.Hour), SiteID: "site-1", MinerID: "M",
		AvgHashrateTHS: 100, MaxHashrateTHS: 120, MinHashrateTHS: 80,
		OnlineRatio: 1.0, Samples: 5,
	}))
	require.NoError(t, s.insert5m(types.Bucket5m{
		BucketTS: day.Add(13 * time.Hour), SiteID: "site-1", MinerID: "M",
		AvgHashrateTHS: 110, MaxHashrateTHS: 130, MinHashrateTHS: 100,
		OnlineRatio: 0.8, Samples: 5,
	}))

	j := fixedJobs(s, day.Add(25*time.Hour))
	require.NoError(t, j.RunDaily())

	days, err := s.rangeDaily("site-1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, days, 1)
	assert.Equal(t, day, days[0].Day)
	assert.InDelta(t, 105.0, days[0].AvgHashrateTHS, 1e-9)
	assert.Equal(t, 130.0, days[0].MaxHashrateTHS)
	assert.Equal(t, 80.0, days[0].MinHashrateTHS)
	assert.InDelta(t, 0.9, days[0].OnlineRatio, 1e-9)
	assert.Equal(t, 10, days[0].Samples)
}

func TestRetentionPrunes(t *testing.T) {
	s := newStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.WriteRaw(reading(now.Add(-25*time.Hour), "old", 100, types.MinerOnline)))
	require.NoError(t, s.WriteRaw(reading(now.Add(-1*time.Hour), "new", 100, types.MinerOnline)))

	require.NoError(t, s.insert5m(types.Bucket5m{
		BucketTS: now.Add(-91 * 24 * time.Hour), SiteID: "site-1", MinerID: "old", Samples: 1,
	}))
	require.NoError(t, s.insertDaily(types.DailyRow{
		Day: now.Add(-366 * 24 * time.Hour), SiteID: "site-1", MinerID: "old", Samples: 1,
	}))

	j := fixedJobs(s, now)
	require.NoError(t, j.RunRetention())

	raws, err := s.rawRange(now.Add(-48*time.Hour), now)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "new", raws[0].MinerID)

	fives, err := s.range5m("site-1", now.Add(-100*24*time.Hour), now)
	require.NoError(t, err)
	assert.Empty(t, fives)

	days, err := s.rangeDaily("site-1", now.Add(-400*24*time.Hour), now)
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestSiteSummary(t *testing.T) {
	s := newStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.upsertLive(types.LiveRow{
		MinerID: "M1", SiteID: "site-1", Status: types.MinerOnline,
		HashrateTHS: 100, TemperatureC: 60, PowerW: 3000, LastSeen: now,
	}))
	require.NoError(t, s.upsertLive(types.LiveRow{
		MinerID: "M2", SiteID: "site-1", Status: types.MinerOnline,
		HashrateTHS: 110, TemperatureC: 70, PowerW: 3200, LastSeen: now.Add(-time.Hour),
	}))

	r := NewReader(s)
	r.now = func() time.Time { return now }

	sum, err := r.Summary("site-1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.MinersTotal)
	assert.Equal(t, 1, sum.MinersOnline) // M2 is stale
	assert.Equal(t, 100.0, sum.TotalHashrateTHS)
	assert.Equal(t, 3000.0, sum.TotalPowerW)
	assert.Equal(t, 65.0, sum.AvgTemperatureC)
	assert.Equal(t, "site_summary", sum.Meta.Source)
}

func TestWriteRawBatchAndSiteFilter(t *testing.T) {
	s := newStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	other := reading(now, "M9", 50, types.MinerOnline)
	other.SiteID = "site-2"
	require.NoError(t, s.WriteRawBatch([]types.RawReading{
		reading(now, "M1", 100, types.MinerOnline),
		other,
	}))

	rows, err := s.rawRange(now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	j := fixedJobs(s, now.Add(time.Minute))
	require.NoError(t, j.RunMinute())

	site1, err := s.liveRows("site-1")
	require.NoError(t, err)
	require.Len(t, site1, 1)
	assert.Equal(t, "M1", site1[0].MinerID)
}
