package telemetry

import (
	"time"

	"github.com/hashpath/foreman/pkg/metrics"
	"github.com/hashpath/foreman/pkg/types"
)

// Jobs runs the four promotion and retention loops against one store.
// Each layer has a single writer: the minute job owns live, the 5-minute
// job owns history_5min, the daily job owns daily rows and pruning.
type Jobs struct {
	store  *Store
	stopCh chan struct{}

	// now is swappable in tests
	now func() time.Time
}

// NewJobs creates the promotion jobs for a store
func NewJobs(store *Store) *Jobs {
	return &Jobs{
		store:  store,
		stopCh: make(chan struct{}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start launches all four loops
func (j *Jobs) Start() {
	go j.loop(time.Minute, j.RunMinute)
	go j.loop(5*time.Minute, j.RunFiveMinute)
	go j.loop(time.Hour, j.RunDaily)
	go j.loop(time.Hour, j.RunRetention)
}

// Stop signals all loops to exit
func (j *Jobs) Stop() {
	close(j.stopCh)
}

func (j *Jobs) loop(interval time.Duration, run func() error) {
	ticker := time.NewTicker(interval)
	// Run immediately on start
	if err := run(); err != nil {
		j.store.logger.Error().Err(err).Msg("telemetry job failed")
	}

	for {
		select {
		case <-ticker.C:
			if err := run(); err != nil {
				j.store.logger.Error().Err(err).Msg("telemetry job failed")
			}
		case <-j.stopCh:
			ticker.Stop()
			return
		}
	}
}

// RunMinute upserts live from the newest raw row per miner within the
// last 5 minutes. Miners with no recent raw row keep their old live row;
// readers derive offline from a stale last_seen.
func (j *Jobs) RunMinute() error {
	now := j.now()
	rows, err := j.store.rawRange(now.Add(-LiveWindow), now.Add(time.Second))
	if err != nil {
		return err
	}

	newest := map[string]types.RawReading{}
	for _, r := range rows {
		if prev, ok := newest[r.MinerID]; !ok || r.TS.After(prev.TS) {
			newest[r.MinerID] = r
		}
	}

	for _, r := range newest {
		err := j.store.upsertLive(types.LiveRow{
			MinerID:      r.MinerID,
			SiteID:       r.SiteID,
			Status:       r.Status,
			HashrateTHS:  r.HashrateTHS,
			TemperatureC: r.TemperatureC,
			PowerW:       r.PowerW,
			FanRPM:       r.FanRPM,
			RejectRate:   r.RejectRate,
			PoolURL:      r.PoolURL,
			LastSeen:     r.TS,
		})
		if err != nil {
			return err
		}
	}

	return j.updateSiteGauges(now)
}

// updateSiteGauges refreshes per-site online counts and hashrate totals
// from the live layer
func (j *Jobs) updateSiteGauges(now time.Time) error {
	rows, err := j.store.liveRows("")
	if err != nil {
		return err
	}

	online := map[string]int{}
	hashrate := map[string]float64{}
	for _, row := range rows {
		if row.Status == types.MinerOnline && now.Sub(row.LastSeen) <= LiveWindow {
			online[row.SiteID]++
			hashrate[row.SiteID] += row.HashrateTHS
		} else if _, ok := online[row.SiteID]; !ok {
			online[row.SiteID] = 0
		}
	}
	for site, n := range online {
		metrics.MinersOnline.WithLabelValues(site).Set(float64(n))
		metrics.SiteHashrateTHS.WithLabelValues(site).Set(hashrate[site])
	}
	return nil
}

// RunFiveMinute aggregates the closed bucket [now-10m, now-5m) into
// history_5min. Buckets already present are untouched, so a rerun over
// the same window writes nothing.
func (j *Jobs) RunFiveMinute() error {
	now := j.now()
	end := now.Truncate(5 * time.Minute).Add(-5 * time.Minute)
	start := end.Add(-5 * time.Minute)
	return j.aggregateWindow(start, end)
}

// aggregateWindow computes per-(site, miner) aggregates over raw rows in
// [start, end), one 5-minute bucket at a time
func (j *Jobs) aggregateWindow(start, end time.Time) error {
	rows, err := j.store.rawRange(start, end)
	if err != nil {
		return err
	}

	type groupKey struct {
		bucket  int64
		siteID  string
		minerID string
	}
	groups := map[groupKey][]types.RawReading{}
	for _, r := range rows {
		k := groupKey{
			bucket:  r.TS.Truncate(5 * time.Minute).Unix(),
			siteID:  r.SiteID,
			minerID: r.MinerID,
		}
		groups[k] = append(groups[k], r)
	}

	for k, samples := range groups {
		agg := aggregate5m(time.Unix(k.bucket, 0).UTC(), k.siteID, k.minerID, samples)
		if err := j.store.insert5m(agg); err != nil {
			return err
		}
	}
	return nil
}

func aggregate5m(bucketTS time.Time, siteID, minerID string, samples []types.RawReading) types.Bucket5m {
	agg := types.Bucket5m{
		BucketTS: bucketTS,
		SiteID:   siteID,
		MinerID:  minerID,
		Samples:  len(samples),
	}
	if len(samples) == 0 {
		return agg
	}

	agg.MinHashrateTHS = samples[0].HashrateTHS
	online := 0
	var sumHash, sumTemp, sumPower, sumFan float64
	for _, r := range samples {
		sumHash += r.HashrateTHS
		sumTemp += r.TemperatureC
		sumPower += r.PowerW
		sumFan += float64(r.FanRPM)
		if r.HashrateTHS > agg.MaxHashrateTHS {
			agg.MaxHashrateTHS = r.HashrateTHS
		}
		if r.HashrateTHS < agg.MinHashrateTHS {
			agg.MinHashrateTHS = r.HashrateTHS
		}
		if r.TemperatureC > agg.MaxTempC {
			agg.MaxTempC = r.TemperatureC
		}
		if r.Status == types.MinerOnline {
			online++
		}
	}
	n := float64(len(samples))
	agg.AvgHashrateTHS = sumHash / n
	agg.AvgTempC = sumTemp / n
	agg.AvgPowerW = sumPower / n
	agg.AvgFanRPM = sumFan / n
	agg.OnlineRatio = float64(online) / n
	return agg
}

// RunDaily rolls yesterday's 5-minute rows into day rows
func (j *Jobs) RunDaily() error {
	now := j.now()
	day := now.Truncate(24 * time.Hour).Add(-24 * time.Hour)
	return j.rollupDay(day)
}

// rollupDay aggregates all 5-minute rows for one UTC day
func (j *Jobs) rollupDay(day time.Time) error {
	rows, err := j.store.range5m("", day, day.Add(24*time.Hour))
	if err != nil {
		return err
	}

	type groupKey struct {
		siteID  string
		minerID string
	}
	groups := map[groupKey][]types.Bucket5m{}
	for _, r := range rows {
		k := groupKey{siteID: r.SiteID, minerID: r.MinerID}
		groups[k] = append(groups[k], r)
	}

	for k, buckets := range groups {
		if err := j.store.insertDaily(rollupDaily(day, k.siteID, k.minerID, buckets)); err != nil {
			return err
		}
	}
	return nil
}

// rollupDaily weights averages by per-bucket sample counts
func rollupDaily(day time.Time, siteID, minerID string, buckets []types.Bucket5m) types.DailyRow {
	row := types.DailyRow{Day: day, SiteID: siteID, MinerID: minerID}
	if len(buckets) == 0 {
		return row
	}

	row.MinHashrateTHS = buckets[0].MinHashrateTHS
	var sumHash, sumTemp, sumPower, sumOnline float64
	total := 0
	for _, b := range buckets {
		w := float64(b.Samples)
		sumHash += b.AvgHashrateTHS * w
		sumTemp += b.AvgTempC * w
		sumPower += b.AvgPowerW * w
		sumOnline += b.OnlineRatio * w
		total += b.Samples
		if b.MaxHashrateTHS > row.MaxHashrateTHS {
			row.MaxHashrateTHS = b.MaxHashrateTHS
		}
		if b.MinHashrateTHS < row.MinHashrateTHS {
			row.MinHashrateTHS = b.MinHashrateTHS
		}
		if b.MaxTempC > row.MaxTempC {
			row.MaxTempC = b.MaxTempC
		}
	}
	if total > 0 {
		n := float64(total)
		row.AvgHashrateTHS = sumHash / n
		row.AvgTempC = sumTemp / n
		row.AvgPowerW = sumPower / n
		row.OnlineRatio = sumOnline / n
	}
	row.Samples = total
	return row
}

// RunRetention prunes raw rows past 24 h, 5-minute rows past 90 d, and
// day rows past 365 d
func (j *Jobs) RunRetention() error {
	now := j.now()
	for _, layer := range []struct {
		bucket    []byte
		retention time.Duration
		name      string
	}{
		{bucketRaw, RawRetention, "raw_24h"},
		{bucket5min, FiveMinRetention, "history_5min"},
		{bucketDaily, DailyRetention, "daily"},
	} {
		deleted, err := j.store.pruneBefore(layer.bucket, now.Add(-layer.retention))
		if err != nil {
			return err
		}
		if deleted > 0 {
			metrics.TelemetryRowsPruned.WithLabelValues(layer.name).Add(float64(deleted))
			j.store.logger.Debug().
				Str("layer", layer.name).
				Int("deleted", deleted).
				Msg("retention pruned rows")
		}
	}
	return nil
}
