package edge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hashpath/foreman/pkg/adapter"
	"github.com/hashpath/foreman/pkg/cgminer"
	"github.com/hashpath/foreman/pkg/envelope"
	"github.com/hashpath/foreman/pkg/log"
	"github.com/hashpath/foreman/pkg/secretcache"
	"github.com/hashpath/foreman/pkg/types"
)

const (
	// HeartbeatInterval is how often the edge reports liveness
	HeartbeatInterval = 30 * time.Second

	// TelemetryInterval is how often known miners are polled for a reading
	TelemetryInterval = 60 * time.Second

	// CommandPollLimit caps commands taken per poll
	CommandPollLimit = 10

	// ExecuteWorkers bounds the per-target execution fan-out
	ExecuteWorkers = 8
)

// MinerCredentials is the plaintext an envelope decrypts to
type MinerCredentials struct {
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}

// Runner is the edge device's long-running loop set: heartbeat, incremental
// secret pull, command poll/execute/ack, and telemetry collection. Loops share
// one stop channel; a failure against a single miner is logged and skipped,
// never fatal to the loop.
type Runner struct {
	cfg    *Config
	client *Client
	cache  *secretcache.Cache
	dedup  *Dedup
	keys   *envelope.KeyPair
	logger zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	simulated map[string]*adapter.SimulatedAdapter // miner id -> persistent sim state
}

// NewRunner opens the local stores in cfg.DataDir and wires the cloud client
func NewRunner(cfg *Config) (*Runner, error) {
	cache, err := secretcache.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret cache: %w", err)
	}
	dedup, err := OpenDedup(cfg.DataDir)
	if err != nil {
		cache.Close()
		return nil, fmt.Errorf("failed to open dedup ledger: %w", err)
	}

	r := &Runner{
		cfg:       cfg,
		client:    NewClient(cfg.APIBaseURL, cfg.AuthToken),
		cache:     cache,
		dedup:     dedup,
		logger:    log.WithComponent("edge"),
		stopCh:    make(chan struct{}),
		simulated: map[string]*adapter.SimulatedAdapter{},
	}
	if cfg.HasKey {
		kp, err := envelope.KeyPairFromPrivate(&cfg.PrivateKey)
		if err != nil {
			cache.Close()
			return nil, err
		}
		r.keys = kp
	}
	return r, nil
}

// Start launches the edge loops
func (r *Runner) Start() {
	r.logger.Info().
		Str("site_id", r.cfg.SiteID).
		Str("mode", string(r.cfg.MinerMode)).
		Bool("execution_enabled", r.cfg.ExecutionEnabled).
		Msg("Starting edge runner")

	r.loop(HeartbeatInterval, r.runHeartbeat)
	r.loop(r.cfg.PollInterval, r.runSecretPull)
	r.loop(r.cfg.PollInterval, r.runCommandPoll)
	r.loop(TelemetryInterval, r.runTelemetry)
}

// Stop signals all loops and waits for them to drain
func (r *Runner) Stop() {
	r.logger.Info().Msg("Stopping edge runner")
	close(r.stopCh)
	r.wg.Wait()
	if err := r.cache.Close(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to close secret cache")
	}
}

// loop runs fn immediately, then on every tick until stop
func (r *Runner) loop(interval time.Duration, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		fn(context.Background())
		for {
			select {
			case <-ticker.C:
				fn(context.Background())
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *Runner) runHeartbeat(ctx context.Context) {
	if err := r.client.Heartbeat(ctx, r.cfg.DeviceID); err != nil {
		r.logger.Warn().Err(err).Msg("Heartbeat failed")
	}
}

// runSecretPull fetches envelopes newer than the cache high-water mark and
// stores them. A key version bump from the cloud drops every cached entry.
func (r *Runner) runSecretPull(ctx context.Context) {
	since, err := r.cache.MaxCounter()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to read counter high-water mark")
		return
	}

	resp, err := r.client.PullSecrets(ctx, r.cfg.SiteID, since)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Secret pull failed")
		return
	}

	if err := r.cache.SetKeyVersion(resp.KeyVersion); err != nil {
		r.logger.Error().Err(err).Int("key_version", resp.KeyVersion).Msg("Failed to sync key version")
		return
	}

	stored := 0
	for _, env := range resp.Secrets {
		minerID := env.AAD.MinerID
		if minerID == "" {
			r.logger.Warn().Msg("Envelope without miner id skipped")
			continue
		}
		if err := r.cache.Put(minerID, env); err != nil {
			// the since_counter filter is advisory; replays land here
			r.logger.Debug().Err(err).Str("miner_id", minerID).Msg("Envelope not stored")
			continue
		}
		stored++
	}
	if stored > 0 {
		r.logger.Info().Int("stored", stored).Int64("since_counter", since).Msg("Secrets updated")
	}
}

func (r *Runner) runCommandPoll(ctx context.Context) {
	cmds, err := r.client.PollCommands(ctx, r.cfg.SiteID, CommandPollLimit)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Command poll failed")
		return
	}
	for i := range cmds {
		r.executeCommand(ctx, &cmds[i])
	}
}

// executeCommand runs one command against its targets and acknowledges the
// results. The dedup ledger is consulted first and updated only after the
// acknowledgement lands, so a crash between execute and ack never causes a
// second execution.
func (r *Runner) executeCommand(ctx context.Context, cmd *types.CommandRecord) {
	logger := r.logger.With().Str("command_id", cmd.ID).Str("command_type", string(cmd.Type)).Logger()

	if r.dedup.Seen(cmd.ID) {
		logger.Info().Msg("Command already executed, skipping")
		return
	}

	var results []types.CommandResult
	if !r.cfg.ExecutionEnabled {
		for _, minerID := range cmd.TargetIDs {
			results = append(results, types.CommandResult{
				MinerID: minerID,
				Status:  types.TargetFailed,
				Message: "Command execution disabled on this device",
			})
		}
	} else {
		results = r.executeTargets(ctx, cmd)
	}

	if err := r.client.AckCommand(ctx, cmd.ID, results); err != nil {
		logger.Warn().Err(err).Msg("Command ack failed, will retry on redelivery")
		return
	}
	if err := r.dedup.Mark(cmd.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to persist dedup ledger")
	}
	logger.Info().Int("targets", len(results)).Msg("Command acknowledged")
}

// executeTargets fans the command out over its targets with a bounded pool
func (r *Runner) executeTargets(ctx context.Context, cmd *types.CommandRecord) []types.CommandResult {
	results := make([]types.CommandResult, len(cmd.TargetIDs))
	sem := make(chan struct{}, ExecuteWorkers)
	var wg sync.WaitGroup

	for i, minerID := range cmd.TargetIDs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, minerID string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.executeTarget(ctx, cmd, minerID)
		}(i, minerID)
	}
	wg.Wait()
	return results
}

func (r *Runner) executeTarget(ctx context.Context, cmd *types.CommandRecord, minerID string) types.CommandResult {
	ad, err := r.adapterFor(minerID, cmd.EncryptedCredentials)
	if err != nil {
		r.logger.Warn().Err(err).Str("miner_id", minerID).Msg("No adapter for target")
		return types.CommandResult{MinerID: minerID, Status: types.TargetFailed, Message: err.Error()}
	}

	res := ad.Execute(ctx, cmd.Type, cmd.Payload)
	result := types.CommandResult{MinerID: minerID, Message: res.Message, Metrics: res.Metrics}
	if res.Success {
		result.Status = types.TargetSucceeded
	} else {
		result.Status = types.TargetFailed
	}
	return result
}

// adapterFor selects the execution backend for one miner. In simulated mode
// each miner gets a persistent in-memory state; in cgminer mode the target's
// credentials are decrypted for exactly as long as it takes to build the
// client.
func (r *Runner) adapterFor(minerID string, creds map[string]types.Envelope) (adapter.Adapter, error) {
	if r.cfg.MinerMode == ModeSimulated {
		r.mu.Lock()
		defer r.mu.Unlock()
		sim, ok := r.simulated[minerID]
		if !ok {
			sim = adapter.NewSimulatedAdapter(adapter.SimulatedConfig{})
			r.simulated[minerID] = sim
		}
		return sim, nil
	}

	mc, err := r.credentialsFor(minerID, creds)
	if err != nil {
		return nil, err
	}
	client, err := cgminer.NewClient(cgminer.Config{
		Host:         mc.IPAddress,
		Port:         mc.Port,
		AllowControl: r.cfg.ExecutionEnabled,
	})
	if err != nil {
		return nil, err
	}
	return adapter.NewCGMinerAdapter(client), nil
}

// credentialsFor opens the envelope attached to the command, falling back to
// the local secret cache
func (r *Runner) credentialsFor(minerID string, attached map[string]types.Envelope) (*MinerCredentials, error) {
	if r.keys == nil {
		return nil, fmt.Errorf("no device private key configured")
	}

	env, ok := attached[minerID]
	if !ok {
		entry, err := r.cache.Get(minerID)
		if err != nil {
			return nil, fmt.Errorf("no credentials for miner %s: %w", minerID, err)
		}
		env = entry.Envelope
	}

	plaintext, err := envelope.Open(r.keys, &env)
	if err != nil {
		return nil, fmt.Errorf("failed to open envelope for miner %s: %w", minerID, err)
	}
	defer zeroBytes(plaintext)

	var mc MinerCredentials
	if err := json.Unmarshal(plaintext, &mc); err != nil {
		return nil, fmt.Errorf("malformed credentials for miner %s", minerID)
	}
	if mc.IPAddress == "" {
		return nil, fmt.Errorf("credentials for miner %s carry no address", minerID)
	}
	return &mc, nil
}

// runTelemetry polls every known miner for a reading and pushes the batch
func (r *Runner) runTelemetry(ctx context.Context) {
	miners := r.knownMiners()
	if len(miners) == 0 {
		return
	}

	readings := make([]types.RawReading, 0, len(miners))
	for _, minerID := range miners {
		reading, err := r.collectReading(ctx, minerID)
		if err != nil {
			r.logger.Warn().Err(err).Str("miner_id", minerID).Msg("Telemetry collection failed")
			continue
		}
		readings = append(readings, reading)
	}
	if len(readings) == 0 {
		return
	}

	if err := r.client.PushTelemetry(ctx, readings); err != nil {
		r.logger.Warn().Err(err).Int("readings", len(readings)).Msg("Telemetry push failed")
		return
	}
	r.logger.Debug().Int("readings", len(readings)).Msg("Telemetry pushed")
}

// knownMiners is the union of cached secrets and simulated miners already
// touched by a command
func (r *Runner) knownMiners() []string {
	seen := map[string]bool{}
	var out []string

	entries, err := r.cache.List()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to list secret cache")
	} else {
		for _, e := range entries {
			if !seen[e.MinerID] {
				seen[e.MinerID] = true
				out = append(out, e.MinerID)
			}
		}
	}

	r.mu.Lock()
	for id := range r.simulated {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	r.mu.Unlock()
	return out
}

func (r *Runner) collectReading(ctx context.Context, minerID string) (types.RawReading, error) {
	if r.cfg.MinerMode == ModeSimulated {
		return r.simulatedReading(minerID), nil
	}
	return r.cgminerReading(ctx, minerID)
}

func (r *Runner) simulatedReading(minerID string) types.RawReading {
	ad, _ := r.adapterFor(minerID, nil)
	state := ad.(*adapter.SimulatedAdapter).State()

	hashrate, _ := state["hashrate_ths"].(float64)
	temp, _ := state["temperature_c"].(float64)
	fan, _ := state["fan_speed_pct"].(int)
	pool, _ := state["pool_url"].(string)

	return types.RawReading{
		TS:           time.Now().UTC(),
		SiteID:       r.cfg.SiteID,
		MinerID:      minerID,
		Status:       types.MinerOnline,
		HashrateTHS:  hashrate,
		TemperatureC: temp,
		FanRPM:       fan * 60, // percent to an approximate rpm
		PoolURL:      pool,
	}
}

// cgminerReading queries summary/stats/pools and normalizes. An unreachable
// miner still yields a reading, marked offline.
func (r *Runner) cgminerReading(ctx context.Context, minerID string) (types.RawReading, error) {
	mc, err := r.credentialsFor(minerID, nil)
	if err != nil {
		return types.RawReading{}, err
	}
	client, err := cgminer.NewClient(cgminer.Config{Host: mc.IPAddress, Port: mc.Port})
	if err != nil {
		return types.RawReading{}, err
	}

	summary, err := client.Call(ctx, "summary", "")
	if err != nil {
		r.logger.Debug().Err(err).Str("miner_id", minerID).Msg("Summary probe failed")
		summary = nil
	}
	stats, _ := client.Call(ctx, "stats", "")
	pools, _ := client.Call(ctx, "pools", "")

	return cgminer.NormalizeTelemetry(summary, stats, pools, r.cfg.SiteID, minerID), nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
