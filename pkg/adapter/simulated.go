package adapter

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hashpath/foreman/pkg/types"
)

// SimulatedConfig tunes the simulated adapter's behavior
type SimulatedConfig struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	FailureRate float64 // probability in [0,1] of a synthetic failure per call
	Seed        int64   // 0 = time-based
}

// minerState is the simulated miner's mutable state
type minerState struct {
	PowerMode    string  `json:"power_mode"`
	FrequencyMHz int     `json:"frequency_mhz"`
	FanMode      string  `json:"fan_mode"`
	FanSpeedPct  int     `json:"fan_speed_pct"`
	LEDState     string  `json:"led_state"`
	PoolURL      string  `json:"pool_url"`
	WorkerName   string  `json:"worker_name"`
	HashrateTHS  float64 `json:"hashrate_ths"`
	TemperatureC float64 `json:"temperature_c"`
	UptimeHours  float64 `json:"uptime_hours"`
}

// SimulatedAdapter mimics a miner for development and tests. State mutations
// are deterministic given the payload; delay and failures are sampled from
// the configured ranges. Output shape is identical to the real adapter.
type SimulatedAdapter struct {
	mu    sync.Mutex
	state minerState
	cfg   SimulatedConfig
	rng   *rand.Rand
}

// NewSimulatedAdapter creates a simulated miner in a sane initial state
func NewSimulatedAdapter(cfg SimulatedConfig) *SimulatedAdapter {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedAdapter{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
		state: minerState{
			PowerMode:    "normal",
			FrequencyMHz: 600,
			FanMode:      "auto",
			FanSpeedPct:  70,
			LEDState:     "off",
			PoolURL:      "stratum+tcp://pool.example.com:3333",
			WorkerName:   "sim.001",
			HashrateTHS:  190,
			TemperatureC: 62,
			UptimeHours:  240,
		},
	}
}

// State returns a copy of the current simulated state
func (s *SimulatedAdapter) State() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"power_mode":    s.state.PowerMode,
		"frequency_mhz": s.state.FrequencyMHz,
		"fan_mode":      s.state.FanMode,
		"fan_speed_pct": s.state.FanSpeedPct,
		"led_state":     s.state.LEDState,
		"pool_url":      s.state.PoolURL,
		"worker_name":   s.state.WorkerName,
		"hashrate_ths":  s.state.HashrateTHS,
		"temperature_c": s.state.TemperatureC,
		"uptime_hours":  s.state.UptimeHours,
	}
}

// Execute mutates the simulated state the way the mapped firmware command
// would, after the configured delay and failure sampling
func (s *SimulatedAdapter) Execute(ctx context.Context, commandType types.CommandType, payload map[string]interface{}) *Result {
	switch commandType {
	case types.CommandReboot, types.CommandPowerMode, types.CommandChangePool,
		types.CommandSetFreq, types.CommandThermalPolicy, types.CommandLED:
	default:
		return unknownCommand(commandType)
	}

	if err := s.sleep(ctx); err != nil {
		return failure("cancelled: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.FailureRate > 0 && s.rng.Float64() < s.cfg.FailureRate {
		return failure("simulated failure executing %s", commandType)
	}

	switch commandType {
	case types.CommandPowerMode:
		mode := stringField(payload, "mode")
		freq, ok := PowerModeFrequency(mode)
		if !ok {
			return failure("invalid power mode: %q", mode)
		}
		s.state.PowerMode = mode
		s.state.FrequencyMHz = freq
		s.state.HashrateTHS = s.hashrateFor(mode)
		return &Result{Success: true, Message: fmt.Sprintf("power mode set to %s", mode), Metrics: map[string]interface{}{
			"frequency_mhz": s.state.FrequencyMHz,
			"hashrate_ths":  s.state.HashrateTHS,
		}}

	case types.CommandSetFreq:
		freq := intField(payload, "frequency_mhz")
		if freq <= 0 {
			return failure("invalid frequency: %v", payload["frequency_mhz"])
		}
		s.state.FrequencyMHz = freq
		return &Result{Success: true, Message: fmt.Sprintf("frequency set to %d MHz", freq)}

	case types.CommandChangePool:
		url := stringField(payload, "pool_url")
		worker := stringField(payload, "worker_name")
		if url == "" || worker == "" {
			return failure("pool_url and worker_name are required")
		}
		s.state.PoolURL = url
		s.state.WorkerName = worker
		return &Result{Success: true, Message: fmt.Sprintf("switched to pool %s", url)}

	case types.CommandLED:
		state := stringField(payload, "state")
		if state != "on" && state != "off" {
			return failure("invalid led state: %v", payload["state"])
		}
		s.state.LEDState = state
		return &Result{Success: true, Message: "led " + state}

	case types.CommandReboot:
		s.state.UptimeHours = 0
		return &Result{Success: true, Message: "reboot issued"}

	case types.CommandThermalPolicy:
		switch stringField(payload, "fan_mode") {
		case "auto":
			s.state.FanMode = "auto"
			return &Result{Success: true, Message: "fan control set to auto"}
		case "manual":
			pct := intField(payload, "fan_speed_pct")
			if pct < 0 || pct > 100 {
				return failure("invalid fan speed: %v", payload["fan_speed_pct"])
			}
			s.state.FanMode = "manual"
			s.state.FanSpeedPct = pct
			return &Result{Success: true, Message: fmt.Sprintf("fan speed set to %d%%", pct)}
		default:
			return failure("invalid fan_mode: %v", payload["fan_mode"])
		}
	}

	return unknownCommand(commandType)
}

// hashrateFor samples a plausible hashrate for a power mode
func (s *SimulatedAdapter) hashrateFor(mode string) float64 {
	switch mode {
	case "high":
		return 230 + s.rng.Float64()*20 // uniform in [230, 250]
	case "eco":
		return 140 + s.rng.Float64()*20
	default:
		return 180 + s.rng.Float64()*20
	}
}

func (s *SimulatedAdapter) sleep(ctx context.Context) error {
	if s.cfg.MaxDelay <= 0 {
		return nil
	}
	span := s.cfg.MaxDelay - s.cfg.MinDelay
	d := s.cfg.MinDelay
	if span > 0 {
		s.mu.Lock()
		d += time.Duration(s.rng.Int63n(int64(span)))
		s.mu.Unlock()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
