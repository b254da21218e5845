package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashpath/foreman/pkg/types"
)

func newSim() *SimulatedAdapter {
	return NewSimulatedAdapter(SimulatedConfig{Seed: 42})
}

func TestSimulatedUnknownCommand(t *testing.T) {
	sim := newSim()
	res := sim.Execute(context.Background(), types.CommandType("format_disk"), nil)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Equal(t, "Unknown command type: format_disk", res.Message)
}

func TestSimulatedPowerMode(t *testing.T) {
	tests := []struct {
		mode     string
		wantFreq int
	}{
		{"high", 700},
		{"normal", 600},
		{"eco", 500},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			sim := newSim()
			res := sim.Execute(context.Background(), types.CommandPowerMode, map[string]interface{}{"mode": tt.mode})
			require.True(t, res.Success, res.Message)

			state := sim.State()
			assert.Equal(t, tt.mode, state["power_mode"])
			assert.Equal(t, tt.wantFreq, state["frequency_mhz"])
		})
	}
}

func TestSimulatedHighModeHashrateRange(t *testing.T) {
	sim := newSim()
	res := sim.Execute(context.Background(), types.CommandPowerMode, map[string]interface{}{"mode": "high"})
	require.True(t, res.Success)

	hr := sim.State()["hashrate_ths"].(float64)
	assert.GreaterOrEqual(t, hr, 230.0)
	assert.LessOrEqual(t, hr, 250.0)
}

func TestSimulatedChangePool(t *testing.T) {
	sim := newSim()
	res := sim.Execute(context.Background(), types.CommandChangePool, map[string]interface{}{
		"pool_url":    "stratum+tcp://new.example:3333",
		"worker_name": "acct.rig7",
	})
	require.True(t, res.Success)
	assert.Equal(t, "stratum+tcp://new.example:3333", sim.State()["pool_url"])
	assert.Equal(t, "acct.rig7", sim.State()["worker_name"])

	res = sim.Execute(context.Background(), types.CommandChangePool, map[string]interface{}{})
	assert.False(t, res.Success)
}

func TestSimulatedLEDAndThermal(t *testing.T) {
	sim := newSim()

	res := sim.Execute(context.Background(), types.CommandLED, map[string]interface{}{"state": "on"})
	require.True(t, res.Success)
	assert.Equal(t, "on", sim.State()["led_state"])

	res = sim.Execute(context.Background(), types.CommandThermalPolicy, map[string]interface{}{
		"fan_mode": "manual", "fan_speed_pct": 85,
	})
	require.True(t, res.Success)
	assert.Equal(t, "manual", sim.State()["fan_mode"])
	assert.Equal(t, 85, sim.State()["fan_speed_pct"])

	res = sim.Execute(context.Background(), types.CommandThermalPolicy, map[string]interface{}{
		"fan_mode": "manual", "fan_speed_pct": 150,
	})
	assert.False(t, res.Success)
}

func TestSimulatedReboot(t *testing.T) {
	sim := newSim()
	res := sim.Execute(context.Background(), types.CommandReboot, map[string]interface{}{"mode": "soft"})
	require.True(t, res.Success)
	assert.Equal(t, 0.0, sim.State()["uptime_hours"])
}

func TestSimulatedFailureInjection(t *testing.T) {
	sim := NewSimulatedAdapter(SimulatedConfig{Seed: 7, FailureRate: 1.0})
	res := sim.Execute(context.Background(), types.CommandReboot, nil)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "simulated failure")
}

func TestSimulatedConcurrentExecutes(t *testing.T) {
	sim := newSim()
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			sim.Execute(context.Background(), types.CommandSetFreq, map[string]interface{}{"frequency_mhz": 650})
			sim.State()
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	assert.Equal(t, 650, sim.State()["frequency_mhz"])
}
