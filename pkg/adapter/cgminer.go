package adapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hashpath/foreman/pkg/cgminer"
	"github.com/hashpath/foreman/pkg/log"
	"github.com/hashpath/foreman/pkg/types"
)

// CGMinerAdapter executes commands on a real miner through its control API
type CGMinerAdapter struct {
	client *cgminer.Client
	logger zerolog.Logger
}

// NewCGMinerAdapter wraps a TCP client. The client decides whether control
// commands are allowed; the adapter only translates command types.
func NewCGMinerAdapter(client *cgminer.Client) *CGMinerAdapter {
	return &CGMinerAdapter{
		client: client,
		logger: log.WithComponent("adapter"),
	}
}

// Execute maps a command type onto one or more control API calls.
// A best-effort metrics snapshot is taken before any mutation and returned
// under metrics.before so operators can compare against later telemetry.
func (a *CGMinerAdapter) Execute(ctx context.Context, commandType types.CommandType, payload map[string]interface{}) *Result {
	before := a.snapshot(ctx)

	var res *Result
	switch commandType {
	case types.CommandPowerMode:
		res = a.powerMode(ctx, payload)
	case types.CommandSetFreq:
		res = a.setFreq(ctx, payload)
	case types.CommandChangePool:
		res = a.changePool(ctx, payload)
	case types.CommandLED:
		res = a.led(ctx, payload)
	case types.CommandReboot:
		res = a.reboot(ctx, payload)
	case types.CommandThermalPolicy:
		res = a.thermalPolicy(ctx, payload)
	default:
		return unknownCommand(commandType)
	}

	if before != nil {
		if res.Metrics == nil {
			res.Metrics = map[string]interface{}{}
		}
		res.Metrics["before"] = before
	}
	return res
}

// snapshot collects hashrate, temperature, and uptime before a mutation.
// Failures are logged and ignored: the snapshot must never block a command.
func (a *CGMinerAdapter) snapshot(ctx context.Context) map[string]interface{} {
	summary, err := a.client.Call(ctx, "summary", "")
	if err != nil {
		a.logger.Debug().Err(err).Str("host", a.client.Host()).Msg("pre-command snapshot failed")
		return nil
	}
	stats, _ := a.client.Call(ctx, "stats", "")

	reading := cgminer.NormalizeTelemetry(summary, stats, nil, "", "")
	snap := map[string]interface{}{
		"hashrate_ths":  reading.HashrateTHS,
		"temperature_c": reading.TemperatureC,
	}
	if s := cgminer.Section(summary, "SUMMARY"); len(s) > 0 {
		if elapsed, ok := s[0]["Elapsed"].(float64); ok {
			snap["uptime_seconds"] = elapsed
		}
	}
	return snap
}

func (a *CGMinerAdapter) powerMode(ctx context.Context, payload map[string]interface{}) *Result {
	mode := stringField(payload, "mode")
	freq, ok := PowerModeFrequency(mode)
	if !ok {
		return failure("invalid power mode: %q", mode)
	}
	return a.ascsetFreq(ctx, freq)
}

func (a *CGMinerAdapter) setFreq(ctx context.Context, payload map[string]interface{}) *Result {
	freq := intField(payload, "frequency_mhz")
	if freq <= 0 {
		return failure("invalid frequency: %v", payload["frequency_mhz"])
	}
	return a.ascsetFreq(ctx, freq)
}

func (a *CGMinerAdapter) ascsetFreq(ctx context.Context, freq int) *Result {
	reply, err := a.client.Call(ctx, "ascset", fmt.Sprintf("0,freq,%d", freq))
	if err != nil {
		return failure("%v", err)
	}
	if !cgminer.IsSuccess(reply) {
		return failure("%s", cgminer.ReplyMsg(reply))
	}
	return &Result{Success: true, Message: fmt.Sprintf("frequency set to %d MHz", freq)}
}

// changePool adds the pool, finds its id by URL substring, then switches.
// Firmwares assign pool ids themselves, so the lookup round-trip is
// unavoidable.
func (a *CGMinerAdapter) changePool(ctx context.Context, payload map[string]interface{}) *Result {
	url := stringField(payload, "pool_url")
	worker := stringField(payload, "worker_name")
	pass := stringField(payload, "password")
	if url == "" || worker == "" {
		return failure("pool_url and worker_name are required")
	}
	if pass == "" {
		pass = "x"
	}

	reply, err := a.client.Call(ctx, "addpool", fmt.Sprintf("%s,%s,%s", url, worker, pass))
	if err != nil {
		return failure("addpool: %v", err)
	}
	if !cgminer.IsSuccess(reply) {
		return failure("addpool: %s", cgminer.ReplyMsg(reply))
	}

	pools, err := a.client.Call(ctx, "pools", "")
	if err != nil {
		return failure("pools: %v", err)
	}
	poolID := -1
	for _, p := range cgminer.Section(pools, "POOLS") {
		pu, _ := p["URL"].(string)
		if strings.Contains(pu, url) || strings.Contains(url, pu) {
			if id, ok := p["POOL"].(float64); ok {
				poolID = int(id)
			}
		}
	}
	if poolID < 0 {
		return failure("added pool %s not found in pool list", url)
	}

	reply, err = a.client.Call(ctx, "switchpool", strconv.Itoa(poolID))
	if err != nil {
		return failure("switchpool: %v", err)
	}
	if !cgminer.IsSuccess(reply) {
		return failure("switchpool: %s", cgminer.ReplyMsg(reply))
	}
	return &Result{Success: true, Message: fmt.Sprintf("switched to pool %d (%s)", poolID, url)}
}

func (a *CGMinerAdapter) led(ctx context.Context, payload map[string]interface{}) *Result {
	var cmd string
	switch stringField(payload, "state") {
	case "on":
		cmd = "ledon"
	case "off":
		cmd = "ledoff"
	default:
		return failure("invalid led state: %v", payload["state"])
	}

	reply, err := a.client.Call(ctx, cmd, "")
	if err != nil {
		return failure("%v", err)
	}
	if !cgminer.IsSuccess(reply) {
		return failure("%s", cgminer.ReplyMsg(reply))
	}
	return &Result{Success: true, Message: "led " + stringField(payload, "state")}
}

func (a *CGMinerAdapter) reboot(ctx context.Context, payload map[string]interface{}) *Result {
	mode := stringField(payload, "mode")
	var cmd string
	switch mode {
	case "", "soft":
		cmd = "restart"
	case "hard":
		cmd = "quit"
	default:
		return failure("invalid reboot mode: %q", mode)
	}

	reply, err := a.client.Call(ctx, cmd, "")
	if err != nil {
		// A rebooting miner often drops the connection before replying
		if cgminer.KindOf(err) == cgminer.KindConnection || cgminer.KindOf(err) == cgminer.KindTimeout {
			return &Result{Success: true, Message: "reboot issued, miner dropped connection"}
		}
		return failure("%v", err)
	}
	if !cgminer.IsSuccess(reply) {
		return failure("%s", cgminer.ReplyMsg(reply))
	}
	return &Result{Success: true, Message: "reboot issued"}
}

func (a *CGMinerAdapter) thermalPolicy(ctx context.Context, payload map[string]interface{}) *Result {
	switch stringField(payload, "fan_mode") {
	case "auto":
		reply, err := a.client.Call(ctx, "fanctrl", "auto")
		if err != nil {
			return failure("%v", err)
		}
		if !cgminer.IsSuccess(reply) {
			return failure("%s", cgminer.ReplyMsg(reply))
		}
		return &Result{Success: true, Message: "fan control set to auto"}

	case "manual":
		pct := intField(payload, "fan_speed_pct")
		if pct < 0 || pct > 100 {
			return failure("invalid fan speed: %v", payload["fan_speed_pct"])
		}
		boards := intField(payload, "boards")
		if boards <= 0 {
			boards = 1
		}
		for i := 0; i < boards; i++ {
			reply, err := a.client.Call(ctx, "fanctrl", fmt.Sprintf("%d,%d", i, pct))
			if err != nil {
				return failure("fanctrl board %d: %v", i, err)
			}
			if !cgminer.IsSuccess(reply) {
				return failure("fanctrl board %d: %s", i, cgminer.ReplyMsg(reply))
			}
		}
		return &Result{Success: true, Message: fmt.Sprintf("fan speed set to %d%% on %d board(s)", pct, boards)}

	default:
		return failure("invalid fan_mode: %v", payload["fan_mode"])
	}
}
