package adapter

import (
	"context"
	"fmt"

	"github.com/hashpath/foreman/pkg/types"
)

// Result is the uniform outcome of executing one command on one miner.
// Adapters never return Go errors to callers: every failure mode, network
// included, is folded into an unsuccessful Result.
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// Adapter executes typed commands against one miner
type Adapter interface {
	Execute(ctx context.Context, commandType types.CommandType, payload map[string]interface{}) *Result
}

// PowerModeFrequency maps a power mode to its target chip frequency in MHz
func PowerModeFrequency(mode string) (int, bool) {
	switch mode {
	case "high":
		return 700, true
	case "normal":
		return 600, true
	case "eco":
		return 500, true
	}
	return 0, false
}

func failure(format string, args ...interface{}) *Result {
	return &Result{Success: false, Message: fmt.Sprintf(format, args...)}
}

func unknownCommand(commandType types.CommandType) *Result {
	return failure("Unknown command type: %s", commandType)
}

// stringField pulls a string out of a command payload
func stringField(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

// intField pulls an integer out of a command payload, tolerating the
// float64 that JSON decoding produces
func intField(payload map[string]interface{}, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
