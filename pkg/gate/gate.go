package gate

import (
	"github.com/hashpath/foreman/pkg/types"
)

// Reason codes attached to denials and their audit entries
const (
	ReasonCapabilityDenied   = "CAPABILITY_DENIED"
	ReasonBoundDeviceDenied  = "BOUND_DEVICE_DENIED"
	ReasonDeviceRevoked      = "DEVICE_REVOKED"
	ReasonKeyVersionMismatch = "KEY_VERSION_MISMATCH"
)

// Decision is the outcome of one secret-access check
type Decision struct {
	Allowed bool
	Reason  string // empty when allowed
}

// Allow is the positive decision
var Allow = Decision{Allowed: true}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluate decides whether a device may read a miner's secret. Checks run
// in a fixed order and the first failure wins: device must be active, the
// miner must be at CONTROL, a bound_device_id must match the caller, and
// the requested key version must match the device's current one.
func Evaluate(device *types.EdgeDevice, miner *types.HostingMiner, requestedKeyVersion int) Decision {
	if device.Status != types.DeviceStatusActive {
		return deny(ReasonDeviceRevoked)
	}
	if miner.CapabilityLevel != types.CapabilityControl {
		return deny(ReasonCapabilityDenied)
	}
	if miner.BoundDeviceID != "" && miner.BoundDeviceID != device.ID {
		return deny(ReasonBoundDeviceDenied)
	}
	if requestedKeyVersion != 0 && requestedKeyVersion != device.KeyVersion {
		return deny(ReasonKeyVersionMismatch)
	}
	return Allow
}

// BulkResult is the outcome of filtering a bulk secret pull. Skip
// counters let the edge tell an entitled-empty response from a filtered
// one.
type BulkResult struct {
	Entitled          []*types.HostingMiner
	SkippedCapability int
	SkippedBound      int
}

// FilterBulk returns the subset of miners the device is entitled to pull,
// with counters for each skip cause. A revoked device is entitled to
// nothing.
func FilterBulk(device *types.EdgeDevice, miners []*types.HostingMiner) BulkResult {
	var out BulkResult
	if device.Status != types.DeviceStatusActive {
		return out
	}
	for _, m := range miners {
		if m.CapabilityLevel != types.CapabilityControl {
			out.SkippedCapability++
			continue
		}
		if m.BoundDeviceID != "" && m.BoundDeviceID != device.ID {
			out.SkippedBound++
			continue
		}
		out.Entitled = append(out.Entitled, m)
	}
	return out
}
