package types

import (
	"strconv"
	"time"
)

// DeviceStatus represents the lifecycle state of an edge device
type DeviceStatus string

const (
	DeviceStatusPending DeviceStatus = "pending"
	DeviceStatusActive  DeviceStatus = "active"
	DeviceStatusRevoked DeviceStatus = "revoked"
)

// EdgeDevice represents a per-site collector registered with the cloud
type EdgeDevice struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenant_id"`
	SiteID     string       `json:"site_id,omitempty"`
	Name       string       `json:"name"`
	TokenHash  string       `json:"token_hash"` // SHA-256 of the bearer token; plaintext revealed once at registration
	PublicKey  string       `json:"public_key"` // base64 32-byte X25519 public key
	KeyVersion int          `json:"key_version"`
	Status     DeviceStatus `json:"status"`
	LastSeenAt time.Time    `json:"last_seen_at"`
	CreatedAt  time.Time    `json:"created_at"`
}

// CapabilityLevel gates what an edge device may do with a miner.
// Levels are ordered: DISCOVERY < TELEMETRY < CONTROL.
type CapabilityLevel int

const (
	CapabilityDiscovery CapabilityLevel = 1
	CapabilityTelemetry CapabilityLevel = 2
	CapabilityControl   CapabilityLevel = 3
)

// String returns the level's wire name
func (c CapabilityLevel) String() string {
	switch c {
	case CapabilityDiscovery:
		return "DISCOVERY"
	case CapabilityTelemetry:
		return "TELEMETRY"
	case CapabilityControl:
		return "CONTROL"
	}
	return "LEVEL_" + strconv.Itoa(int(c))
}

// IPEncryptionMode controls how a miner's IP address is stored
type IPEncryptionMode int

const (
	IPModeMask          IPEncryptionMode = 1
	IPModeServerEncrypt IPEncryptionMode = 2
	IPModeE2EE          IPEncryptionMode = 3
)

// E2EEPendingMarker is stored verbatim as the IP value of an E2EE-mode miner
// until the client supplies an envelope. Preserved for compatibility with
// existing fleets; reveal of an E2EE IP is always denied.
const E2EEPendingMarker = "E2EE:pending-client-encryption"

// HostingMiner is the cloud's record of a single ASIC miner
type HostingMiner struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	SiteID           string           `json:"site_id"`
	IPAddress        string           `json:"ip_address"`
	Port             int              `json:"port"` // control API port, default 4028
	IPEncryptionMode IPEncryptionMode `json:"ip_encryption_mode"`
	CapabilityLevel  CapabilityLevel  `json:"capability_level"`
	BoundDeviceID    string           `json:"bound_device_id,omitempty"` // empty = any device may receive the secret
	CreatedAt        time.Time        `json:"created_at"`
}

// AAD is the additional authenticated data bound into the envelope's GCM tag.
// Serialized canonically (sorted keys, no whitespace) before authentication;
// any mutation fails decryption.
type AAD struct {
	SchemaVersion int    `json:"schema_version"`
	KeyVersion    int    `json:"key_version"`
	CreatedAt     string `json:"created_at"` // ISO 8601 UTC
	MinerID       string `json:"miner_id,omitempty"`
}

// Envelope is the on-wire and at-rest encrypted secret record.
// The DEK is sealed to the device public key; the payload is AES-256-GCM
// under the DEK with the canonical AAD serialization authenticated.
type Envelope struct {
	EncryptedPayload string `json:"encrypted_payload"` // base64 AES-GCM ciphertext
	WrappedDEK       string `json:"wrapped_dek"`       // base64 X25519 sealed box
	Nonce            string `json:"nonce"`             // base64 12-byte IV
	AAD              AAD    `json:"aad"`
	Counter          int64  `json:"counter"`
	SchemaVersion    int    `json:"schema_version"`
	KeyVersion       int    `json:"key_version"`
}

// MinerSecret is the cloud's stored ciphertext envelope for one (miner, device) pair
type MinerSecret struct {
	MinerID   string    `json:"miner_id"`
	DeviceID  string    `json:"device_id"`
	Envelope  Envelope  `json:"envelope"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PassphraseBlock is the site-master-passphrase encrypted form used by
// operator-originated encryption. Key = PBKDF2-HMAC-SHA256(passphrase, salt, 100000, 32).
type PassphraseBlock struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Salt       string `json:"salt"`
	Algo       string `json:"algo"`    // must be "AES-256-GCM"
	Version    int    `json:"version"` // must be 1
}

// ScanJobStatus represents IP scan job lifecycle states
type ScanJobStatus string

const (
	ScanStatusPending   ScanJobStatus = "pending"
	ScanStatusRunning   ScanJobStatus = "running"
	ScanStatusCompleted ScanJobStatus = "completed"
	ScanStatusFailed    ScanJobStatus = "failed"
	ScanStatusCancelled ScanJobStatus = "cancelled"
)

// IPScanJob tracks an asynchronous network-range discovery scan
type IPScanJob struct {
	ID               string        `json:"id"`
	TenantID         string        `json:"tenant_id"`
	SiteID           string        `json:"site_id"`
	DeviceID         string        `json:"device_id"`
	RangeStart       string        `json:"ip_range_start"`
	RangeEnd         string        `json:"ip_range_end"`
	CIDR             string        `json:"cidr,omitempty"`
	Status           ScanJobStatus `json:"status"`
	TotalIPs         int           `json:"total_ips"`
	ScannedIPs       int           `json:"scanned_ips"`
	DiscoveredMiners int           `json:"discovered_miners"`
	Error            string        `json:"error,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	StartedAt        time.Time     `json:"started_at,omitempty"`
	FinishedAt       time.Time     `json:"finished_at,omitempty"`
}

// DiscoveredMiner is one probe hit from a scan job.
// (ScanJobID, IPAddress) is unique; IsImported transitions false->true once.
type DiscoveredMiner struct {
	ScanJobID       string    `json:"scan_job_id"`
	IPAddress       string    `json:"ip_address"`
	DetectedModel   string    `json:"detected_model"`
	DetectedFamily  string    `json:"detected_family"`
	ControlPort     int       `json:"control_port"`
	WebPort         int       `json:"web_port,omitempty"`
	IsImported      bool      `json:"is_imported"`
	ImportedMinerID string    `json:"imported_miner_id,omitempty"`
	DiscoveredAt    time.Time `json:"discovered_at"`
}

// MinerStatus is the normalized liveness state in telemetry
type MinerStatus string

const (
	MinerOnline  MinerStatus = "online"
	MinerOffline MinerStatus = "offline"
)

// RawReading is one normalized telemetry sample. Vendor JSON never leaves
// the TCP client; everything downstream works on this record.
type RawReading struct {
	TS           time.Time   `json:"ts"`
	SiteID       string      `json:"site_id"`
	MinerID      string      `json:"miner_id"`
	Status       MinerStatus `json:"status"`
	HashrateTHS  float64     `json:"hashrate_ths"`
	TemperatureC float64     `json:"temperature_c"`
	PowerW       float64     `json:"power_w"`
	FanRPM       int         `json:"fan_rpm"`
	RejectRate   float64     `json:"reject_rate"`
	PoolURL      string      `json:"pool_url"`
}

// LiveRow is the current snapshot for a miner, exactly one per miner id
type LiveRow struct {
	MinerID      string      `json:"miner_id"`
	SiteID       string      `json:"site_id"`
	Status       MinerStatus `json:"status"`
	HashrateTHS  float64     `json:"hashrate_ths"`
	TemperatureC float64     `json:"temperature_c"`
	PowerW       float64     `json:"power_w"`
	FanRPM       int         `json:"fan_rpm"`
	RejectRate   float64     `json:"reject_rate"`
	PoolURL      string      `json:"pool_url"`
	LastSeen     time.Time   `json:"last_seen"`
}

// Bucket5m is one 5-minute aggregate. BucketTS is aligned to 5-minute
// boundaries; insert is idempotent on (BucketTS, SiteID, MinerID).
type Bucket5m struct {
	BucketTS       time.Time `json:"bucket_ts"`
	SiteID         string    `json:"site_id"`
	MinerID        string    `json:"miner_id"`
	AvgHashrateTHS float64   `json:"avg_hashrate_ths"`
	MaxHashrateTHS float64   `json:"max_hashrate_ths"`
	MinHashrateTHS float64   `json:"min_hashrate_ths"`
	AvgTempC       float64   `json:"avg_temperature_c"`
	MaxTempC       float64   `json:"max_temperature_c"`
	AvgPowerW      float64   `json:"avg_power_w"`
	AvgFanRPM      float64   `json:"avg_fan_rpm"`
	OnlineRatio    float64   `json:"online_ratio"`
	Samples        int       `json:"samples"`
}

// DailyRow is one per-day aggregate rolled up from 5-minute buckets
type DailyRow struct {
	Day            time.Time `json:"day"` // midnight UTC
	SiteID         string    `json:"site_id"`
	MinerID        string    `json:"miner_id"`
	AvgHashrateTHS float64   `json:"avg_hashrate_ths"`
	MaxHashrateTHS float64   `json:"max_hashrate_ths"`
	MinHashrateTHS float64   `json:"min_hashrate_ths"`
	AvgTempC       float64   `json:"avg_temperature_c"`
	MaxTempC       float64   `json:"max_temperature_c"`
	AvgPowerW      float64   `json:"avg_power_w"`
	OnlineRatio    float64   `json:"online_ratio"`
	Samples        int       `json:"samples"`
}

// CommandType enumerates the operations an edge may execute on a miner
type CommandType string

const (
	CommandReboot        CommandType = "reboot"
	CommandPowerMode     CommandType = "power_mode"
	CommandChangePool    CommandType = "change_pool"
	CommandSetFreq       CommandType = "set_freq"
	CommandThermalPolicy CommandType = "thermal_policy"
	CommandLED           CommandType = "led"
)

// CommandStatus represents the cloud-side lifecycle of a command
type CommandStatus string

const (
	CommandQueued    CommandStatus = "queued"
	CommandPulled    CommandStatus = "pulled"
	CommandSucceeded CommandStatus = "succeeded"
	CommandFailed    CommandStatus = "failed"
	CommandPartial   CommandStatus = "partial"
)

// TargetStatus is the per-miner outcome of a command execution
type TargetStatus string

const (
	TargetSucceeded TargetStatus = "SUCCEEDED"
	TargetFailed    TargetStatus = "FAILED"
)

// CommandResult is one per-target entry in a command acknowledgement
type CommandResult struct {
	MinerID string                 `json:"miner_id"`
	Status  TargetStatus           `json:"status"`
	Message string                 `json:"message"`
	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// CommandRecord is the cloud-side record of a queued command
type CommandRecord struct {
	ID                   string                 `json:"command_id"`
	TenantID             string                 `json:"tenant_id"`
	SiteID               string                 `json:"site_id"`
	DeviceID             string                 `json:"device_id"`
	Type                 CommandType            `json:"command_type"`
	Payload              map[string]interface{} `json:"payload"`
	TargetIDs            []string               `json:"target_ids"`
	EncryptedCredentials map[string]Envelope    `json:"encrypted_credentials,omitempty"`
	Status               CommandStatus          `json:"status"`
	Results              []CommandResult        `json:"results,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
	PulledAt             time.Time              `json:"pulled_at,omitempty"`
	AckedAt              time.Time              `json:"acked_at,omitempty"`
}

// AuditResult classifies the outcome recorded in an audit event
type AuditResult string

const (
	AuditSuccess AuditResult = "success"
	AuditError   AuditResult = "error"
	AuditDenied  AuditResult = "denied"
)

// AuditEvent is one append-only entry in the device audit log
type AuditEvent struct {
	ID           string            `json:"id"`
	Seq          uint64            `json:"seq"`
	Type         string            `json:"event_type"`
	TenantID     string            `json:"tenant_id"`
	DeviceID     string            `json:"device_id,omitempty"`
	MinerID      string            `json:"miner_id,omitempty"`
	ActorID      string            `json:"actor_id,omitempty"`
	ActorType    string            `json:"actor_type,omitempty"`
	IP           string            `json:"ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Data         map[string]string `json:"event_data,omitempty"`
	Result       AuditResult       `json:"result"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}
