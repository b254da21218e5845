package cloud

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hashpath/foreman/pkg/audit"
	"github.com/hashpath/foreman/pkg/envelope"
	"github.com/hashpath/foreman/pkg/gate"
	"github.com/hashpath/foreman/pkg/log"
	"github.com/hashpath/foreman/pkg/metrics"
	"github.com/hashpath/foreman/pkg/scanner"
	"github.com/hashpath/foreman/pkg/types"
)

// DeniedError is a capability-gate refusal carrying what the API layer
// needs for its 403 body
type DeniedError struct {
	Reason        string
	RequiredLevel types.CapabilityLevel
	MinerLevel    types.CapabilityLevel
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("secret access denied: %s", e.Reason)
}

// ErrRevealDenied is returned for IP reveal of an end-to-end encrypted
// miner; the cloud cannot decrypt what it never could read
var ErrRevealDenied = errors.New("ip reveal denied for e2ee miner")

// ErrAlreadyAcked is returned when a command in a terminal state receives
// a second acknowledgement
var ErrAlreadyAcked = errors.New("command already acknowledged")

// Manager is the cloud control plane: device registry, miner registry,
// secret distribution, command queue, and scan job bookkeeping, with
// every privileged action audited
type Manager struct {
	store  *Store
	auditL *audit.Log
	logger zerolog.Logger
}

// NewManager wires a store and an audit log
func NewManager(store *Store, auditLog *audit.Log) *Manager {
	return &Manager{
		store:  store,
		auditL: auditLog,
		logger: log.WithComponent("cloud"),
	}
}

// Store exposes the backing store for read paths that need no policy
func (m *Manager) Store() *Store {
	return m.store
}

func (m *Manager) audit(event types.AuditEvent) {
	if m.auditL == nil {
		return
	}
	if err := m.auditL.Append(event); err != nil {
		m.logger.Error().Err(err).Str("event_type", event.Type).Msg("audit append failed")
	}
}

// HashToken returns the stored form of a bearer token
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// RegisterDevice creates an active device and returns it along with the
// plaintext bearer token. The token is never recoverable afterwards; only
// its SHA-256 is stored.
func (m *Manager) RegisterDevice(tenantID, siteID, name, publicKey string) (*types.EdgeDevice, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("failed to generate device token: %w", err)
	}
	token := "fdt_" + base64.RawURLEncoding.EncodeToString(raw)

	device := &types.EdgeDevice{
		ID:         uuid.New().String(),
		TenantID:   tenantID,
		SiteID:     siteID,
		Name:       name,
		TokenHash:  HashToken(token),
		PublicKey:  publicKey,
		KeyVersion: 1,
		Status:     types.DeviceStatusActive,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.store.CreateDevice(device); err != nil {
		return nil, "", err
	}

	metrics.DevicesTotal.WithLabelValues(string(device.Status)).Inc()
	m.audit(types.AuditEvent{
		Type:     audit.EventDeviceRegister,
		TenantID: tenantID,
		DeviceID: device.ID,
		Data:     map[string]string{"name": name, "site_id": siteID},
	})
	m.logger.Info().Str("device_id", device.ID).Str("site_id", siteID).Msg("device registered")
	return device, token, nil
}

// AuthenticateDevice resolves a bearer token to its device
func (m *Manager) AuthenticateDevice(token string) (*types.EdgeDevice, error) {
	device, err := m.store.GetDeviceByTokenHash(HashToken(token))
	if err != nil {
		return nil, err
	}
	if device.Status != types.DeviceStatusActive {
		return nil, fmt.Errorf("device %s is %s", device.ID, device.Status)
	}
	return device, nil
}

// RevokeDevice flips a device to revoked. Revoked is terminal.
func (m *Manager) RevokeDevice(deviceID string) error {
	device, err := m.store.GetDevice(deviceID)
	if err != nil {
		return err
	}
	old := device.Status
	device.Status = types.DeviceStatusRevoked
	if err := m.store.UpdateDevice(device); err != nil {
		return err
	}
	metrics.DevicesTotal.WithLabelValues(string(old)).Dec()
	metrics.DevicesTotal.WithLabelValues(string(device.Status)).Inc()
	m.audit(types.AuditEvent{
		Type:     audit.EventDeviceRevoke,
		TenantID: device.TenantID,
		DeviceID: deviceID,
	})
	return nil
}

// RotateDeviceKey installs a new public key, bumps key_version, and drops
// every stored secret for the device. Envelopes sealed to the old key can
// never be opened again, so keeping them would only feed the edge
// undecryptable data.
func (m *Manager) RotateDeviceKey(deviceID, newPublicKey string) (*types.EdgeDevice, error) {
	device, err := m.store.GetDevice(deviceID)
	if err != nil {
		return nil, err
	}
	device.PublicKey = newPublicKey
	device.KeyVersion++
	if err := m.store.UpdateDevice(device); err != nil {
		return nil, err
	}

	dropped, err := m.store.DeleteSecretsByDevice(deviceID)
	if err != nil {
		return nil, err
	}

	m.audit(types.AuditEvent{
		Type:     audit.EventDeviceKeyRotate,
		TenantID: device.TenantID,
		DeviceID: deviceID,
		Data: map[string]string{
			"key_version":     fmt.Sprintf("%d", device.KeyVersion),
			"secrets_dropped": fmt.Sprintf("%d", dropped),
		},
	})
	m.logger.Info().
		Str("device_id", deviceID).
		Int("key_version", device.KeyVersion).
		Int("secrets_dropped", dropped).
		Msg("device key rotated")
	return device, nil
}

// Heartbeat updates last_seen_at and returns the new timestamp
func (m *Manager) Heartbeat(deviceID string) (time.Time, error) {
	device, err := m.store.GetDevice(deviceID)
	if err != nil {
		return time.Time{}, err
	}
	device.LastSeenAt = time.Now().UTC()
	if err := m.store.UpdateDevice(device); err != nil {
		return time.Time{}, err
	}
	return device.LastSeenAt, nil
}

// Miner registry

// CreateMiner registers a miner, applying the IP encryption mode. Mode
// SERVER_ENCRYPT stores the address as a passphrase block; mode E2EE
// stores the pending marker until a client supplies ciphertext.
func (m *Manager) CreateMiner(miner *types.HostingMiner, passphrase string) (*types.HostingMiner, error) {
	if miner.ID == "" {
		miner.ID = uuid.New().String()
	}
	if miner.Port == 0 {
		miner.Port = 4028
	}
	if miner.CapabilityLevel == 0 {
		miner.CapabilityLevel = types.CapabilityTelemetry
	}
	if miner.IPEncryptionMode == 0 {
		miner.IPEncryptionMode = types.IPModeMask
	}
	miner.CreatedAt = time.Now().UTC()

	if err := m.applyIPMode(miner, miner.IPAddress, miner.IPEncryptionMode, passphrase); err != nil {
		return nil, err
	}
	if err := m.store.CreateMiner(miner); err != nil {
		return nil, err
	}
	metrics.MinersTotal.WithLabelValues(miner.CapabilityLevel.String()).Inc()
	return miner, nil
}

// applyIPMode encodes the stored ip_address field for a mode
func (m *Manager) applyIPMode(miner *types.HostingMiner, plainIP string, mode types.IPEncryptionMode, passphrase string) error {
	switch mode {
	case types.IPModeMask:
		miner.IPAddress = plainIP
	case types.IPModeServerEncrypt:
		if passphrase == "" {
			return fmt.Errorf("server-encrypt mode requires a site passphrase")
		}
		block, err := envelope.EncryptWithPassphrase(passphrase, []byte(plainIP))
		if err != nil {
			return err
		}
		encoded, err := encodeBlock(block)
		if err != nil {
			return err
		}
		miner.IPAddress = encoded
	case types.IPModeE2EE:
		miner.IPAddress = types.E2EEPendingMarker
	default:
		return fmt.Errorf("unknown ip encryption mode %d", mode)
	}
	miner.IPEncryptionMode = mode
	return nil
}

// SetIPMode re-encodes a miner's address under a new mode. The caller
// supplies the plaintext address; the old stored form is discarded.
func (m *Manager) SetIPMode(minerID, plainIP string, mode types.IPEncryptionMode, passphrase string) error {
	miner, err := m.store.GetMiner(minerID)
	if err != nil {
		return err
	}
	oldMode := miner.IPEncryptionMode
	if err := m.applyIPMode(miner, plainIP, mode, passphrase); err != nil {
		return err
	}
	if err := m.store.UpdateMiner(miner); err != nil {
		return err
	}
	m.audit(types.AuditEvent{
		Type:     audit.EventIPModeChange,
		TenantID: miner.TenantID,
		MinerID:  minerID,
		Data: map[string]string{
			"old_mode": fmt.Sprintf("%d", oldMode),
			"new_mode": fmt.Sprintf("%d", mode),
		},
	})
	return nil
}

// RevealIP returns a miner's plaintext address. Mask mode returns the
// stored value, server-encrypt decrypts with the supplied passphrase, and
// E2EE is always denied: the cloud holds only ciphertext it cannot open.
// Every reveal attempt is audited, denials included.
func (m *Manager) RevealIP(minerID, actorID string, passphrase string) (string, error) {
	miner, err := m.store.GetMiner(minerID)
	if err != nil {
		return "", err
	}

	event := types.AuditEvent{
		Type:     audit.EventIPReveal,
		TenantID: miner.TenantID,
		MinerID:  minerID,
		ActorID:  actorID,
		Data:     map[string]string{"mode": fmt.Sprintf("%d", miner.IPEncryptionMode)},
	}

	switch miner.IPEncryptionMode {
	case types.IPModeMask:
		m.audit(event)
		return miner.IPAddress, nil

	case types.IPModeServerEncrypt:
		block, err := decodeBlock(miner.IPAddress)
		if err != nil {
			event.Result = types.AuditError
			event.ErrorMessage = "stored address block corrupt"
			m.audit(event)
			return "", err
		}
		plain, err := envelope.DecryptWithPassphrase(passphrase, block)
		if err != nil {
			event.Result = types.AuditError
			event.ErrorMessage = "passphrase decryption failed"
			m.audit(event)
			return "", err
		}
		m.audit(event)
		return string(plain), nil

	case types.IPModeE2EE:
		event.Result = types.AuditDenied
		m.audit(event)
		return "", ErrRevealDenied

	default:
		return "", fmt.Errorf("unknown ip encryption mode %d", miner.IPEncryptionMode)
	}
}

// SetCapability updates a miner's capability level
func (m *Manager) SetCapability(minerID string, level types.CapabilityLevel) error {
	miner, err := m.store.GetMiner(minerID)
	if err != nil {
		return err
	}
	old := miner.CapabilityLevel
	miner.CapabilityLevel = level
	if err := m.store.UpdateMiner(miner); err != nil {
		return err
	}
	metrics.MinersTotal.WithLabelValues(old.String()).Dec()
	metrics.MinersTotal.WithLabelValues(level.String()).Inc()
	m.audit(types.AuditEvent{
		Type:     audit.EventCapabilityUpdate,
		TenantID: miner.TenantID,
		MinerID:  minerID,
		Data: map[string]string{
			"old_level": fmt.Sprintf("%d", old),
			"new_level": fmt.Sprintf("%d", level),
		},
	})
	return nil
}

// Secret distribution

// UploadSecret stores a client-produced envelope for (miner, device).
// Counter and key-version violations surface as typed errors and are
// audited as denied writes.
func (m *Manager) UploadSecret(secret *types.MinerSecret) error {
	err := m.store.PutSecret(secret)

	event := types.AuditEvent{
		Type:     audit.EventSecretUpdate,
		DeviceID: secret.DeviceID,
		MinerID:  secret.MinerID,
		Data:     map[string]string{"counter": fmt.Sprintf("%d", secret.Envelope.Counter)},
	}
	if miner, merr := m.store.GetMiner(secret.MinerID); merr == nil {
		event.TenantID = miner.TenantID
	}
	if err != nil {
		metrics.SecretUploadsRejected.WithLabelValues(rejectionCause(err)).Inc()
		event.Result = types.AuditDenied
		event.ErrorMessage = err.Error()
		m.audit(event)
		return err
	}
	m.audit(event)
	return nil
}

func rejectionCause(err error) string {
	switch {
	case errors.Is(err, ErrCounterRegression):
		return "counter_regression"
	case errors.Is(err, ErrKeyVersionMismatch):
		return "key_version_mismatch"
	default:
		return "other"
	}
}

// PullSecret releases one envelope after the capability gate passes.
// Denials come back as *DeniedError and are audited with the reason.
func (m *Manager) PullSecret(device *types.EdgeDevice, minerID string) (*types.Envelope, error) {
	miner, err := m.store.GetMiner(minerID)
	if err != nil {
		return nil, err
	}

	decision := gate.Evaluate(device, miner, 0)
	if !decision.Allowed {
		m.audit(types.AuditEvent{
			Type:     audit.EventSecretPull,
			TenantID: miner.TenantID,
			DeviceID: device.ID,
			MinerID:  minerID,
			Result:   types.AuditDenied,
			Data:     map[string]string{"reason": decision.Reason},
		})
		return nil, &DeniedError{
			Reason:        decision.Reason,
			RequiredLevel: types.CapabilityControl,
			MinerLevel:    miner.CapabilityLevel,
		}
	}

	secret, err := m.store.GetSecret(minerID, device.ID)
	if err != nil {
		return nil, err
	}
	m.audit(types.AuditEvent{
		Type:     audit.EventSecretPull,
		TenantID: miner.TenantID,
		DeviceID: device.ID,
		MinerID:  minerID,
	})
	return &secret.Envelope, nil
}

// BulkPull is the result of a filtered bulk secret fetch
type BulkPull struct {
	Secrets           []types.Envelope
	SkippedCapability int
	SkippedBound      int
}

// PullSecrets returns every envelope the device is entitled to for a
// site, filtered to counters above sinceCounter. The since filter is
// advisory; the edge deduplicates on (miner, counter) anyway.
func (m *Manager) PullSecrets(device *types.EdgeDevice, siteID string, sinceCounter int64) (*BulkPull, error) {
	miners, err := m.store.ListMinersBySite(siteID)
	if err != nil {
		return nil, err
	}

	filtered := gate.FilterBulk(device, miners)
	out := &BulkPull{
		SkippedCapability: filtered.SkippedCapability,
		SkippedBound:      filtered.SkippedBound,
	}

	for _, miner := range filtered.Entitled {
		secret, err := m.store.GetSecret(miner.ID, device.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if secret.Envelope.Counter > sinceCounter {
			out.Secrets = append(out.Secrets, secret.Envelope)
		}
	}

	m.audit(types.AuditEvent{
		Type:     audit.EventSecretPullBulk,
		TenantID: device.TenantID,
		DeviceID: device.ID,
		Data: map[string]string{
			"site_id":            siteID,
			"returned":           fmt.Sprintf("%d", len(out.Secrets)),
			"skipped_capability": fmt.Sprintf("%d", out.SkippedCapability),
			"skipped_bound":      fmt.Sprintf("%d", out.SkippedBound),
		},
	})
	return out, nil
}

// Command queue

// EnqueueCommand persists a queued command for one device. CONTROL-level
// targets get their stored envelope attached so the edge can authenticate
// to the miner without another round-trip.
func (m *Manager) EnqueueCommand(cmd *types.CommandRecord) (*types.CommandRecord, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	cmd.Status = types.CommandQueued
	cmd.CreatedAt = time.Now().UTC()

	for _, targetID := range cmd.TargetIDs {
		miner, err := m.store.GetMiner(targetID)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", targetID, err)
		}
		if miner.CapabilityLevel != types.CapabilityControl {
			continue
		}
		secret, err := m.store.GetSecret(targetID, cmd.DeviceID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if cmd.EncryptedCredentials == nil {
			cmd.EncryptedCredentials = map[string]types.Envelope{}
		}
		cmd.EncryptedCredentials[targetID] = secret.Envelope
	}

	if err := m.store.CreateCommand(cmd); err != nil {
		return nil, err
	}
	metrics.CommandsQueued.Inc()
	m.audit(types.AuditEvent{
		Type:     audit.EventCommandQueue,
		TenantID: cmd.TenantID,
		DeviceID: cmd.DeviceID,
		Data: map[string]string{
			"command_id":   cmd.ID,
			"command_type": string(cmd.Type),
			"targets":      fmt.Sprintf("%d", len(cmd.TargetIDs)),
		},
	})
	return cmd, nil
}

// PollCommands hands queued commands to the edge, oldest first
func (m *Manager) PollCommands(device *types.EdgeDevice, siteID string, limit int) ([]*types.CommandRecord, error) {
	cmds, err := m.store.PullCommands(siteID, device.ID, limit)
	if err != nil {
		return nil, err
	}
	if len(cmds) > 0 {
		m.audit(types.AuditEvent{
			Type:     audit.EventCommandPull,
			TenantID: device.TenantID,
			DeviceID: device.ID,
			Data:     map[string]string{"count": fmt.Sprintf("%d", len(cmds))},
		})
	}
	return cmds, nil
}

// AckCommand records per-target results and moves the command to its
// terminal state: succeeded when every target succeeded, failed when
// every target failed, partial otherwise. A second ACK is rejected.
func (m *Manager) AckCommand(device *types.EdgeDevice, commandID string, results []types.CommandResult) (*types.CommandRecord, error) {
	cmd, err := m.store.GetCommand(commandID)
	if err != nil {
		return nil, err
	}
	if cmd.DeviceID != device.ID {
		return nil, fmt.Errorf("command %s is not addressed to device %s", commandID, device.ID)
	}
	switch cmd.Status {
	case types.CommandSucceeded, types.CommandFailed, types.CommandPartial:
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyAcked, commandID, cmd.Status)
	}
	if err := matchResultTargets(cmd.TargetIDs, results); err != nil {
		return nil, fmt.Errorf("%w: command %s", err, commandID)
	}

	succeeded := 0
	for _, r := range results {
		if r.Status == types.TargetSucceeded {
			succeeded++
		}
	}
	switch {
	case len(results) > 0 && succeeded == len(results):
		cmd.Status = types.CommandSucceeded
	case succeeded == 0:
		cmd.Status = types.CommandFailed
	default:
		cmd.Status = types.CommandPartial
	}
	cmd.Results = results
	cmd.AckedAt = time.Now().UTC()

	if err := m.store.UpdateCommand(cmd); err != nil {
		return nil, err
	}
	m.audit(types.AuditEvent{
		Type:     audit.EventCommandAck,
		TenantID: cmd.TenantID,
		DeviceID: device.ID,
		Data: map[string]string{
			"command_id": commandID,
			"status":     string(cmd.Status),
			"targets":    fmt.Sprintf("%d", len(results)),
			"succeeded":  fmt.Sprintf("%d", succeeded),
		},
	})
	return cmd, nil
}

// ErrResultMismatch is returned when an ACK's per-target results do not
// cover the command's targets exactly
var ErrResultMismatch = errors.New("results do not match command targets")

// matchResultTargets requires the results' miner-id multiset to equal the
// command's target_ids: one result per target, no extras, no repeats
func matchResultTargets(targetIDs []string, results []types.CommandResult) error {
	want := map[string]int{}
	for _, id := range targetIDs {
		want[id]++
	}
	for _, r := range results {
		if want[r.MinerID] == 0 {
			return fmt.Errorf("%w: unexpected result for miner %s", ErrResultMismatch, r.MinerID)
		}
		want[r.MinerID]--
	}
	for id, n := range want {
		if n > 0 {
			return fmt.Errorf("%w: missing result for miner %s", ErrResultMismatch, id)
		}
	}
	return nil
}

// Scan jobs

// CreateScanJob validates the range and persists a pending job
func (m *Manager) CreateScanJob(job *types.IPScanJob) (*types.IPScanJob, error) {
	spec := job.CIDR
	if spec == "" {
		spec = job.RangeStart + "-" + job.RangeEnd
	}
	ips, err := scanner.ExpandRange(spec, 0)
	if err != nil {
		return nil, err
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = types.ScanStatusPending
	job.TotalIPs = len(ips)
	job.CreatedAt = time.Now().UTC()

	if err := m.store.CreateScanJob(job); err != nil {
		return nil, err
	}
	metrics.ScanJobsTotal.WithLabelValues(string(job.Status)).Inc()
	m.audit(types.AuditEvent{
		Type:     audit.EventScanCreate,
		TenantID: job.TenantID,
		DeviceID: job.DeviceID,
		Data:     map[string]string{"scan_job_id": job.ID, "total_ips": fmt.Sprintf("%d", job.TotalIPs)},
	})
	return job, nil
}

// StartScan flips pending to running when the edge picks the job up
func (m *Manager) StartScan(jobID string) error {
	job, err := m.store.GetScanJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != types.ScanStatusPending {
		return fmt.Errorf("scan %s is %s, want pending", jobID, job.Status)
	}
	job.Status = types.ScanStatusRunning
	job.StartedAt = time.Now().UTC()
	if err := m.store.UpdateScanJob(job); err != nil {
		return err
	}
	moveScanGauge(types.ScanStatusPending, job.Status)
	m.audit(types.AuditEvent{
		Type:     audit.EventScanStart,
		TenantID: job.TenantID,
		DeviceID: job.DeviceID,
		Data:     map[string]string{"scan_job_id": jobID},
	})
	return nil
}

// ReportScanProgress updates the running counters
func (m *Manager) ReportScanProgress(jobID string, scanned, discovered int) error {
	job, err := m.store.GetScanJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != types.ScanStatusRunning {
		return fmt.Errorf("scan %s is %s, want running", jobID, job.Status)
	}
	job.ScannedIPs = scanned
	job.DiscoveredMiners = discovered
	if err := m.store.UpdateScanJob(job); err != nil {
		return err
	}
	m.audit(types.AuditEvent{
		Type:     audit.EventScanProgress,
		TenantID: job.TenantID,
		DeviceID: job.DeviceID,
		Data: map[string]string{
			"scan_job_id": jobID,
			"scanned":     fmt.Sprintf("%d", scanned),
			"discovered":  fmt.Sprintf("%d", discovered),
		},
	})
	return nil
}

// ReportScanResults stores a batch of discoveries for a running job.
// Duplicate (job, ip) pairs are silently skipped.
func (m *Manager) ReportScanResults(jobID string, found []types.DiscoveredMiner) (int, error) {
	job, err := m.store.GetScanJob(jobID)
	if err != nil {
		return 0, err
	}
	if job.Status != types.ScanStatusRunning {
		return 0, fmt.Errorf("scan %s is %s, want running", jobID, job.Status)
	}

	inserted := 0
	for i := range found {
		found[i].ScanJobID = jobID
		ok, err := m.store.AddDiscovered(&found[i])
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

// CompleteScan moves a running job to completed, or failed when errMsg is
// set
func (m *Manager) CompleteScan(jobID string, scanned, discovered int, errMsg string) error {
	job, err := m.store.GetScanJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != types.ScanStatusRunning {
		return fmt.Errorf("scan %s is %s, want running", jobID, job.Status)
	}
	job.ScannedIPs = scanned
	job.DiscoveredMiners = discovered
	job.FinishedAt = time.Now().UTC()
	if errMsg != "" {
		job.Status = types.ScanStatusFailed
		job.Error = errMsg
	} else {
		job.Status = types.ScanStatusCompleted
	}
	if err := m.store.UpdateScanJob(job); err != nil {
		return err
	}
	moveScanGauge(types.ScanStatusRunning, job.Status)
	m.audit(types.AuditEvent{
		Type:     audit.EventScanComplete,
		TenantID: job.TenantID,
		DeviceID: job.DeviceID,
		Data:     map[string]string{"scan_job_id": jobID, "status": string(job.Status)},
	})
	return nil
}

// CancelScan flips a running job to cancelled
func (m *Manager) CancelScan(jobID string) error {
	job, err := m.store.GetScanJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != types.ScanStatusRunning {
		return fmt.Errorf("scan %s is %s, want running", jobID, job.Status)
	}
	job.Status = types.ScanStatusCancelled
	job.FinishedAt = time.Now().UTC()
	if err := m.store.UpdateScanJob(job); err != nil {
		return err
	}
	moveScanGauge(types.ScanStatusRunning, job.Status)
	return nil
}

func moveScanGauge(from, to types.ScanJobStatus) {
	metrics.ScanJobsTotal.WithLabelValues(string(from)).Dec()
	metrics.ScanJobsTotal.WithLabelValues(string(to)).Inc()
}

// DeleteScan removes a job and its discoveries
func (m *Manager) DeleteScan(jobID string) error {
	job, err := m.store.GetScanJob(jobID)
	if err != nil {
		return err
	}
	if err := m.store.DeleteScanJob(jobID); err != nil {
		return err
	}
	metrics.ScanJobsTotal.WithLabelValues(string(job.Status)).Dec()
	m.audit(types.AuditEvent{
		Type:     audit.EventScanDelete,
		TenantID: job.TenantID,
		DeviceID: job.DeviceID,
		Data:     map[string]string{"scan_job_id": jobID},
	})
	return nil
}

// ImportDiscovered promotes a discovery into a registered miner. The
// discovery's is_imported flag flips once and never back.
func (m *Manager) ImportDiscovered(scanJobID, ip string, miner *types.HostingMiner, passphrase string) (*types.HostingMiner, error) {
	created, err := m.CreateMiner(miner, passphrase)
	if err != nil {
		return nil, err
	}
	if err := m.store.MarkImported(scanJobID, ip, created.ID); err != nil {
		return nil, err
	}
	return created, nil
}
