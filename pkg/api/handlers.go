package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hashpath/foreman/pkg/cloud"
	"github.com/hashpath/foreman/pkg/metrics"
	"github.com/hashpath/foreman/pkg/scanner"
	"github.com/hashpath/foreman/pkg/telemetry"
	"github.com/hashpath/foreman/pkg/types"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeviceRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID  string `json:"tenant_id"`
		SiteID    string `json:"site_id"`
		Name      string `json:"name"`
		PublicKey string `json:"public_key"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.TenantID == "" || req.Name == "" || req.PublicKey == "" {
		writeError(w, http.StatusBadRequest, "tenant_id, name, and public_key are required")
		return
	}

	device, token, err := s.manager.RegisterDevice(req.TenantID, req.SiteID, req.Name, req.PublicKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Registration failed")
		return
	}

	// the plaintext token appears here once and is never recoverable
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"device_id":    device.ID,
		"device_token": token,
		"key_version":  device.KeyVersion,
	})
}

func (s *Server) handleSecretUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string         `json:"device_id"`
		Envelope types.Envelope `json:"envelope"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	minerID := r.PathValue("id")

	err := s.manager.UploadSecret(&types.MinerSecret{
		MinerID:  minerID,
		DeviceID: req.DeviceID,
		Envelope: req.Envelope,
	})
	if err != nil {
		switch {
		case errors.Is(err, cloud.ErrKeyVersionMismatch):
			expected := 0
			if device, derr := s.manager.Store().GetDevice(req.DeviceID); derr == nil {
				expected = device.KeyVersion
			}
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":                "Envelope key version does not match device key version",
				"expected_key_version": expected,
				"provided_key_version": req.Envelope.KeyVersion,
			})
		case errors.Is(err, cloud.ErrCounterRegression):
			writeError(w, http.StatusBadRequest, "Secret counter must be strictly greater than the stored counter")
		case errors.Is(err, cloud.ErrNotFound):
			writeError(w, http.StatusNotFound, "Device not found")
		default:
			writeError(w, http.StatusInternalServerError, "Secret upload failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"miner_id":  minerID,
		"device_id": req.DeviceID,
		"counter":   req.Envelope.Counter,
	})
}

func (s *Server) handleDevicePubkey(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	target, err := s.manager.Store().GetDevice(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id":   target.ID,
		"public_key":  target.PublicKey,
		"key_version": target.KeyVersion,
	})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	if r.PathValue("id") != device.ID {
		writeError(w, http.StatusForbidden, "Heartbeat for another device")
		return
	}
	seen, err := s.manager.Heartbeat(device.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Heartbeat failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"last_seen_at": seen.Format(time.RFC3339),
	})
}

func (s *Server) handleSecretsBulk(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	siteID := r.URL.Query().Get("site_id")
	if siteID == "" {
		siteID = device.SiteID
	}
	sinceCounter, _ := strconv.ParseInt(r.URL.Query().Get("since_counter"), 10, 64)

	pull, err := s.manager.PullSecrets(device, siteID, sinceCounter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Secret pull failed")
		return
	}
	metrics.SecretPullsTotal.WithLabelValues("allowed").Add(float64(len(pull.Secrets)))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id":          device.ID,
		"key_version":        device.KeyVersion,
		"secrets":            pull.Secrets,
		"total":              len(pull.Secrets),
		"skipped_capability": pull.SkippedCapability,
		"skipped_bound":      pull.SkippedBound,
	})
}

func (s *Server) handleSecretSingle(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	env, err := s.manager.PullSecret(device, r.PathValue("miner_id"))
	if err != nil {
		var denied *cloud.DeniedError
		if errors.As(err, &denied) {
			metrics.SecretPullsTotal.WithLabelValues("denied").Inc()
			writeJSON(w, http.StatusForbidden, map[string]interface{}{
				"error":          "Capability level insufficient",
				"required_level": int(denied.RequiredLevel),
				"miner_level":    int(denied.MinerLevel),
				"reason":         denied.Reason,
			})
			return
		}
		if errors.Is(err, cloud.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Secret not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Secret pull failed")
		return
	}
	metrics.SecretPullsTotal.WithLabelValues("allowed").Inc()
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleEdgeStatus(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	secrets, err := s.manager.Store().ListSecretsByDevice(device.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id":    device.ID,
		"key_version":  device.KeyVersion,
		"secret_count": len(secrets),
		"last_seen_at": device.LastSeenAt.Format(time.RFC3339),
	})
}

func (s *Server) handleSecretAck(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	var req struct {
		MinerIDs []string `json:"miner_ids"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	// decryption receipts are bookkeeping only; the envelope itself
	// already proved entitlement
	writeJSON(w, http.StatusOK, map[string]int{"acknowledged": len(req.MinerIDs)})
}

func (s *Server) handleCommandPoll(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	siteID := r.URL.Query().Get("site_id")
	if siteID == "" {
		siteID = device.SiteID
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	cmds, err := s.manager.PollCommands(device, siteID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Command poll failed")
		return
	}
	if cmds == nil {
		cmds = []*types.CommandRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"commands": cmds})
}

func (s *Server) handleCommandAck(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	var req struct {
		Results []types.CommandResult `json:"results"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	cmd, err := s.manager.AckCommand(device, r.PathValue("id"), req.Results)
	if err != nil {
		if errors.Is(err, cloud.ErrAlreadyAcked) {
			writeError(w, http.StatusConflict, "Command already acknowledged")
			return
		}
		if errors.Is(err, cloud.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Command not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metrics.CommandsAcked.WithLabelValues(string(cmd.Status)).Inc()
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "status": cmd.Status})
}

func (s *Server) handleScanCreate(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	var req struct {
		SiteID     string `json:"site_id"`
		RangeStart string `json:"ip_range_start"`
		RangeEnd   string `json:"ip_range_end"`
		CIDR       string `json:"cidr"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	job, err := s.manager.CreateScanJob(&types.IPScanJob{
		TenantID:   device.TenantID,
		SiteID:     req.SiteID,
		DeviceID:   device.ID,
		RangeStart: req.RangeStart,
		RangeEnd:   req.RangeEnd,
		CIDR:       req.CIDR,
	})
	if err != nil {
		if errors.Is(err, scanner.ErrRangeTooLarge) {
			writeError(w, http.StatusBadRequest, "Scan range too large")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleScanProgress(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	var req struct {
		Started    bool   `json:"started"`
		ScannedIPs int    `json:"scanned_ips"`
		Discovered int    `json:"discovered_miners"`
		Completed  bool   `json:"completed"`
		Error      string `json:"error"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	jobID := r.PathValue("id")

	var err error
	switch {
	case req.Started:
		err = s.manager.StartScan(jobID)
	case req.Completed:
		err = s.manager.CompleteScan(jobID, req.ScannedIPs, req.Discovered, req.Error)
	default:
		err = s.manager.ReportScanProgress(jobID, req.ScannedIPs, req.Discovered)
	}
	if err != nil {
		if errors.Is(err, cloud.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Scan job not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleScanResults(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	var req struct {
		Results []types.DiscoveredMiner `json:"results"`
	}
	if !readJSON(w, r, &req) {
		return
	}

	inserted, err := s.manager.ReportScanResults(r.PathValue("id"), req.Results)
	if err != nil {
		if errors.Is(err, cloud.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Scan job not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"inserted": inserted})
}

func (s *Server) handleTelemetryIngest(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	var req struct {
		Readings []types.RawReading `json:"readings"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	if err := s.store.WriteRawBatch(req.Readings); err != nil {
		writeError(w, http.StatusInternalServerError, "Telemetry write failed")
		return
	}
	metrics.TelemetryRowsIngested.Add(float64(len(req.Readings)))
	writeJSON(w, http.StatusOK, map[string]int{"accepted": len(req.Readings)})
}

func (s *Server) handleTelemetryLive(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	resp, err := s.reader.Live(r.URL.Query().Get("site_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Live read failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTelemetryHistory(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	q := r.URL.Query()
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start")
		return
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end")
		return
	}

	resp, err := s.reader.History(q.Get("site_id"), start, end, telemetry.Resolution(q.Get("resolution")))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTelemetrySummary(w http.ResponseWriter, r *http.Request, device *types.EdgeDevice) {
	sum, err := s.reader.Summary(r.URL.Query().Get("site_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Summary read failed")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
