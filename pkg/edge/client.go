package edge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashpath/foreman/pkg/types"
)

// Client talks to the cloud API with the device bearer token
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a cloud API client
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Heartbeat reports liveness
func (c *Client) Heartbeat(ctx context.Context, deviceID string) error {
	return c.do(ctx, http.MethodPost, "/devices/"+deviceID+"/heartbeat", struct{}{}, nil)
}

// SecretsResponse is the bulk pull reply
type SecretsResponse struct {
	DeviceID          string           `json:"device_id"`
	KeyVersion        int              `json:"key_version"`
	Secrets           []types.Envelope `json:"secrets"`
	Total             int              `json:"total"`
	SkippedCapability int              `json:"skipped_capability"`
	SkippedBound      int              `json:"skipped_bound"`
}

// PullSecrets fetches envelopes with counters above sinceCounter
func (c *Client) PullSecrets(ctx context.Context, siteID string, sinceCounter int64) (*SecretsResponse, error) {
	var out SecretsResponse
	path := fmt.Sprintf("/edge/secrets?site_id=%s&since_counter=%d", siteID, sinceCounter)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollCommands fetches up to limit queued commands
func (c *Client) PollCommands(ctx context.Context, siteID string, limit int) ([]types.CommandRecord, error) {
	var out struct {
		Commands []types.CommandRecord `json:"commands"`
	}
	path := fmt.Sprintf("/edge/v1/commands/poll?site_id=%s&limit=%d", siteID, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Commands, nil
}

// AckCommand reports per-target results for one command
func (c *Client) AckCommand(ctx context.Context, commandID string, results []types.CommandResult) error {
	body := map[string]interface{}{"results": results}
	return c.do(ctx, http.MethodPost, "/edge/v1/commands/"+commandID+"/ack", body, nil)
}

// PushTelemetry uploads a batch of normalized readings
func (c *Client) PushTelemetry(ctx context.Context, readings []types.RawReading) error {
	body := map[string]interface{}{"readings": readings}
	return c.do(ctx, http.MethodPost, "/edge/telemetry", body, nil)
}

// CreateScan registers a scan job with the cloud
func (c *Client) CreateScan(ctx context.Context, siteID, rangeStart, rangeEnd, cidr string) (*types.IPScanJob, error) {
	var out types.IPScanJob
	body := map[string]string{
		"site_id":        siteID,
		"ip_range_start": rangeStart,
		"ip_range_end":   rangeEnd,
		"cidr":           cidr,
	}
	if err := c.do(ctx, http.MethodPost, "/edge/scan", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportScanStarted flips the job to running
func (c *Client) ReportScanStarted(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/edge/scan/"+jobID+"/progress", map[string]interface{}{"started": true}, nil)
}

// ReportScanProgress updates the running counters
func (c *Client) ReportScanProgress(ctx context.Context, jobID string, scanned, discovered int) error {
	body := map[string]interface{}{"scanned_ips": scanned, "discovered_miners": discovered}
	return c.do(ctx, http.MethodPost, "/edge/scan/"+jobID+"/progress", body, nil)
}

// ReportScanResults streams a batch of discoveries
func (c *Client) ReportScanResults(ctx context.Context, jobID string, found []types.DiscoveredMiner) error {
	body := map[string]interface{}{"results": found}
	return c.do(ctx, http.MethodPost, "/edge/scan/"+jobID+"/results", body, nil)
}

// ReportScanComplete finishes the job, with errMsg marking failure
func (c *Client) ReportScanComplete(ctx context.Context, jobID string, scanned, discovered int, errMsg string) error {
	body := map[string]interface{}{
		"completed":         true,
		"scanned_ips":       scanned,
		"discovered_miners": discovered,
		"error":             errMsg,
	}
	return c.do(ctx, http.MethodPost, "/edge/scan/"+jobID+"/progress", body, nil)
}
