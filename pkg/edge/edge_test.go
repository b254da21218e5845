package edge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashpath/foreman/pkg/envelope"
	"github.com/hashpath/foreman/pkg/types"
)

// stubCloud is a minimal cloud API double. Poll keeps returning whatever is
// in commands, so redelivery scenarios are driven by the test.
type stubCloud struct {
	mu         sync.Mutex
	commands   []types.CommandRecord
	acks       map[string][][]types.CommandResult
	ackStatus  int
	keyVersion int
	secrets    []types.Envelope
	telemetry  [][]types.RawReading
	heartbeats int
}

func newStubCloud() *stubCloud {
	return &stubCloud{
		acks:       map[string][][]types.CommandResult{},
		ackStatus:  http.StatusOK,
		keyVersion: 1,
	}
}

func (s *stubCloud) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /devices/{id}/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.heartbeats++
		s.mu.Unlock()
		writeOK(w, map[string]string{"last_seen_at": time.Now().Format(time.RFC3339)})
	})
	mux.HandleFunc("GET /edge/secrets", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		writeOK(w, map[string]interface{}{
			"key_version": s.keyVersion,
			"secrets":     s.secrets,
			"total":       len(s.secrets),
		})
	})
	mux.HandleFunc("GET /edge/v1/commands/poll", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		writeOK(w, map[string]interface{}{"commands": s.commands})
	})
	mux.HandleFunc("POST /edge/v1/commands/{id}/ack", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Results []types.CommandResult `json:"results"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.ackStatus != http.StatusOK {
			w.WriteHeader(s.ackStatus)
			json.NewEncoder(w).Encode(map[string]string{"error": "ack rejected"})
			return
		}
		id := r.PathValue("id")
		s.acks[id] = append(s.acks[id], req.Results)
		writeOK(w, map[string]bool{"ok": true})
	})
	mux.HandleFunc("POST /edge/telemetry", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Readings []types.RawReading `json:"readings"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		s.mu.Lock()
		s.telemetry = append(s.telemetry, req.Readings)
		s.mu.Unlock()
		writeOK(w, map[string]int{"accepted": len(req.Readings)})
	})
	return mux
}

func writeOK(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *stubCloud) ackCount(commandID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.acks[commandID])
}

func testRunner(t *testing.T, srv *httptest.Server, dataDir string) *Runner {
	t.Helper()
	cfg := &Config{
		DeviceID:         "dev-1",
		SiteID:           "site-1",
		APIBaseURL:       srv.URL,
		AuthToken:        "fdt_test",
		MinerMode:        ModeSimulated,
		ExecutionEnabled: true,
		PollInterval:     time.Second,
		DataDir:          dataDir,
	}
	r, err := NewRunner(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { r.cache.Close() })
	return r
}

func TestDedupPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	d, err := OpenDedup(dir)
	require.NoError(t, err)
	require.NoError(t, d.Mark("cmd-1"))
	assert.True(t, d.Seen("cmd-1"))

	reopened, err := OpenDedup(dir)
	require.NoError(t, err)
	assert.True(t, reopened.Seen("cmd-1"))
	assert.False(t, reopened.Seen("cmd-2"))
}

func TestDedupCapsNewestEntries(t *testing.T) {
	d, err := OpenDedup(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < DedupCap+25; i++ {
		require.NoError(t, d.Mark(fmt.Sprintf("cmd-%04d", i)))
	}
	assert.Equal(t, DedupCap, d.Len())
	assert.True(t, d.Seen(fmt.Sprintf("cmd-%04d", DedupCap+24)))
}

func TestDedupCorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DedupFileName), []byte("{not json"), 0600))

	d, err := OpenDedup(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Len())
}

func TestCommandExecutedOnceAcrossRestart(t *testing.T) {
	cloud := newStubCloud()
	srv := httptest.NewServer(cloud.handler())
	defer srv.Close()

	cloud.commands = []types.CommandRecord{{
		ID:        "cmd-c",
		SiteID:    "site-1",
		Type:      types.CommandPowerMode,
		Payload:   map[string]interface{}{"mode": "eco"},
		TargetIDs: []string{"miner-a", "miner-b"},
	}}

	dir := t.TempDir()
	r := testRunner(t, srv, dir)
	r.runCommandPoll(context.Background())

	require.Equal(t, 1, cloud.ackCount("cmd-c"))
	results := cloud.acks["cmd-c"][0]
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, types.TargetSucceeded, res.Status)
	}

	// redelivery within the same process is skipped without a second ack
	r.runCommandPoll(context.Background())
	assert.Equal(t, 1, cloud.ackCount("cmd-c"))

	// a restarted edge reads the persisted ledger and still skips
	restartDir := t.TempDir()
	require.NoError(t, copyFile(filepath.Join(dir, DedupFileName), filepath.Join(restartDir, DedupFileName)))
	restarted := testRunner(t, srv, restartDir)
	restarted.runCommandPoll(context.Background())
	assert.Equal(t, 1, cloud.ackCount("cmd-c"))
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0600)
}

func TestExecutionDisabledFailsTargets(t *testing.T) {
	cloud := newStubCloud()
	srv := httptest.NewServer(cloud.handler())
	defer srv.Close()

	cloud.commands = []types.CommandRecord{{
		ID:        "cmd-disabled",
		Type:      types.CommandReboot,
		TargetIDs: []string{"miner-a"},
	}}

	r := testRunner(t, srv, t.TempDir())
	r.cfg.ExecutionEnabled = false
	r.runCommandPoll(context.Background())

	require.Equal(t, 1, cloud.ackCount("cmd-disabled"))
	res := cloud.acks["cmd-disabled"][0][0]
	assert.Equal(t, types.TargetFailed, res.Status)
	assert.Contains(t, res.Message, "disabled")
	assert.True(t, r.dedup.Seen("cmd-disabled"))
}

func TestFailedAckLeavesCommandUnmarked(t *testing.T) {
	cloud := newStubCloud()
	srv := httptest.NewServer(cloud.handler())
	defer srv.Close()

	cloud.commands = []types.CommandRecord{{
		ID:        "cmd-lost",
		Type:      types.CommandLED,
		Payload:   map[string]interface{}{"state": "on"},
		TargetIDs: []string{"miner-a"},
	}}
	cloud.ackStatus = http.StatusInternalServerError

	r := testRunner(t, srv, t.TempDir())
	r.runCommandPoll(context.Background())
	assert.False(t, r.dedup.Seen("cmd-lost"))

	// once the cloud recovers, redelivery executes and acks normally
	cloud.mu.Lock()
	cloud.ackStatus = http.StatusOK
	cloud.mu.Unlock()
	r.runCommandPoll(context.Background())
	assert.Equal(t, 1, cloud.ackCount("cmd-lost"))
	assert.True(t, r.dedup.Seen("cmd-lost"))
}

func TestSecretPullStoresAndInvalidatesOnRotation(t *testing.T) {
	cloud := newStubCloud()
	srv := httptest.NewServer(cloud.handler())
	defer srv.Close()

	kp, err := envelope.GenerateKeyPair()
	require.NoError(t, err)
	env, err := envelope.Seal(&kp.Public, []byte(`{"ip_address":"10.0.0.5"}`), types.AAD{
		KeyVersion: 1,
		MinerID:    "miner-a",
	}, 1)
	require.NoError(t, err)
	cloud.secrets = []types.Envelope{*env}

	r := testRunner(t, srv, t.TempDir())
	r.runSecretPull(context.Background())

	entry, err := r.cache.Get("miner-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Counter)

	// replayed envelope on the next pull is ignored, not fatal
	r.runSecretPull(context.Background())
	max, err := r.cache.MaxCounter()
	require.NoError(t, err)
	assert.Equal(t, int64(1), max)

	// key rotation on the cloud side drops the cache
	cloud.mu.Lock()
	cloud.keyVersion = 2
	cloud.secrets = nil
	cloud.mu.Unlock()
	r.runSecretPull(context.Background())

	_, err = r.cache.Get("miner-a")
	assert.Error(t, err)
}

func TestTelemetryCollectsKnownMiners(t *testing.T) {
	cloud := newStubCloud()
	srv := httptest.NewServer(cloud.handler())
	defer srv.Close()

	cloud.commands = []types.CommandRecord{{
		ID:        "cmd-t",
		Type:      types.CommandPowerMode,
		Payload:   map[string]interface{}{"mode": "high"},
		TargetIDs: []string{"miner-a"},
	}}

	r := testRunner(t, srv, t.TempDir())
	r.runCommandPoll(context.Background())
	r.runTelemetry(context.Background())

	cloud.mu.Lock()
	defer cloud.mu.Unlock()
	require.Len(t, cloud.telemetry, 1)
	require.Len(t, cloud.telemetry[0], 1)
	reading := cloud.telemetry[0][0]
	assert.Equal(t, "miner-a", reading.MinerID)
	assert.Equal(t, "site-1", reading.SiteID)
	assert.Equal(t, types.MinerOnline, reading.Status)
	assert.Greater(t, reading.HashrateTHS, 200.0) // high mode
}

func TestTelemetrySkipsWhenNoMiners(t *testing.T) {
	cloud := newStubCloud()
	srv := httptest.NewServer(cloud.handler())
	defer srv.Close()

	r := testRunner(t, srv, t.TempDir())
	r.runTelemetry(context.Background())

	cloud.mu.Lock()
	defer cloud.mu.Unlock()
	assert.Empty(t, cloud.telemetry)
}

func TestHeartbeat(t *testing.T) {
	cloud := newStubCloud()
	srv := httptest.NewServer(cloud.handler())
	defer srv.Close()

	r := testRunner(t, srv, t.TempDir())
	r.runHeartbeat(context.Background())
	r.runHeartbeat(context.Background())

	cloud.mu.Lock()
	defer cloud.mu.Unlock()
	assert.Equal(t, 2, cloud.heartbeats)
}

func TestCredentialsDecryptAndZero(t *testing.T) {
	kp, err := envelope.GenerateKeyPair()
	require.NoError(t, err)

	cloud := newStubCloud()
	srv := httptest.NewServer(cloud.handler())
	defer srv.Close()

	r := testRunner(t, srv, t.TempDir())
	r.cfg.HasKey = true
	r.cfg.PrivateKey = kp.Private
	r.keys = kp

	env, err := envelope.Seal(&kp.Public, []byte(`{"ip_address":"10.1.2.3","port":4028,"username":"root","password":"x"}`), types.AAD{
		KeyVersion: 1,
		MinerID:    "miner-a",
	}, 1)
	require.NoError(t, err)

	mc, err := r.credentialsFor("miner-a", map[string]types.Envelope{"miner-a": *env})
	require.NoError(t, err)
	assert.Equal(t, "10.1.2.3", mc.IPAddress)
	assert.Equal(t, 4028, mc.Port)
}

func TestCredentialsMissingKey(t *testing.T) {
	cloud := newStubCloud()
	srv := httptest.NewServer(cloud.handler())
	defer srv.Close()

	r := testRunner(t, srv, t.TempDir())
	_, err := r.credentialsFor("miner-a", nil)
	assert.ErrorContains(t, err, "no device private key")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("EDGE_DEVICE_ID", "dev-1")
	t.Setenv("EDGE_SITE_ID", "site-1")
	t.Setenv("EDGE_API_BASE_URL", "http://cloud.local:8080")
	t.Setenv("EDGE_AUTH_TOKEN", "fdt_abc")
	t.Setenv("EDGE_MINER_MODE", "cgminer")
	t.Setenv("EDGE_EXECUTION_ENABLED", "true")
	t.Setenv("EDGE_POLL_INTERVAL", "10s")
	t.Setenv("EDGE_DATA_DIR", "/var/lib/edge")

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("EDGE_PRIVATE_KEY", base64.StdEncoding.EncodeToString(key))

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "dev-1", cfg.DeviceID)
	assert.Equal(t, ModeCGMiner, cfg.MinerMode)
	assert.True(t, cfg.ExecutionEnabled)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, "/var/lib/edge", cfg.DataDir)
	assert.True(t, cfg.HasKey)
	assert.Equal(t, byte(31), cfg.PrivateKey[31])
}

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("EDGE_DEVICE_ID", "dev-1")
	t.Setenv("EDGE_SITE_ID", "site-1")
	t.Setenv("EDGE_API_BASE_URL", "http://cloud.local:8080")
	t.Setenv("EDGE_AUTH_TOKEN", "fdt_abc")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ModeSimulated, cfg.MinerMode)
	assert.False(t, cfg.ExecutionEnabled)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, ".", cfg.DataDir)
	assert.False(t, cfg.HasKey)
}

func TestConfigFromEnvValidation(t *testing.T) {
	t.Setenv("EDGE_DEVICE_ID", "dev-1")
	t.Setenv("EDGE_SITE_ID", "site-1")
	t.Setenv("EDGE_API_BASE_URL", "http://cloud.local:8080")

	_, err := ConfigFromEnv()
	assert.ErrorContains(t, err, "EDGE_AUTH_TOKEN")

	t.Setenv("EDGE_AUTH_TOKEN", "fdt_abc")
	t.Setenv("EDGE_MINER_MODE", "bitaxe")
	_, err = ConfigFromEnv()
	assert.ErrorContains(t, err, "EDGE_MINER_MODE")

	t.Setenv("EDGE_MINER_MODE", "simulated")
	t.Setenv("EDGE_POLL_INTERVAL", "500ms")
	_, err = ConfigFromEnv()
	assert.ErrorContains(t, err, "at least 1s")
}

func TestRunnerStartStop(t *testing.T) {
	cloud := newStubCloud()
	srv := httptest.NewServer(cloud.handler())
	defer srv.Close()

	r := testRunner(t, srv, t.TempDir())
	r.Start()
	time.Sleep(50 * time.Millisecond)
	r.Stop()

	cloud.mu.Lock()
	defer cloud.mu.Unlock()
	assert.GreaterOrEqual(t, cloud.heartbeats, 1)
}
