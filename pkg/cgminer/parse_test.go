package cgminer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplyQuirks(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{
			name: "clean json",
			raw:  `{"STATUS":[{"STATUS":"S"}]}`,
		},
		{
			name: "trailing nuls",
			raw:  `{"STATUS":[{"STATUS":"S"}]}` + "\x00\x00",
		},
		{
			name: "adjacent objects missing comma",
			raw:  `{"STATS":[{"temp1":62}{"temp2":64}],"id":1}`,
		},
		{
			name: "adjacent arrays missing comma",
			raw:  `{"a":[[1,2][3,4]]}`,
		},
		{
			name: "truncated braces",
			raw:  `{"STATUS":[{"STATUS":"S"}`,
		},
		{
			name:    "hopeless garbage",
			raw:     `STATUS=S,Msg=ok|`,
			wantErr: true,
		},
		{
			name:    "empty",
			raw:     "\x00\x00",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := parseReply([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, m)
		})
	}
}

func TestIsSuccess(t *testing.T) {
	s := func(code string) map[string]interface{} {
		return map[string]interface{}{
			"STATUS": []interface{}{map[string]interface{}{"STATUS": code, "Msg": "msg"}},
		}
	}

	assert.True(t, IsSuccess(s("S")))
	assert.True(t, IsSuccess(s("I")))
	assert.False(t, IsSuccess(s("E")))
	assert.False(t, IsSuccess(s("W")))
	assert.False(t, IsSuccess(map[string]interface{}{}))
}

func TestReplyMsg(t *testing.T) {
	reply := map[string]interface{}{
		"STATUS": []interface{}{map[string]interface{}{"STATUS": "E", "Msg": "Invalid command"}},
	}
	assert.Equal(t, "Invalid command", ReplyMsg(reply))
	assert.Equal(t, "", ReplyMsg(map[string]interface{}{}))
}

func TestNormalizeTelemetry(t *testing.T) {
	summary := map[string]interface{}{
		"STATUS":  []interface{}{map[string]interface{}{"STATUS": "S"}},
		"SUMMARY": []interface{}{map[string]interface{}{"GHS 5s": 104000.0, "Device Rejected%": 1.5}},
	}
	stats := map[string]interface{}{
		"STATUS": []interface{}{map[string]interface{}{"STATUS": "S"}},
		"STATS": []interface{}{
			map[string]interface{}{"temp1": 58.0, "temp2": "64", "temp3": 61.0, "fan1": 5880.0, "fan2": 6000.0},
		},
	}
	pools := map[string]interface{}{
		"STATUS": []interface{}{map[string]interface{}{"STATUS": "S"}},
		"POOLS": []interface{}{
			map[string]interface{}{"URL": "stratum+tcp://dead.example:3333", "Status": "Dead"},
			map[string]interface{}{"URL": "stratum+tcp://pool.example:3333", "Status": "Alive"},
		},
	}

	r := NormalizeTelemetry(summary, stats, pools, "site-1", "miner-1")
	assert.Equal(t, "site-1", r.SiteID)
	assert.Equal(t, "miner-1", r.MinerID)
	assert.InDelta(t, 104.0, r.HashrateTHS, 0.001)
	assert.InDelta(t, 64.0, r.TemperatureC, 0.001)
	assert.Equal(t, 6000, r.FanRPM)
	assert.InDelta(t, 0.015, r.RejectRate, 0.0001)
	assert.Equal(t, "stratum+tcp://pool.example:3333", r.PoolURL)
	assert.Equal(t, "online", string(r.Status))
}

func TestNormalizeTelemetryOfflineWhenNoSummary(t *testing.T) {
	r := NormalizeTelemetry(nil, nil, nil, "site-1", "miner-1")
	assert.Equal(t, "offline", string(r.Status))
	assert.Zero(t, r.HashrateTHS)
}

func TestNormalizeTelemetryMHSVariant(t *testing.T) {
	summary := map[string]interface{}{
		"SUMMARY": []interface{}{map[string]interface{}{"MHS av": 98000000.0}},
	}
	r := NormalizeTelemetry(summary, nil, nil, "s", "m")
	assert.InDelta(t, 98.0, r.HashrateTHS, 0.001)
}
