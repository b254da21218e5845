package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashpath/foreman/pkg/types"
)

func newLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAppendAssignsSequence(t *testing.T) {
	l := newLog(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Append(types.AuditEvent{
			Type:     EventSecretPull,
			TenantID: "t1",
			DeviceID: "dev-1",
		}))
	}

	events, err := l.List(Query{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.CreatedAt.IsZero())
		assert.Equal(t, types.AuditSuccess, e.Result)
	}
}

func TestMaskIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.42", "192.168.x.x"},
		{"10.0.0.1", "10.0.x.x"},
		{"", ""},
		{"not-an-ip", "not-an-ip"},
		{"::1", "::1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskIP(tt.in))
	}
}

func TestMaskRedactsSensitiveKeys(t *testing.T) {
	event := Mask(types.AuditEvent{
		IP: "192.168.1.42",
		Data: map[string]string{
			"ssh_password":   "hunter2",
			"api_token":      "tok-123",
			"client_secret":  "sekrit",
			"credential_ref": "cred-1",
			"public_key":     "AAAA...",
			"private_key":    "BBBB...",
			"miner_count":    "12",
			"range":          "10.0.0.1-10.0.0.50",
		},
	})

	assert.Equal(t, "192.168.x.x", event.IP)
	assert.Equal(t, Redacted, event.Data["ssh_password"])
	assert.Equal(t, Redacted, event.Data["api_token"])
	assert.Equal(t, Redacted, event.Data["client_secret"])
	assert.Equal(t, Redacted, event.Data["credential_ref"])
	assert.Equal(t, Redacted, event.Data["public_key"])
	assert.Equal(t, Redacted, event.Data["private_key"])
	assert.Equal(t, "12", event.Data["miner_count"])
	assert.Equal(t, "10.0.0.1-10.0.0.50", event.Data["range"])
}

func TestMaskTruncatesErrors(t *testing.T) {
	long := strings.Repeat("x", 500)
	event := Mask(types.AuditEvent{ErrorMessage: long})
	assert.Len(t, event.ErrorMessage, maxErrorLen+3)
	assert.True(t, strings.HasSuffix(event.ErrorMessage, "..."))

	short := Mask(types.AuditEvent{ErrorMessage: "boom"})
	assert.Equal(t, "boom", short.ErrorMessage)
}

func TestMaskDoesNotMutateStoredEvent(t *testing.T) {
	l := newLog(t)
	require.NoError(t, l.Append(types.AuditEvent{
		Type:     EventIPReveal,
		TenantID: "t1",
		IP:       "10.1.2.3",
		Data:     map[string]string{"site_secret": "north"},
	}))

	// two reads both come back masked; the second proves the store kept
	// the original intact rather than persisting the first mask
	for i := 0; i < 2; i++ {
		events, err := l.List(Query{TenantID: "t1"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "10.1.x.x", events[0].IP)
		assert.Equal(t, Redacted, events[0].Data["site_secret"])
	}
}

func TestListFilters(t *testing.T) {
	l := newLog(t)
	require.NoError(t, l.Append(types.AuditEvent{Type: EventSecretPull, TenantID: "t1", DeviceID: "dev-1", MinerID: "m1"}))
	require.NoError(t, l.Append(types.AuditEvent{Type: EventCommandAck, TenantID: "t1", DeviceID: "dev-2", MinerID: "m2"}))
	require.NoError(t, l.Append(types.AuditEvent{Type: EventSecretPull, TenantID: "t2", DeviceID: "dev-3", MinerID: "m1"}))

	events, err := l.List(Query{Type: EventSecretPull})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = l.List(Query{TenantID: "t1", Type: EventSecretPull})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "dev-1", events[0].DeviceID)

	events, err = l.List(Query{MinerID: "m1"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = l.List(Query{AfterSeq: 2})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(3), events[0].Seq)

	events, err = l.List(Query{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
