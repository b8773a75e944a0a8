package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"duration string", `"5m"`, 5 * time.Minute, false},
		{"compound string", `"1h30m"`, 90 * time.Minute, false},
		{"numeric nanoseconds", `1000000000`, time.Second, false},
		{"garbage string", `"not-a-duration"`, 0, true},
		{"wrong type", `true`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration

			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))
}

func TestServerConfig_Validate(t *testing.T) {
	cfg := &ServerConfig{ListenAddr: ":8080", DBPath: "/tmp/scans.db"}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":50052", cfg.GrpcAddr)
	assert.Equal(t, 3*time.Minute, cfg.HeartbeatTimeout.Duration())
	assert.Equal(t, time.Minute, cfg.SweepInterval.Duration())
	assert.Equal(t, 10*time.Second, cfg.DispatchTimeout.Duration())
	assert.Equal(t, 30*24*time.Hour, cfg.RetentionPeriod.Duration())
}

func TestServerConfig_ValidateRejectsMissingFields(t *testing.T) {
	assert.ErrorIs(t, (&ServerConfig{DBPath: "x"}).Validate(), errNoListenAddr)
	assert.ErrorIs(t, (&ServerConfig{ListenAddr: ":8080"}).Validate(), errNoDBPath)
}

func TestAgentConfig_Validate(t *testing.T) {
	cfg := &AgentConfig{
		ServerURL:         "http://10.0.0.1:8080",
		OwnedRange:        "10.0.0.0/24",
		HeartbeatInterval: Duration(30 * time.Second),
	}

	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8530", cfg.ListenAddr)
	assert.Equal(t, ":50051", cfg.GrpcAddr)
	assert.Equal(t, 2*time.Second, cfg.ScanTimeout.Duration())
	assert.Equal(t, 20, cfg.ScanConcurrency)
}

func TestAgentConfig_ValidateRejectsMissingFields(t *testing.T) {
	tests := []struct {
		name string
		cfg  AgentConfig
		want error
	}{
		{"no server url", AgentConfig{OwnedRange: "10.0.0.0/24", HeartbeatInterval: 1}, errNoServerURL},
		{"no owned range", AgentConfig{ServerURL: "http://x", HeartbeatInterval: 1}, errNoOwnedRange},
		{"no heartbeat", AgentConfig{ServerURL: "http://x", OwnedRange: "10.0.0.0/24"}, errBadHeartbeat},
		{
			"negative concurrency",
			AgentConfig{ServerURL: "http://x", OwnedRange: "10.0.0.0/24", HeartbeatInterval: 1, ScanConcurrency: -1},
			errBadConcurrency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cfg.Validate(), tt.want)
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.json")

	content := `{
		"listen_addr": ":8080",
		"db_path": "/var/lib/scans.db",
		"heartbeat_timeout": "5m",
		"dispatch_timeout": 5000000000
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	var cfg ServerConfig
	require.NoError(t, LoadAndValidate(path, &cfg))

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 5*time.Minute, cfg.HeartbeatTimeout.Duration())
	assert.Equal(t, 5*time.Second, cfg.DispatchTimeout.Duration())
	assert.Equal(t, time.Minute, cfg.SweepInterval.Duration())
}

func TestLoadAndValidate_Errors(t *testing.T) {
	assert.Error(t, LoadAndValidate("/nonexistent/config.json", &ServerConfig{}))

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	assert.Error(t, LoadAndValidate(path, &ServerConfig{}))
}
