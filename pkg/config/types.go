package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	errInvalidDuration = errors.New("invalid duration")

	errNoListenAddr  = errors.New("listen_addr is required")
	errNoDBPath      = errors.New("db_path is required")
	errNoServerURL   = errors.New("server_url is required")
	errNoOwnedRange  = errors.New("owned_range is required")
	errBadHeartbeat  = errors.New("heartbeat_interval must be positive")
	errBadConcurrency = errors.New("scan concurrency must be positive")
)

// Duration wraps time.Duration so config files can use either "5m" strings
// or raw nanosecond numbers.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		// parse numeric as nanoseconds
		*d = Duration(time.Duration(value))
		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// ServerConfig is the orchestrator configuration.
type ServerConfig struct {
	ListenAddr       string   `json:"listen_addr"`        // HTTP API, e.g. :8080
	GrpcAddr         string   `json:"grpc_addr"`          // gRPC health endpoint, e.g. :50052
	DBPath           string   `json:"db_path"`            // SQLite database file
	HeartbeatTimeout Duration `json:"heartbeat_timeout"`  // demote agents silent longer than this
	SweepInterval    Duration `json:"sweep_interval"`     // how often the heartbeat monitor runs
	DispatchTimeout  Duration `json:"dispatch_timeout"`   // per-agent work-order call budget
	RetentionPeriod  Duration `json:"retention_period"`   // terminal results older than this are purged
}

func (c *ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return errNoListenAddr
	}

	if c.DBPath == "" {
		return errNoDBPath
	}

	if c.GrpcAddr == "" {
		c.GrpcAddr = ":50052"
	}

	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = Duration(3 * time.Minute)
	}

	if c.SweepInterval <= 0 {
		c.SweepInterval = Duration(time.Minute)
	}

	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = Duration(10 * time.Second)
	}

	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = Duration(30 * 24 * time.Hour)
	}

	return nil
}

// AgentConfig is the scanning agent configuration.
type AgentConfig struct {
	ServerURL         string   `json:"server_url"`         // orchestrator base URL, e.g. http://10.0.0.1:8080
	ListenAddr        string   `json:"listen_addr"`        // work-order listener, e.g. :8530
	GrpcAddr          string   `json:"grpc_addr"`          // gRPC health endpoint
	OwnedRange        string   `json:"owned_range"`        // CIDR this agent is responsible for
	HeartbeatInterval Duration `json:"heartbeat_interval"` // how often to report in
	ScanTimeout       Duration `json:"scan_timeout"`       // per-connection probe timeout
	ScanConcurrency   int      `json:"scan_concurrency"`   // worker pool size
	ScanRateLimit     int      `json:"scan_rate_limit"`    // probes per second, 0 = unlimited
}

func (c *AgentConfig) Validate() error {
	if c.ServerURL == "" {
		return errNoServerURL
	}

	if c.OwnedRange == "" {
		return errNoOwnedRange
	}

	if c.ListenAddr == "" {
		c.ListenAddr = ":8530"
	}

	if c.GrpcAddr == "" {
		c.GrpcAddr = ":50051"
	}

	if c.HeartbeatInterval <= 0 {
		return errBadHeartbeat
	}

	if c.ScanTimeout <= 0 {
		c.ScanTimeout = Duration(2 * time.Second)
	}

	if c.ScanConcurrency < 0 {
		return errBadConcurrency
	}

	if c.ScanConcurrency == 0 {
		c.ScanConcurrency = 20
	}

	return nil
}
