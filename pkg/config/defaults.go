package config

import "strings"

// ApplyDefaults fills unset fields with defaults. Explicit values are never
// overridden.
func ApplyDefaults(cfg *Config) {
	if cfg.BasePath == "" {
		cfg.BasePath = "/var/lib/quorumfs/data"
	}
	if cfg.RaftPath == "" {
		cfg.RaftPath = "/var/lib/quorumfs/raft"
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "quorumfs"
	}
	if cfg.ElectionTimeoutMs == 0 {
		cfg.ElectionTimeoutMs = 1000
	}
	if cfg.SnapshotIntervalS == 0 {
		cfg.SnapshotIntervalS = 120
	}
	if cfg.RPCPort == 0 {
		cfg.RPCPort = 9600
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9100"
	}

	if cfg.SnapshotExport.Enabled && cfg.SnapshotExport.IntervalS == 0 {
		cfg.SnapshotExport.IntervalS = 3600
	}

	if cfg.Limits.ReadTimeoutS == 0 {
		cfg.Limits.ReadTimeoutS = 30
	}
	if cfg.Limits.WriteTimeoutS == 0 {
		cfg.Limits.WriteTimeoutS = 30
	}
	if cfg.Limits.RequestsPerSecond > 0 && cfg.Limits.Burst == 0 {
		cfg.Limits.Burst = cfg.Limits.RequestsPerSecond
	}
}
