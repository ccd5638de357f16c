// Package config loads and validates the node configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (QUORUMFS_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete node configuration.
type Config struct {
	// BasePath is the directory holding the replicated file tree.
	BasePath string `mapstructure:"base_path" validate:"required"`

	// RaftPath is the directory holding raft state (log/, raft_meta/,
	// snapshot/).
	RaftPath string `mapstructure:"raft_path" validate:"required"`

	// GroupID names the replication group.
	GroupID string `mapstructure:"group_id" validate:"required"`

	// PeerAddr is this node's identity, "ip:port:index".
	PeerAddr string `mapstructure:"peer_addr" validate:"required,peer"`

	// InitialConf is the founding membership, comma-separated peer
	// identities. Every member must be started with the same value.
	InitialConf string `mapstructure:"initial_conf" validate:"required,peerlist"`

	// ElectionTimeoutMs is the raft election timeout in milliseconds.
	ElectionTimeoutMs int `mapstructure:"election_timeout_ms" validate:"gt=0"`

	// SnapshotIntervalS is the raft snapshot check interval in seconds.
	SnapshotIntervalS int `mapstructure:"snapshot_interval_s" validate:"gt=0"`

	// RPCAddr is the client RPC bind address; empty means all interfaces.
	RPCAddr string `mapstructure:"rpc_addr"`

	// RPCPort is the client RPC port.
	RPCPort int `mapstructure:"rpc_port" validate:"gt=0,lte=65535"`

	Logging        LoggingConfig        `mapstructure:"logging"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	SnapshotExport SnapshotExportConfig `mapstructure:"snapshot_export"`
	Limits         LimitsConfig         `mapstructure:"limits"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" validate:"required"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Addr is the metrics HTTP bind address, e.g. ":9100".
	Addr string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// SnapshotExportConfig controls off-cluster snapshot upload.
type SnapshotExportConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Bucket string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region" validate:"required_if=Enabled true"`

	// Endpoint overrides the AWS endpoint for S3-compatible services.
	Endpoint string `mapstructure:"endpoint"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// IntervalS is the export check interval in seconds.
	IntervalS int `mapstructure:"interval_s" validate:"omitempty,gt=0"`
}

// LimitsConfig bounds the RPC server.
type LimitsConfig struct {
	// MaxConnections caps concurrent clients; 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0"`

	// RequestsPerSecond throttles the global request rate; 0 disables.
	RequestsPerSecond int `mapstructure:"requests_per_second" validate:"gte=0"`

	// Burst is the throttle bucket size.
	Burst int `mapstructure:"burst" validate:"gte=0"`

	// ReadTimeoutS and WriteTimeoutS bound a single frame read or write.
	ReadTimeoutS  int `mapstructure:"read_timeout_s" validate:"gt=0"`
	WriteTimeoutS int `mapstructure:"write_timeout_s" validate:"gt=0"`
}

// Load reads configuration from the given file (optional), the environment
// and defaults, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("QUORUMFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range allKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func allKeys() []string {
	return []string{
		"base_path", "raft_path", "group_id", "peer_addr", "initial_conf",
		"election_timeout_ms", "snapshot_interval_s", "rpc_addr", "rpc_port",
		"logging.level", "logging.format", "logging.output",
		"metrics.enabled", "metrics.addr",
		"snapshot_export.enabled", "snapshot_export.bucket",
		"snapshot_export.prefix", "snapshot_export.region",
		"snapshot_export.endpoint", "snapshot_export.access_key_id",
		"snapshot_export.secret_access_key", "snapshot_export.interval_s",
		"limits.max_connections", "limits.requests_per_second", "limits.burst",
		"limits.read_timeout_s", "limits.write_timeout_s",
	}
}
