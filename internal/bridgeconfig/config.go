// Package bridgeconfig loads and validates the bridge server's TOML
// configuration file.
package bridgeconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigPath is used when no path is supplied to Load.
const DefaultConfigPath = "config/bridge.toml"

// Config holds the bridge server's startup settings.
type Config struct {
	BindAddr string      `mapstructure:"bind_addr"`
	TLS      TLSConfig   `mapstructure:"tls"`
	Limits   LimitsConfig `mapstructure:"limits"`
	Relay    RelayConfig  `mapstructure:"relay"`
	Admin    AdminConfig  `mapstructure:"admin"`
}

// TLSConfig carries the PEM file paths used for the bridge's mTLS listener.
type TLSConfig struct {
	ServerCertPEM  string `mapstructure:"server_cert_pem"`
	ServerKeyPEM   string `mapstructure:"server_key_pem"`
	ClientCACertPEM string `mapstructure:"client_ca_cert_pem"`
}

// LimitsConfig carries the per-session framing/handshake limits.
type LimitsConfig struct {
	MaxWSMessageBytes int64 `mapstructure:"max_ws_message_bytes"`
	HelloTimeoutMs    int64 `mapstructure:"hello_timeout_ms"`
	SendTimeoutMs     int64 `mapstructure:"send_timeout_ms"`
}

// RelayConfig carries the hub's relay and action-queue settings.
type RelayConfig struct {
	PrimaryGameAgentID         string `mapstructure:"primary_game_agent_id"`
	AllowOrchestratorSubscribe bool   `mapstructure:"allow_orchestrator_subscribe"`
	MaxOrchestratorSubscribers int32  `mapstructure:"max_orchestrator_subscribers"`
	MinRelayIntervalMs         int64  `mapstructure:"min_relay_interval_ms"`
	ActionQueueSize            int    `mapstructure:"action_queue_size"`
	ActionSendTimeoutMs        int64  `mapstructure:"action_send_timeout_ms"`
}

// AdminConfig carries the admin HTTP surface's optional settings.
type AdminConfig struct {
	MDNSServiceName string `mapstructure:"mdns_service_name"`
	AuditDBPath     string `mapstructure:"audit_db_path"`
}

// Load reads configPath (falling back to DefaultConfigPath when empty),
// applies MIQBOT_BRIDGE_* environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("limits.max_ws_message_bytes", 1<<20)
	v.SetDefault("limits.hello_timeout_ms", 5000)
	v.SetDefault("limits.send_timeout_ms", 5000)
	v.SetDefault("relay.max_orchestrator_subscribers", 4)
	v.SetDefault("relay.min_relay_interval_ms", 0)
	v.SetDefault("relay.action_queue_size", 32)
	v.SetDefault("relay.action_send_timeout_ms", 5000)

	if configPath == "" {
		configPath = DefaultConfigPath
	}
	v.SetConfigFile(configPath)

	v.SetEnvPrefix("MIQBOT_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("bridgeconfig: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("bridgeconfig: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields original_source's config.rs treats as
// mandatory, plus the relay fields SPEC_FULL.md adds.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BindAddr) == "" {
		return fmt.Errorf("bridgeconfig: bind_addr must not be empty")
	}
	if c.Limits.MaxWSMessageBytes < 1024 {
		return fmt.Errorf("bridgeconfig: max_ws_message_bytes too small")
	}
	if c.Limits.HelloTimeoutMs <= 0 {
		return fmt.Errorf("bridgeconfig: hello_timeout_ms must be > 0")
	}
	if c.Limits.SendTimeoutMs <= 0 {
		return fmt.Errorf("bridgeconfig: limits.send_timeout_ms must be > 0")
	}
	if strings.TrimSpace(c.Relay.PrimaryGameAgentID) == "" {
		return fmt.Errorf("bridgeconfig: relay.primary_game_agent_id must not be empty")
	}
	if c.Relay.AllowOrchestratorSubscribe && c.Relay.MaxOrchestratorSubscribers <= 0 {
		return fmt.Errorf("bridgeconfig: relay.max_orchestrator_subscribers must be > 0 when subscriptions are allowed")
	}
	return nil
}
