// Package orchconfig loads and validates the orchestrator's TOML
// configuration file.
package orchconfig

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigPath is used when no path is supplied to Load.
const DefaultConfigPath = "config/orchestrator.toml"

// Config holds the orchestrator's startup settings.
type Config struct {
	BridgeURL          string `mapstructure:"bridge_url"`
	AgentID            string `mapstructure:"agent_id"`
	ClientVersion      string `mapstructure:"client_version"`
	PrimaryGameAgentID string `mapstructure:"primary_game_agent_id"`

	TTSURL      string `mapstructure:"tts_url"`
	SubtitleURL string `mapstructure:"subtitle_url"`
	TTSMode     string `mapstructure:"tts_mode"`

	SilenceGapMs        uint64 `mapstructure:"silence_gap_ms"`
	StateTickMs         uint64 `mapstructure:"state_tick_ms"`
	DuplicateCooldownMs uint64 `mapstructure:"duplicate_cooldown_ms"`

	QueueMaxP0       int    `mapstructure:"queue_max_p0"`
	QueueMaxP1       int    `mapstructure:"queue_max_p1"`
	QueueMaxP2       int    `mapstructure:"queue_max_p2"`
	ChatDeadlineMs   uint64 `mapstructure:"chat_deadline_ms"`
	FillerDeadlineMs uint64 `mapstructure:"filler_deadline_ms"`

	ActionAckTimeoutMs    uint64 `mapstructure:"action_ack_timeout_ms"`
	ActionResultTimeoutMs uint64 `mapstructure:"action_result_timeout_ms"`

	AudioOutputDir   string `mapstructure:"audio_output_dir"`
	FallbackWAVPath  string `mapstructure:"fallback_wav_path"`
	MetricsJSONLPath string `mapstructure:"metrics_jsonl_path"`

	TLS TLSConfig `mapstructure:"tls"`

	MetricsListenAddr string `mapstructure:"metrics_listen_addr"`
}

// TLSConfig carries the PEM file paths used to dial the bridge over mTLS.
type TLSConfig struct {
	ClientCertPEM string `mapstructure:"client_cert_pem"`
	ClientKeyPEM  string `mapstructure:"client_key_pem"`
	CACertPEM     string `mapstructure:"ca_cert_pem"`
}

// TTSMode names the selected synthesis endpoint; unrecognized values fall
// back to wav_only, matching the original's match-with-default.
type TTSMode int

const (
	TTSModeWavOnly TTSMode = iota
	TTSModeWithMeta
)

// TTSModeValue resolves the configured tts_mode string.
func (c *Config) TTSModeValue() TTSMode {
	if c.TTSMode == "with_meta" {
		return TTSModeWithMeta
	}
	return TTSModeWavOnly
}

// Load reads configPath (falling back to DefaultConfigPath when empty),
// applies MIQBOT_ORCH_* environment overrides, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("client_version", "miqbot-orchestrator/0.1.0")
	v.SetDefault("tts_mode", "wav_only")
	v.SetDefault("state_tick_ms", 250)
	v.SetDefault("duplicate_cooldown_ms", 4000)
	v.SetDefault("queue_max_p0", 8)
	v.SetDefault("queue_max_p1", 16)
	v.SetDefault("queue_max_p2", 32)
	v.SetDefault("action_ack_timeout_ms", 2000)
	v.SetDefault("action_result_timeout_ms", 15000)
	v.SetDefault("metrics_listen_addr", "127.0.0.1:9091")

	if configPath == "" {
		configPath = DefaultConfigPath
	}
	v.SetConfigFile(configPath)

	v.SetEnvPrefix("MIQBOT_ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("orchconfig: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("orchconfig: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate mirrors original_source/mvp5_orchestrator/src/config.rs's
// validate(), field for field.
func (c *Config) Validate() error {
	required := map[string]string{
		"bridge_url":             c.BridgeURL,
		"agent_id":               c.AgentID,
		"client_version":         c.ClientVersion,
		"primary_game_agent_id":  c.PrimaryGameAgentID,
		"tts_url":                c.TTSURL,
		"subtitle_url":           c.SubtitleURL,
		"audio_output_dir":       c.AudioOutputDir,
		"fallback_wav_path":      c.FallbackWAVPath,
		"metrics_jsonl_path":     c.MetricsJSONLPath,
	}
	for field, value := range required {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("orchconfig: %s must not be empty", field)
		}
	}
	if c.SilenceGapMs == 0 {
		return fmt.Errorf("orchconfig: silence_gap_ms must be > 0")
	}
	if c.StateTickMs == 0 {
		return fmt.Errorf("orchconfig: state_tick_ms must be > 0")
	}
	if c.QueueMaxP0 == 0 || c.QueueMaxP1 == 0 || c.QueueMaxP2 == 0 {
		return fmt.Errorf("orchconfig: queue_max_p0/p1/p2 must be > 0")
	}
	if c.ChatDeadlineMs == 0 || c.FillerDeadlineMs == 0 {
		return fmt.Errorf("orchconfig: chat_deadline_ms and filler_deadline_ms must be > 0")
	}
	if c.ActionAckTimeoutMs == 0 || c.ActionResultTimeoutMs == 0 {
		return fmt.Errorf("orchconfig: action_ack_timeout_ms and action_result_timeout_ms must be > 0")
	}
	return nil
}
