package orchconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestrator.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validBody = `
bridge_url = "wss://bridge.local:8443/ws"
agent_id = "orch-1"
primary_game_agent_id = "steve"
tts_url = "http://localhost:9001"
subtitle_url = "http://localhost:9002"
audio_output_dir = "/var/lib/miqbot/audio"
fallback_wav_path = "/var/lib/miqbot/fallback.wav"
metrics_jsonl_path = "/var/log/miqbot/metrics.jsonl"
chat_deadline_ms = 4000
filler_deadline_ms = 6000
`

func TestLoad_ValidConfigPassesValidationAndAppliesDefaults(t *testing.T) {
	path := writeConfig(t, validBody)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TTSMode != "wav_only" {
		t.Fatalf("expected default tts_mode, got %q", cfg.TTSMode)
	}
	if cfg.TTSModeValue() != TTSModeWavOnly {
		t.Fatalf("expected TTSModeWavOnly")
	}
	if cfg.QueueMaxP0 == 0 {
		t.Fatal("expected a non-zero default queue_max_p0")
	}
}

func TestLoad_WithMetaModeResolves(t *testing.T) {
	path := writeConfig(t, validBody+"\ntts_mode = \"with_meta\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TTSModeValue() != TTSModeWithMeta {
		t.Fatal("expected TTSModeWithMeta")
	}
}

func TestLoad_RejectsMissingRequiredField(t *testing.T) {
	path := writeConfig(t, `
agent_id = "orch-1"
primary_game_agent_id = "steve"
tts_url = "http://localhost:9001"
subtitle_url = "http://localhost:9002"
audio_output_dir = "/var/lib/miqbot/audio"
fallback_wav_path = "/var/lib/miqbot/fallback.wav"
metrics_jsonl_path = "/var/log/miqbot/metrics.jsonl"
chat_deadline_ms = 4000
filler_deadline_ms = 6000
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a missing bridge_url")
	}
}

func TestLoad_RejectsZeroDeadline(t *testing.T) {
	path := writeConfig(t, validBody+"\nchat_deadline_ms = 0\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for chat_deadline_ms = 0")
	}
}
