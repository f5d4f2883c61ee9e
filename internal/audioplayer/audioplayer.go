// Package audioplayer writes synthesized speech audio to disk and plays it
// through whatever OS-level player is available (the playback leg of the
// orchestrator's speech pipeline), falling back to a fixed path when no
// player exists.
package audioplayer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Player writes WAV bytes to outputDir under a fresh utterance id and plays
// them, falling back to overwriting fallbackWAVPath when playback fails.
type Player struct {
	outputDir       string
	fallbackWAVPath string
}

// New creates outputDir if needed and returns a Player.
func New(outputDir, fallbackWAVPath string) (*Player, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("audioplayer: create output_dir: %w", err)
	}
	return &Player{outputDir: outputDir, fallbackWAVPath: fallbackWAVPath}, nil
}

// PlayOrFallback writes wavBytes to a fresh path and attempts playback; on
// failure it overwrites the fallback path instead and returns that path.
func (p *Player) PlayOrFallback(wavBytes []byte) (string, error) {
	utteranceID := uuid.NewString()
	wavPath := filepath.Join(p.outputDir, utteranceID+".wav")
	if err := os.WriteFile(wavPath, wavBytes, 0o644); err != nil {
		return "", fmt.Errorf("audioplayer: write wav %s: %w", wavPath, err)
	}

	if err := tryPlay(wavPath); err == nil {
		return wavPath, nil
	}

	if err := os.WriteFile(p.fallbackWAVPath, wavBytes, 0o644); err != nil {
		return "", fmt.Errorf("audioplayer: write fallback wav %s: %w", p.fallbackWAVPath, err)
	}
	return p.fallbackWAVPath, nil
}
