//go:build windows

package audioplayer

import (
	"fmt"
	"os/exec"
	"strings"
)

func tryPlay(wavPath string) error {
	escaped := strings.ReplaceAll(wavPath, "'", "''")
	script := fmt.Sprintf("(New-Object Media.SoundPlayer '%s').Play()", escaped)
	cmd := exec.Command("powershell", "-NoProfile", "-Command", script)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audioplayer: spawn windows sound player: %w", err)
	}
	return nil
}
