//go:build darwin

package audioplayer

import (
	"fmt"
	"os/exec"
)

func tryPlay(wavPath string) error {
	cmd := exec.Command("afplay", wavPath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("audioplayer: spawn afplay: %w", err)
	}
	return nil
}
