//go:build linux

package audioplayer

import (
	"fmt"
	"os/exec"
)

// tryPlay spawns aplay, falling back to paplay, since either is commonly
// present on Linux desktops but neither is guaranteed.
func tryPlay(wavPath string) error {
	if cmd := exec.Command("aplay", wavPath); cmd.Start() == nil {
		return nil
	}
	if cmd := exec.Command("paplay", wavPath); cmd.Start() == nil {
		return nil
	}
	return fmt.Errorf("audioplayer: no supported linux audio player found (aplay/paplay)")
}
