//go:build !linux && !darwin && !windows

package audioplayer

import "fmt"

func tryPlay(wavPath string) error {
	return fmt.Errorf("audioplayer: playback not implemented for this platform")
}
