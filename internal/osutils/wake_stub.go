//go:build !darwin && !windows

package osutils

import "log"

// WakeUp is a no-op on platforms with no mouse-jiggle backend.
func WakeUp() {
	log.Println("Host Bring-up: WakeUp has no backend on this platform, skipping")
}
