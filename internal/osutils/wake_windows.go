//go:build windows

package osutils

import (
	"log"
	"syscall"
	"unsafe"
)

var (
	user32        = syscall.NewLazyDLL("user32.dll")
	procSendInput = user32.NewProc("SendInput")
)

const (
	INPUT_MOUSE      = 0
	MOUSEEVENTF_MOVE = 0x0001
)

type MOUSEINPUT struct {
	Dx          int32
	Dy          int32
	MouseData   uint32
	DwFlags     uint32
	Time        uint32
	DwExtraInfo uintptr
}

type INPUT struct {
	Type uint32
	Mi   MOUSEINPUT
	_    [8]byte // Padding to match C structure alignment
}

// WakeUp jitters the cursor by a pixel and back, which is enough to rouse
// the display from sleep or a screensaver before the sequencer starts
// driving it. Best-effort: callers don't treat a wake failure as fatal.
func WakeUp() {
	log.Println("Host Bring-up: jiggling mouse to wake the display")

	// Create mouse move input (relative movement of 1 pixel)
	var input INPUT
	input.Type = INPUT_MOUSE
	input.Mi.Dx = 1
	input.Mi.Dy = 1
	input.Mi.DwFlags = MOUSEEVENTF_MOVE

	// Send input
	procSendInput.Call(
		1,
		uintptr(unsafe.Pointer(&input)),
		unsafe.Sizeof(input),
	)

	// Move back
	input.Mi.Dx = -1
	input.Mi.Dy = -1
	procSendInput.Call(
		1,
		uintptr(unsafe.Pointer(&input)),
		unsafe.Sizeof(input),
	)
}
