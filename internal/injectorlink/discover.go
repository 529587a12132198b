package injectorlink

import (
	"fmt"
	"strings"
	"sync"

	"go.bug.st/serial"
)

// DiscoverPort scans the available serial ports and returns the first
// one that opens successfully and whose name contains substr (case
// sensitive match against the OS-reported port path, since the
// go.bug.st/serial enumeration used here does not expose a USB
// manufacturer string uniformly across platforms). An empty substr
// matches the first port that opens at all.
//
// A goroutine-per-candidate probe sweep, collected under a mutex and
// joined with a WaitGroup.
func DiscoverPort(substr string, baud int) (string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return "", fmt.Errorf("injectorlink: listing serial ports: %w", err)
	}
	if len(ports) == 0 {
		return "", fmt.Errorf("injectorlink: no serial ports found")
	}

	type probeResult struct {
		name string
		ok   bool
	}

	results := make([]probeResult, len(ports))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, name := range ports {
		if substr != "" && !strings.Contains(name, substr) {
			continue
		}
		wg.Add(1)
		go func(idx int, portName string) {
			defer wg.Done()
			ok := probePort(portName, baud)
			mu.Lock()
			results[idx] = probeResult{name: portName, ok: ok}
			mu.Unlock()
		}(i, name)
	}
	wg.Wait()

	for _, r := range results {
		if r.ok {
			return r.name, nil
		}
	}
	return "", fmt.Errorf("injectorlink: no matching serial port responded (substr=%q)", substr)
}

// probePort attempts to open and immediately close a candidate port,
// treating success as "present and not held by another process."
func probePort(name string, baud int) bool {
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return false
	}
	p.Close()
	return true
}
