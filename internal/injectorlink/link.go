// Package injectorlink owns the serial connection to the Injector: a
// FIFO command pipeline with a single consumer enforcing a fixed
// inter-command gap (no acknowledgement is awaited — the firmware is
// free-running), a line-oriented diagnostic reader, and a process-wide
// emergency-stop flag.
package injectorlink

import (
	"bufio"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// interCommandGap is the fixed delay the consumer waits after writing
// each command. The Injector firmware is free-running and never emits
// an acknowledgement, so pacing stands in for one.
const interCommandGap = 50 * time.Millisecond

type request struct {
	line string
	done chan struct{}
}

// Link is the ordered, rate-limited write channel to the Injector's
// serial device, plus its diagnostic line reader.
type Link struct {
	port serial.Port

	queue chan request

	stopped  atomic.Bool
	closed   chan struct{}
	closeMu  sync.Once
	wg       sync.WaitGroup
	writeMu  sync.Mutex // guards direct (non-queued) writes against the queue consumer
}

// Open opens the serial device at path/baud and starts the command
// consumer and diagnostic reader goroutines. Callers should treat a
// non-nil error here as reason to exit with a non-zero status; there is
// no automation to run without an Injector attached.
func Open(path string, baud int) (*Link, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("injectorlink: opening %s: %w", path, err)
	}

	l := &Link{
		port:  port,
		queue: make(chan request, 64),
		closed: make(chan struct{}),
	}

	l.wg.Add(2)
	go l.consume()
	go l.readDiagnostics()

	log.Printf("InjectorLink: opened %s at %d baud", path, baud)
	return l, nil
}

// consume is the pipeline's single consumer: pop, write "line\r\n",
// wait the fixed gap, signal completion, loop.
func (l *Link) consume() {
	defer l.wg.Done()
	for {
		select {
		case req := <-l.queue:
			if l.stopped.Load() {
				// Emergency stop: drain without writing further, but
				// still signal completion so callers waiting on it
				// don't hang.
				close(req.done)
				continue
			}
			l.writeMu.Lock()
			_, err := l.port.Write([]byte(req.line + "\r\n"))
			l.writeMu.Unlock()
			if err != nil {
				log.Printf("InjectorLink: write error for %q: %v", req.line, err)
			}
			time.Sleep(interCommandGap)
			close(req.done)
		case <-l.closed:
			return
		}
	}
}

// readDiagnostics logs inbound text lines from the device. Diagnostic
// only; its output is never awaited by command senders.
func (l *Link) readDiagnostics() {
	defer l.wg.Done()
	scanner := bufio.NewScanner(l.port)
	for scanner.Scan() {
		if l.stopped.Load() {
			// keep draining so the port doesn't back up, but stop
			// logging noise after an emergency stop
			continue
		}
		log.Printf("Injector: %s", scanner.Text())
	}
}

// Send enqueues a command and blocks until the consumer has written it
// and waited out the inter-command gap. Used for CLICK, SCROLL, TYPE,
// KEY, COMBO — anything that must preserve enqueue order relative to
// other queued commands.
func (l *Link) Send(line string) {
	if l.stopped.Load() || blocked(line) {
		return
	}
	req := request{line: line, done: make(chan struct{})}
	select {
	case l.queue <- req:
		<-req.done
	case <-l.closed:
	}
}

// SendDirect writes a line immediately, bypassing the queue. Only safe
// when the caller already guarantees ordering against other direct
// writes — the Motion Engine generates one path per action,
// single-threaded, so its MOVE,dx,dy emissions may bypass the queue.
// Direct writes still respect emergency-stop and are still mutually
// exclusive against the queue consumer's own write.
func (l *Link) SendDirect(line string) {
	if l.stopped.Load() || blocked(line) {
		return
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if _, err := l.port.Write([]byte(line + "\r\n")); err != nil {
		log.Printf("InjectorLink: direct write error for %q: %v", line, err)
	}
}

// EmergencyStop sets the process-wide stop flag: the pipeline drains
// without writing further and public operations return immediately.
// Checked in every loop; it does not interrupt a write already in
// flight mid-line.
func (l *Link) EmergencyStop() {
	if l.stopped.CompareAndSwap(false, true) {
		log.Printf("InjectorLink: EMERGENCY STOP engaged")
	}
}

// Stopped reports whether emergency-stop has been engaged.
func (l *Link) Stopped() bool {
	return l.stopped.Load()
}

// blocked reports whether line is a command the Coordinator refuses to
// forward. KEY,Enter is blocked because it risks triggering an OS-level
// keyboard shortcut on the host running the Injector.
func blocked(line string) bool {
	return line == "KEY,Enter"
}

// Close shuts down the consumer and reader goroutines and closes the
// serial port. Safe to call once; subsequent calls are no-ops.
//
// The port is closed before waiting on the goroutines: consume exits on
// <-l.closed, but readDiagnostics is blocked in scanner.Scan() -> a
// port.Read that only returns once the underlying port is closed.
// Waiting on the WaitGroup first would deadlock forever.
func (l *Link) Close() error {
	var closeErr error
	l.closeMu.Do(func() {
		close(l.closed)
		closeErr = l.port.Close()
	})
	l.wg.Wait()
	return closeErr
}
