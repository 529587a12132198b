package action

import (
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hidcoord/coordinator/internal/motion"
	"github.com/hidcoord/coordinator/internal/probewire"
	"github.com/hidcoord/coordinator/internal/statestore"
)

// Prober issues a DOM query for selector (optionally scoped by
// labelText) and blocks for the Probe's answer.
type Prober interface {
	Query(selector, labelText string) (probewire.CoordResponse, error)
}

// Mover plans and emits motion to an absolute target.
type Mover interface {
	MoveTo(target statestore.Point, profile motion.Profile) error
}

// Typer emits a typing program for a target string.
type Typer interface {
	Type(text string)
}

// Sender emits a single ordered Injector command line.
type Sender interface {
	Send(line string)
}

// StopChecker reports whether emergency-stop has been engaged.
type StopChecker interface {
	Stopped() bool
}

// ErrHalted is returned by Run when a handler exhausts its retries
// without Probe-confirmed success; the sequencer stops and does not
// run any further actions in the list.
type ErrHalted struct {
	Action Action
	Reason string
}

func (e ErrHalted) Error() string {
	return fmt.Sprintf("action: sequencer halted on %s: %s", e.Action, e.Reason)
}

// Engine is the Action Engine: sequencer plus FILL_FIELD / CLICK_SELECTOR
// / CLICK_OPTION handlers.
type Engine struct {
	store  *statestore.Store
	prober Prober
	mover  Mover
	typer  Typer
	link   Sender
	stop   StopChecker

	// WakeFn is called once, best-effort, immediately before the
	// sequencer starts consuming a dispatched list, to rouse the host
	// display before driving it. Its failure is logged, never fatal.
	WakeFn func()

	running atomic.Bool
	sleep   func(time.Duration)
	rand    *rand.Rand
}

// New returns an Engine wired to its collaborators.
func New(store *statestore.Store, prober Prober, mover Mover, typer Typer, link Sender, stop StopChecker) *Engine {
	return &Engine{
		store:  store,
		prober: prober,
		mover:  mover,
		typer:  typer,
		link:   link,
		stop:   stop,
		sleep:  time.Sleep,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Running reports whether the sequencer is currently active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run dispatches actions into the sequencer. It rejects re-entry: only
// one command list may be in flight at a time. Run blocks until the
// list completes or halts; callers driving it from an HTTP handler
// should invoke it in a goroutine so the handler itself stays
// non-blocking.
func (e *Engine) Run(actions []Action) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("action: sequencer already running")
	}
	defer e.running.Store(false)

	e.store.SetAutomating(true)
	defer e.store.SetAutomating(false)

	if e.WakeFn != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("action: wake hook panicked: %v", r)
				}
			}()
			e.WakeFn()
		}()
	}

	for i, a := range actions {
		if e.stop != nil && e.stop.Stopped() {
			log.Printf("action: emergency stop observed, halting before action %d/%d", i+1, len(actions))
			e.store.SetLastError("emergency stop")
			return ErrHalted{Action: a, Reason: "emergency stop"}
		}

		log.Printf("action: running %d/%d: %s", i+1, len(actions), a)

		var err error
		switch a.Kind {
		case KindDelay:
			e.sleep(time.Duration(a.DelayMS) * time.Millisecond)
		case KindFillField:
			err = e.fillField(a)
		case KindClickSelector:
			err = e.clickSelector(a)
		case KindClickOption:
			err = e.clickOption(a)
		case KindRaw:
			e.link.Send(a.Raw)
		}

		if err != nil {
			log.Printf("action: HALT on %s: %v", a, err)
			e.store.SetLastError(err.Error())
			return ErrHalted{Action: a, Reason: err.Error()}
		}

		e.store.SetLastAction(a.String())

		if i < len(actions)-1 {
			e.sleep(jitter(e.rand, 100, 300))
		}
	}

	return nil
}

// moveToProbeCenter overwrites the Store's cursor with the Probe's
// authoritative reading, then moves to (x,y).
func (e *Engine) moveToProbeCenter(resp probewire.CoordResponse, x, y float64, profile motion.Profile) error {
	e.store.SetCursorPosition(statestore.Point{X: resp.CursorX, Y: resp.CursorY})
	return e.mover.MoveTo(statestore.Point{X: x, Y: y}, profile)
}

// fillField drives FILL_FIELD: move to the target, type its text, then
// verify it landed. Up to 4 attempts before giving up and halting.
func (e *Engine) fillField(a Action) error {
	const maxAttempts = 4

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := e.prober.Query(a.Selector, "")
		if err != nil {
			continue
		}
		if !resp.Found {
			continue
		}

		if !resp.InViewport {
			scrolled, ok := e.scrollIntoView(a.Selector, "")
			if !ok {
				continue
			}
			resp = scrolled
			if !resp.InViewport {
				continue
			}
		}

		if err := e.moveToProbeCenter(resp, resp.X, resp.Y, motion.ProfileDefault); err != nil {
			continue
		}
		e.link.Send("CLICK")
		e.sleep(250 * time.Millisecond)

		resp, err = e.prober.Query(a.Selector, "")
		if err != nil || !resp.Found {
			continue
		}
		if !resp.Focused {
			e.moveToProbeCenter(resp, resp.X, resp.Y, motion.ProfileDefault)
			e.link.Send("CLICK")
			resp, err = e.prober.Query(a.Selector, "")
			if err != nil || !resp.Found || !resp.Focused {
				continue
			}
		}

		e.link.Send("COMBO,ctrl+a")
		e.sleep(80 * time.Millisecond)
		e.typer.Type(a.Text)
		e.sleep(200 * time.Millisecond)

		resp, err = e.prober.Query(a.Selector, "")
		if err != nil || !resp.Found {
			continue
		}
		if prefixMatches(resp.Value, a.Text) {
			return nil
		}
	}

	return fmt.Errorf("FILL_FIELD %s: exhausted %d attempts", a.Selector, maxAttempts)
}

// clickSelector drives CLICK_SELECTOR: move to the target and click it,
// verifying the click landed. Up to 4 attempts.
func (e *Engine) clickSelector(a Action) error {
	const maxAttempts = 4

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := e.prober.Query(a.Selector, "")
		if err != nil || !resp.Found {
			continue
		}
		priorChecked := resp.Checked

		if !resp.InViewport {
			scrolled, ok := e.scrollIntoView(a.Selector, "")
			if !ok {
				continue
			}
			resp = scrolled
			if !resp.InViewport {
				continue
			}
		}

		if err := e.moveToProbeCenter(resp, resp.X, resp.Y, motion.ProfileDefault); err != nil {
			continue
		}
		e.link.Send("CLICK")
		e.sleep(200 * time.Millisecond)

		if priorChecked != probewire.TriUnknown {
			resp, err = e.prober.Query(a.Selector, "")
			if err != nil || !resp.Found {
				continue
			}
			if resp.Checked != priorChecked {
				return nil
			}
			continue
		}

		return nil
	}

	return fmt.Errorf("CLICK_SELECTOR %s: exhausted %d attempts", a.Selector, maxAttempts)
}

// clickOption drives CLICK_OPTION: checks whether the option is already
// selected before doing anything, then hovers and clicks it, up to 20
// attempts (radio/checkbox groups tend to need more retries than a
// plain click since the option can be scrolled offscreen mid-hover).
func (e *Engine) clickOption(a Action) error {
	const maxAttempts = 20

	if resp, err := e.prober.Query(a.Container, a.Label); err == nil && resp.Checked == probewire.TriTrue {
		return nil
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := e.prober.Query(a.Container, a.Label)
		if err != nil || !resp.Found {
			e.sleep(500 * time.Millisecond)
			continue
		}
		if resp.Checked == probewire.TriTrue {
			return nil
		}

		if !resp.InViewport {
			scrolled, ok := e.scrollIntoView(a.Container, a.Label)
			if ok {
				resp = scrolled
			}
		}

		if attempt >= 2 {
			e.jiggle()
			resp, err = e.prober.Query(a.Container, a.Label)
			if err == nil && resp.Found && resp.Checked == probewire.TriTrue {
				return nil
			}
		}

		e.store.SetCursorPosition(statestore.Point{X: resp.CursorX, Y: resp.CursorY})
		tx, ty := resp.X, resp.Y
		if attempt >= 2 {
			tx += float64(e.rand.Intn(11) - 5)
			ty += float64(e.rand.Intn(11) - 5)
		}
		if err := e.mover.MoveTo(statestore.Point{X: tx, Y: ty}, motion.ProfileNoOvershoot); err != nil {
			continue
		}

		e.sleep(100 * time.Millisecond)
		resp, err = e.prober.Query(a.Container, a.Label)
		if err != nil || !resp.Found {
			continue
		}
		if !strings.Contains(strings.ToLower(resp.HoveredLabelText), strings.ToLower(a.Label)) {
			continue
		}

		e.link.Send("CLICK")
		e.sleep(500 * time.Millisecond)

		if e.verifyChecked(a.Container, a.Label) {
			return nil
		}
	}

	return fmt.Errorf("CLICK_OPTION %s %q: exhausted %d attempts", a.Container, a.Label, maxAttempts)
}

// verifyChecked re-queries up to 4 times, 400ms apart, tolerating
// transient not-found (React re-render), requiring checked==true.
func (e *Engine) verifyChecked(container, label string) bool {
	for i := 0; i < 4; i++ {
		resp, err := e.prober.Query(container, label)
		if err == nil && resp.Found {
			if resp.Checked == probewire.TriTrue {
				return true
			}
			return false
		}
		e.sleep(400 * time.Millisecond)
	}
	return false
}

// jiggle nudges the cursor a few pixels to refresh the Probe's hover
// tracking before re-querying an option's checked state.
func (e *Engine) jiggle() {
	cur := e.store.Read().Cursor
	dx := float64(e.rand.Intn(7) - 3)
	dy := float64(e.rand.Intn(7) - 3)
	e.mover.MoveTo(statestore.Point{X: cur.X + dx, Y: cur.Y + dy}, motion.ProfileNoOvershoot)
}

// scrollIntoView nudges the page toward a target that reports a
// nonzero scroll delta, up to 12 iterations, accepting a residual
// scroll_delta_needed under 50px as close enough.
func (e *Engine) scrollIntoView(selector, labelText string) (probewire.CoordResponse, bool) {
	var last probewire.CoordResponse
	for i := 0; i < 12; i++ {
		resp, err := e.prober.Query(selector, labelText)
		if err != nil {
			continue
		}
		last = resp
		if resp.InViewport {
			e.sleep(150 * time.Millisecond)
			return resp, true
		}
		if abs(resp.ScrollDeltaNeeded) < 50 {
			e.sleep(150 * time.Millisecond)
			return resp, true
		}

		units := 4 + e.rand.Intn(5)
		if resp.ScrollDeltaNeeded < 0 {
			units = -units
		}
		e.link.Send(fmt.Sprintf("SCROLL,%d", units))
		e.sleep(jitter(e.rand, 80, 120))
	}
	return last, false
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// prefixMatches implements the FILL_FIELD verify comparison: success if
// either side begins with the first 20 characters of the other, case-
// folded and trimmed.
func prefixMatches(value, target string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	t := strings.ToLower(strings.TrimSpace(target))
	if v == "" {
		// An empty field never verifies a non-empty target: HasPrefix(t, "")
		// is trivially true, which would let a field that was never typed
		// into pass as a successful fill.
		return t == ""
	}
	return strings.HasPrefix(v, firstN(t, 20)) || strings.HasPrefix(t, firstN(v, 20))
}

func firstN(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

func jitter(r *rand.Rand, loMs, hiMs int) time.Duration {
	return time.Duration(loMs+r.Intn(hiMs-loMs+1)) * time.Millisecond
}
