// Package motion converts an absolute screen target into a stream of
// relative MOVE,dx,dy Injector commands: clamped to the viewport, lightly
// curved for natural-looking travel, and followed by a single
// corrective pass against the Probe's confirmed cursor position.
package motion

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/hidcoord/coordinator/internal/statestore"
)

// margin is the safety margin (px) kept clear of every viewport edge.
const margin = 20.0

// minDistance below which no motion is emitted at all.
const minDistance = 3.0

// correctionThreshold is the residual error (px) above which a single
// corrective delta is emitted after the path completes.
const correctionThreshold = 10.0

// Profile selects a path shape. Default bows gently; NoOvershoot walks
// straight to the target, used for CLICK_OPTION retries where a bowed
// approach risks overshooting a small target repeatedly.
type Profile int

const (
	ProfileDefault Profile = iota
	ProfileNoOvershoot
)

// Sender is the subset of injectorlink.Link the Motion Engine writes
// through: direct, unordered-against-the-queue writes. Path generation
// is single-threaded per action, so MOVE emissions may safely bypass
// the queue.
type Sender interface {
	SendDirect(line string)
}

// Sleeper abstracts time.Sleep so tests can run without the jitter
// delays actually elapsing.
type Sleeper func(time.Duration)

// Engine plans and emits motion for one action at a time.
type Engine struct {
	store  *statestore.Store
	link   Sender
	sleep  Sleeper
	rand   *rand.Rand
}

// New returns a motion Engine writing through link and reading/writing
// cursor state through store.
func New(store *statestore.Store, link Sender) *Engine {
	return &Engine{
		store: store,
		link:  link,
		sleep: time.Sleep,
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ErrNoViewport is returned when no viewport bounds are known after the
// bounded wait for one to arrive.
type ErrNoViewport struct{}

func (ErrNoViewport) Error() string { return "motion: no viewport bounds known" }

func clampPoint(p statestore.Point, vp statestore.Rect) statestore.Point {
	lo := statestore.Point{X: vp.Left + margin, Y: vp.Top + margin}
	hi := statestore.Point{X: vp.Right - margin, Y: vp.Bottom - margin}
	if lo.X > hi.X {
		lo.X, hi.X = (vp.Left+vp.Right)/2, (vp.Left+vp.Right)/2
	}
	if lo.Y > hi.Y {
		lo.Y, hi.Y = (vp.Top+vp.Bottom)/2, (vp.Top+vp.Bottom)/2
	}
	x := math.Min(math.Max(p.X, lo.X), hi.X)
	y := math.Min(math.Max(p.Y, lo.Y), hi.Y)
	return statestore.Point{X: x, Y: y}
}

// awaitViewport blocks up to 2s for viewport bounds to become known.
func (e *Engine) awaitViewport() (statestore.Rect, bool) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := e.store.Read()
		if snap.Viewport.Valid() {
			return snap.Viewport, true
		}
		if time.Now().After(deadline) {
			return statestore.Rect{}, false
		}
		e.sleep(20 * time.Millisecond)
	}
}

// MoveTo plans and emits a path from the Store's last-known cursor to
// target, clamped to the most recent viewport. On return, the Store's
// cursor equals target regardless of Probe confirmation, so downstream
// actions can chain immediately.
func (e *Engine) MoveTo(target statestore.Point, profile Profile) error {
	vp, ok := e.awaitViewport()
	if !ok {
		return ErrNoViewport{}
	}

	snap := e.store.Read()
	start := snap.Cursor
	if !snap.CursorKnown {
		start = target
	}

	start = clampPoint(start, vp)
	target = clampPoint(target, vp)

	dx := target.X - start.X
	dy := target.Y - start.Y
	dist := math.Hypot(dx, dy)

	if dist < minDistance {
		e.store.SetCursorPosition(target)
		return nil
	}

	path := e.buildPath(start, target, dist, profile, vp)

	lastX, lastY := int(math.Round(start.X)), int(math.Round(start.Y))
	for _, p := range path {
		px, py := int(math.Round(p.X)), int(math.Round(p.Y))
		ddx, ddy := px-lastX, py-lastY
		if ddx == 0 && ddy == 0 {
			continue
		}
		e.link.SendDirect(fmt.Sprintf("MOVE,%d,%d", ddx, ddy))
		lastX, lastY = px, py
		e.sleep(jitter(e.rand, 4, 14))
	}

	// Let the Probe's mousemove stream catch up.
	e.sleep(60 * time.Millisecond)

	// Correction pass: single refinement, no loop.
	snap = e.store.Read()
	residual := math.Hypot(target.X-snap.Cursor.X, target.Y-snap.Cursor.Y)
	if residual > correctionThreshold {
		ddx := int(math.Round(target.X)) - int(math.Round(snap.Cursor.X))
		ddy := int(math.Round(target.Y)) - int(math.Round(snap.Cursor.Y))
		if ddx != 0 || ddy != 0 {
			e.link.SendDirect(fmt.Sprintf("MOVE,%d,%d", ddx, ddy))
		}
	}

	e.store.SetCursorPosition(target)
	return nil
}

// buildPath samples a lightly curved (or, for ProfileNoOvershoot, a
// straight) path from start to target, clamping every sampled point to
// the viewport.
func (e *Engine) buildPath(start, target statestore.Point, dist float64, profile Profile, vp statestore.Rect) []statestore.Point {
	steps := stepsFor(dist)

	var bow float64
	var sign float64 = 1
	if profile == ProfileDefault {
		bow = math.Min(dist*0.03, 20)
		if e.rand.Intn(2) == 0 {
			sign = -1
		}
	}

	// Unit perpendicular to the start->target direction.
	dx, dy := target.X-start.X, target.Y-start.Y
	var perpX, perpY float64
	if dist > 0 {
		perpX, perpY = -dy/dist, dx/dist
	}

	points := make([]statestore.Point, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		// Quadratic bow peaking at t=0.5.
		bowAmt := sign * bow * 4 * t * (1 - t)
		x := start.X + dx*t + perpX*bowAmt
		y := start.Y + dy*t + perpY*bowAmt
		points = append(points, clampPoint(statestore.Point{X: x, Y: y}, vp))
	}
	return points
}

// stepsFor chooses a sample count proportional to distance, bounded to
// avoid flooding the Injector while still giving enough points for
// smooth on-screen motion.
func stepsFor(dist float64) int {
	steps := int(dist / 12)
	if steps < 4 {
		steps = 4
	}
	if steps > 60 {
		steps = 60
	}
	return steps
}

func jitter(r *rand.Rand, loMs, hiMs int) time.Duration {
	d := loMs + r.Intn(hiMs-loMs+1)
	return time.Duration(d) * time.Millisecond
}
