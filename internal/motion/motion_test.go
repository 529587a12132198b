package motion

import (
	"testing"
	"time"

	"github.com/hidcoord/coordinator/internal/statestore"
)

type fakeSender struct {
	lines []string
}

func (f *fakeSender) SendDirect(line string) {
	f.lines = append(f.lines, line)
}

func newTestEngine(store *statestore.Store, link *fakeSender) *Engine {
	e := New(store, link)
	e.sleep = func(time.Duration) {} // no real delays in tests
	return e
}

func TestMoveToRequiresViewport(t *testing.T) {
	store := statestore.New()
	link := &fakeSender{}
	e := newTestEngine(store, link)

	// awaitViewport polls against a wall-clock 2s deadline; the no-op
	// sleep only turns its 20ms polling into a spin, so this test still
	// takes about 2 seconds.
	err := e.MoveTo(statestore.Point{X: 10, Y: 10}, ProfileDefault)
	if _, ok := err.(ErrNoViewport); !ok {
		t.Fatalf("expected ErrNoViewport, got %v", err)
	}
}

func TestMoveToClampsToViewportMargin(t *testing.T) {
	store := statestore.New()
	store.SetCursor(statestore.Point{X: 50, Y: 50}, statestore.HoverTarget{}, true,
		statestore.Rect{Left: 0, Top: 0, Right: 200, Bottom: 200})

	link := &fakeSender{}
	e := newTestEngine(store, link)

	// Target far outside the viewport; expect the final cursor to sit at
	// the clamped edge (right - margin, bottom - margin), not the raw
	// target.
	if err := e.MoveTo(statestore.Point{X: 10000, Y: 10000}, ProfileDefault); err != nil {
		t.Fatalf("MoveTo returned error: %v", err)
	}

	got := store.Read().Cursor
	wantX, wantY := 200.0-margin, 200.0-margin
	if got.X != wantX || got.Y != wantY {
		t.Errorf("cursor after clamp = %v, want {%v %v}", got, wantX, wantY)
	}
	if len(link.lines) == 0 {
		t.Error("expected at least one MOVE command to be emitted")
	}
}

func TestMoveToBelowMinDistanceSkipsPath(t *testing.T) {
	store := statestore.New()
	store.SetCursor(statestore.Point{X: 100, Y: 100}, statestore.HoverTarget{}, true,
		statestore.Rect{Left: 0, Top: 0, Right: 400, Bottom: 400})

	link := &fakeSender{}
	e := newTestEngine(store, link)

	if err := e.MoveTo(statestore.Point{X: 101, Y: 101}, ProfileDefault); err != nil {
		t.Fatalf("MoveTo returned error: %v", err)
	}
	if len(link.lines) != 0 {
		t.Errorf("expected no MOVE commands for a sub-threshold distance, got %v", link.lines)
	}
	if got := store.Read().Cursor; got != (statestore.Point{X: 101, Y: 101}) {
		t.Errorf("cursor = %v, want target to still be recorded", got)
	}
}

func TestMoveToLandsExactlyOnTarget(t *testing.T) {
	store := statestore.New()
	store.SetCursor(statestore.Point{X: 20, Y: 20}, statestore.HoverTarget{}, true,
		statestore.Rect{Left: 0, Top: 0, Right: 500, Bottom: 500})

	link := &fakeSender{}
	e := newTestEngine(store, link)

	target := statestore.Point{X: 300, Y: 250}
	if err := e.MoveTo(target, ProfileNoOvershoot); err != nil {
		t.Fatalf("MoveTo returned error: %v", err)
	}
	if got := store.Read().Cursor; got != target {
		t.Errorf("final cursor = %v, want exact target %v", got, target)
	}
}

func TestStepsForBounds(t *testing.T) {
	if s := stepsFor(1); s != 4 {
		t.Errorf("stepsFor(1) = %d, want 4 (floor)", s)
	}
	if s := stepsFor(10000); s != 60 {
		t.Errorf("stepsFor(10000) = %d, want 60 (ceiling)", s)
	}
}
