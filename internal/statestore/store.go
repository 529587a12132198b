// Package statestore holds the Coordinator's process-wide shared state:
// cursor position, hover target, viewport bounds, and the single pending
// DOM query / scan slots. All access is serialized by a mutex; mutation
// only happens through the narrow setters below.
package statestore

import (
	"sync"
	"time"
)

// Point is an absolute screen coordinate (origin top-left of the primary
// display, pixels).
type Point struct {
	X, Y float64
}

// Rect is a viewport rectangle in absolute screen coordinates.
type Rect struct {
	Left, Top, Right, Bottom float64
}

// Valid reports whether the rectangle has been populated by a real
// Probe message (the zero Rect is never a legitimate viewport).
func (r Rect) Valid() bool {
	return r.Right > r.Left && r.Bottom > r.Top
}

// HoverTarget is the element currently under the cursor, as last
// reported by the Probe.
type HoverTarget struct {
	ID   string
	Name string
}

// PendingQuery is the at-most-one in-flight DOM query.
type PendingQuery struct {
	RequestID string
	Selector  string
	LabelText string
}

// PendingScan is the at-most-one in-flight bulk scan.
type PendingScan struct {
	RequestID string
}

// Store is the Coordinator's shared state. Zero value is not usable;
// use New.
type Store struct {
	mu sync.Mutex

	cursor       Point
	cursorKnown  bool
	hover        HoverTarget
	viewport     Rect
	automating   bool
	pendingQuery *PendingQuery
	pendingScan  *PendingScan

	lastAction string
	lastError  string

	// onChange holds the callbacks invoked (without the lock held) after
	// a cursor, hover, viewport, automating or last-action/error setter
	// mutates state, used by the Operator Console to push a diagnostics
	// snapshot. Empty means nobody is listening.
	onChange []func()
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// OnChange registers a callback invoked after every mutating setter
// except the pending query/scan setters, which never fire it. Each call
// adds a callback; all registered callbacks run in registration order.
// The callback must not block and must not call back into
// the Store synchronously from the same goroutine that triggered it if
// it also reads the Store, to avoid self-deadlock — in practice it
// should just signal a channel or goroutine.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Store) notify() {
	s.mu.Lock()
	fns := s.onChange
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SetCursor updates the cursor reading and hover target. Per spec, a
// move event with an obviously-missing/zero coordinate must not
// overwrite a previously valid reading; callers distinguish "hover-only"
// events (SetHover) from "move" events (SetCursor) before calling in.
func (s *Store) SetCursor(p Point, hover HoverTarget, haveViewport bool, vp Rect) {
	s.mu.Lock()
	s.cursor = p
	s.cursorKnown = true
	s.hover = hover
	if haveViewport && vp.Valid() {
		s.viewport = vp
	}
	s.mu.Unlock()
	s.notify()
}

// SetHover updates only the hover target. Invariant: never mutates
// cursor position.
func (s *Store) SetHover(hover HoverTarget) {
	s.mu.Lock()
	s.hover = hover
	s.mu.Unlock()
	s.notify()
}

// SetViewport refreshes the known viewport bounds (e.g. from a DOM
// query/scan response that carries them).
func (s *Store) SetViewport(vp Rect) {
	if !vp.Valid() {
		return
	}
	s.mu.Lock()
	s.viewport = vp
	s.mu.Unlock()
	s.notify()
}

// SetCursorPosition force-sets the cursor to an exact value, used by
// the Motion Engine's post-condition: after emitting a motion, the
// Store's cursor equals the target regardless of Probe confirmation.
func (s *Store) SetCursorPosition(p Point) {
	s.mu.Lock()
	s.cursor = p
	s.cursorKnown = true
	s.mu.Unlock()
	s.notify()
}

// Snapshot is a consistent read of the fields actions and motion
// planning need.
type Snapshot struct {
	Cursor      Point
	CursorKnown bool
	Hover       HoverTarget
	Viewport    Rect
	Automating  bool
	LastAction  string
	LastError   string
}

// Read returns a consistent snapshot of cursor/hover/viewport/automating.
func (s *Store) Read() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Cursor:      s.cursor,
		CursorKnown: s.cursorKnown,
		Hover:       s.hover,
		Viewport:    s.viewport,
		Automating:  s.automating,
		LastAction:  s.lastAction,
		LastError:   s.lastError,
	}
}

// SetAutomating flips the automating flag; true for the duration of an
// Action Engine sequencer run, false otherwise.
func (s *Store) SetAutomating(v bool) {
	s.mu.Lock()
	s.automating = v
	s.mu.Unlock()
	s.notify()
}

// SetLastAction records a human-readable description of the most
// recently completed (or failed) action, surfaced on /status and the
// dashboard. Not part of the wire contract.
func (s *Store) SetLastAction(desc string) {
	s.mu.Lock()
	s.lastAction = desc
	s.mu.Unlock()
	s.notify()
}

// SetLastError records the most recent hard-halt reason.
func (s *Store) SetLastError(desc string) {
	s.mu.Lock()
	s.lastError = desc
	s.mu.Unlock()
	s.notify()
}

// --- Pending DOM query registry ---

// SetPendingQuery installs the single pending DOM query, overwriting
// whatever was previously pending (the prior waiter still gets its own
// timeout per spec — this setter only changes what /coord-request
// serves next).
func (s *Store) SetPendingQuery(q *PendingQuery) {
	s.mu.Lock()
	s.pendingQuery = q
	s.mu.Unlock()
}

// PendingQuery returns the currently pending DOM query, or nil.
func (s *Store) PendingQuery() *PendingQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingQuery
}

// ClearPendingQueryIf clears the pending slot only if it still holds
// the given request id (a late timeout must not clobber a newer
// query that overwrote it).
func (s *Store) ClearPendingQueryIf(requestID string) {
	s.mu.Lock()
	if s.pendingQuery != nil && s.pendingQuery.RequestID == requestID {
		s.pendingQuery = nil
	}
	s.mu.Unlock()
}

// --- Pending scan registry ---

func (s *Store) SetPendingScan(q *PendingScan) {
	s.mu.Lock()
	s.pendingScan = q
	s.mu.Unlock()
}

func (s *Store) PendingScan() *PendingScan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingScan
}

func (s *Store) ClearPendingScanIf(requestID string) {
	s.mu.Lock()
	if s.pendingScan != nil && s.pendingScan.RequestID == requestID {
		s.pendingScan = nil
	}
	s.mu.Unlock()
}

// Now is a tiny seam so tests can freeze time if ever needed; kept as
// a thin wrapper rather than threading a clock through every caller.
func Now() time.Time { return time.Now() }
