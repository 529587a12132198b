package controlplane

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hidcoord/coordinator/internal/action"
	"github.com/hidcoord/coordinator/internal/domquery"
	"github.com/hidcoord/coordinator/internal/statestore"
)

// newTestServer wires a Server against real domquery/action/statestore
// collaborators but a nil Injector Link and Motion Engine, since none of
// the routes exercised here dereference them directly.
func newTestServer(dashboard bool) (*Server, *statestore.Store) {
	store := statestore.New()
	dq := domquery.New(store)
	engine := action.New(store, dq, nil, nil, discardSender{}, discardSender{})
	s := New(store, dq, engine, nil, nil, dashboard)
	return s, store
}

// discardSender satisfies action.Sender and action.StopChecker for tests
// that never dispatch an action needing real Injector I/O.
type discardSender struct{}

func (discardSender) Send(string)   {}
func (discardSender) Stopped() bool { return false }

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCorsHeadersOnEveryResponse(t *testing.T) {
	s, _ := newTestServer(false)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/status", nil)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
}

func TestOptionsPreflightReturns200WithoutReachingHandler(t *testing.T) {
	s, _ := newTestServer(false)
	req := httptest.NewRequest(http.MethodOptions, "/automation", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want 200", rec.Code)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	s, _ := newTestServer(false)
	rec := doJSON(t, s.Handler(), http.MethodGet, "/no-such-route", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMalformedJSONReturns400(t *testing.T) {
	s, _ := newTestServer(false)
	req := httptest.NewRequest(http.MethodPost, "/cursor-position", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestCursorPositionUpdatesStore(t *testing.T) {
	s, store := newTestServer(false)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/cursor-position", map[string]interface{}{
		"x": 12.0, "y": 34.0, "hovered_id": "field-1", "hovered_name": "Name",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	snap := store.Read()
	if snap.Cursor.X != 12 || snap.Cursor.Y != 34 {
		t.Errorf("cursor = %v, want {12 34}", snap.Cursor)
	}
	if snap.Hover.ID != "field-1" {
		t.Errorf("hover id = %q, want %q", snap.Hover.ID, "field-1")
	}
}

func TestCursorPositionZeroCoordinateDoesNotOverwriteCursor(t *testing.T) {
	s, store := newTestServer(false)
	doJSON(t, s.Handler(), http.MethodPost, "/cursor-position", map[string]interface{}{
		"x": 12.0, "y": 34.0, "hovered_id": "field-1", "hovered_name": "Name",
	})
	rec := doJSON(t, s.Handler(), http.MethodPost, "/cursor-position", map[string]interface{}{
		"x": 0.0, "y": 0.0, "hovered_id": "field-2", "hovered_name": "Other",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	snap := store.Read()
	if snap.Cursor.X != 12 || snap.Cursor.Y != 34 {
		t.Errorf("cursor = %v, want the prior reading {12 34} preserved", snap.Cursor)
	}
	if snap.Hover.ID != "field-2" {
		t.Errorf("hover id = %q, want %q (hover still applies on a zero-coordinate report)", snap.Hover.ID, "field-2")
	}
}

func TestCursorHoverNeverTouchesCursor(t *testing.T) {
	s, store := newTestServer(false)
	doJSON(t, s.Handler(), http.MethodPost, "/cursor-position", map[string]interface{}{"x": 5.0, "y": 5.0})
	doJSON(t, s.Handler(), http.MethodPost, "/cursor-hover", map[string]interface{}{"hovered_id": "a", "hovered_name": "A"})

	snap := store.Read()
	if snap.Cursor.X != 5 || snap.Cursor.Y != 5 {
		t.Errorf("cursor mutated by /cursor-hover: %v", snap.Cursor)
	}
	if snap.Hover.ID != "a" {
		t.Errorf("hover id = %q, want %q", snap.Hover.ID, "a")
	}
}

func TestAutomationParksAndSecondPostOverwrites(t *testing.T) {
	s, _ := newTestServer(false)

	rec := doJSON(t, s.Handler(), http.MethodPost, "/automation", map[string]interface{}{
		"commands": []string{"DELAY,10", "DELAY,20"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	s.mu.Lock()
	firstCount := len(s.parked)
	s.mu.Unlock()
	if firstCount != 2 {
		t.Fatalf("parked %d actions, want 2", firstCount)
	}

	// A second POST before /start must overwrite, not append or queue.
	doJSON(t, s.Handler(), http.MethodPost, "/automation", map[string]interface{}{
		"commands": []string{"DELAY,5"},
	})
	s.mu.Lock()
	secondCount := len(s.parked)
	s.mu.Unlock()
	if secondCount != 1 {
		t.Errorf("parked %d actions after overwrite, want 1", secondCount)
	}
}

func TestStartWithNothingParkedReturns400(t *testing.T) {
	s, _ := newTestServer(false)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/start", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStartDispatchesParkedListAndClearsIt(t *testing.T) {
	s, store := newTestServer(false)
	doJSON(t, s.Handler(), http.MethodPost, "/automation", map[string]interface{}{
		"commands": []string{"DELAY,1"},
	})

	rec := doJSON(t, s.Handler(), http.MethodPost, "/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	s.mu.Lock()
	remaining := s.parked
	s.mu.Unlock()
	if remaining != nil {
		t.Errorf("expected parked list to be cleared after /start, got %v", remaining)
	}

	// The sequencer runs in a goroutine; give it a moment to finish a
	// single 1ms delay action and flip Automating back to false.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !store.Read().Automating {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if store.Read().Automating {
		t.Error("expected the dispatched sequencer to have completed")
	}
}

func TestStatusReflectsStoreSnapshot(t *testing.T) {
	s, store := newTestServer(false)
	store.SetLastAction("did something")
	store.SetLastError("uh oh")

	rec := doJSON(t, s.Handler(), http.MethodGet, "/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["last_action"] != "did something" {
		t.Errorf("last_action = %v, want %q", body["last_action"], "did something")
	}
	if body["last_error"] != "uh oh" {
		t.Errorf("last_error = %v, want %q", body["last_error"], "uh oh")
	}
}

func TestDashboardRoutesOnlyMountedWhenEnabled(t *testing.T) {
	disabled, _ := newTestServer(false)
	rec := doJSON(t, disabled.Handler(), http.MethodGet, "/dashboard", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("dashboard status with dashboard disabled = %d, want 404", rec.Code)
	}

	enabled, _ := newTestServer(true)
	rec = doJSON(t, enabled.Handler(), http.MethodGet, "/dashboard", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("dashboard status with dashboard enabled = %d, want 200", rec.Code)
	}
}

func TestFormFieldsSurfacedOnStatus(t *testing.T) {
	s, _ := newTestServer(false)
	doJSON(t, s.Handler(), http.MethodPost, "/form-fields", []map[string]string{{"selector": "#a"}})

	rec := doJSON(t, s.Handler(), http.MethodGet, "/status", nil)
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["form_fields"] == nil {
		t.Error("expected form_fields to be populated on /status after /form-fields")
	}
}

func TestMethodNotAllowedOnWrongVerb(t *testing.T) {
	s, _ := newTestServer(false)
	rec := doJSON(t, s.Handler(), http.MethodPost, "/status", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
