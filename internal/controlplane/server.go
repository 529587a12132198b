// Package controlplane is the Coordinator's plain HTTP server: the
// Probe-facing wire contract, the automation dispatch endpoints, and a
// handful of diagnostic sinks. A stdlib mux behind an explicit tcp4
// listener, wrapped in a cors/recover/log middleware chain.
package controlplane

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hidcoord/coordinator/internal/action"
	"github.com/hidcoord/coordinator/internal/domquery"
	"github.com/hidcoord/coordinator/internal/injectorlink"
	"github.com/hidcoord/coordinator/internal/motion"
	"github.com/hidcoord/coordinator/internal/probewire"
	"github.com/hidcoord/coordinator/internal/statestore"
)

// Server is the Control Plane: a stdlib mux wrapped in recover+logging
// middleware, served on a fixed loopback port.
type Server struct {
	store  *statestore.Store
	dq     *domquery.Service
	engine *action.Engine
	mover  *motion.Engine
	link   *injectorlink.Link

	mu          sync.Mutex
	parked      []action.Action
	lastDOM     string
	lastFields  json.RawMessage
	lastBottom  time.Time

	dash      *dashboardHub
	dashboard bool
}

// New returns a Server wired to its collaborators. dashboard controls
// whether /dashboard and /dashboard/ws are mounted; when false those
// paths 404 like any other unknown route.
func New(store *statestore.Store, dq *domquery.Service, engine *action.Engine, mover *motion.Engine, link *injectorlink.Link, dashboard bool) *Server {
	s := &Server{store: store, dq: dq, engine: engine, mover: mover, link: link, dashboard: dashboard}
	s.dash = newDashboardHub(store)
	return s
}

// Handler builds the full route table wrapped in the cors/recover/log
// middleware chain. Exposed separately from Start so tests can drive it
// with httptest without binding a real socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/cursor-position", s.handleCursorPosition)
	mux.HandleFunc("/cursor-hover", s.handleCursorHover)
	mux.HandleFunc("/coord-request", s.handleCoordRequest)
	mux.HandleFunc("/coord-response", s.handleCoordResponse)
	mux.HandleFunc("/scan-request", s.handleScanRequest)
	mux.HandleFunc("/scan-response", s.handleScanResponse)
	mux.HandleFunc("/automation", s.handleAutomation)
	mux.HandleFunc("/start", s.handleStart)
	mux.HandleFunc("/dom-change", s.handleDOMChange)
	mux.HandleFunc("/form-fields", s.handleFormFields)
	mux.HandleFunc("/bottom-reached", s.handleBottomReached)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/test-move", s.handleTestMove)
	mux.HandleFunc("/trigger-scan", s.handleTriggerScan)
	if s.dashboard {
		mux.HandleFunc("/dashboard", s.dash.handleIndex)
		mux.HandleFunc("/dashboard/ws", s.dash.handleWS)
	}
	return corsMiddleware(recoverMiddleware(logMiddleware(mux)))
}

// Start binds loopback:port and serves Handler. Blocking; callers run it
// in a goroutine.
func (s *Server) Start(port int) error {
	if s.dashboard {
		go s.dash.run()
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return fmt.Errorf("controlplane: listen %s: %w", addr, err)
	}

	log.Printf("ControlPlane: listening on %s (dashboard=%v)", addr, s.dashboard)

	httpServer := &http.Server{Handler: s.Handler()}
	if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("controlplane: serve: %w", err)
	}
	return nil
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("ControlPlane: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("ControlPlane: PANIC RECOVERED: %v", err)
				http.Error(w, "bad request", http.StatusBadRequest)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware is permissive: any origin, GET+POST, Content-Type
// header. The Probe runs as a cross-origin browser extension, so there's
// no fixed origin to allow-list.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// handleCursorPosition implements POST /cursor-position: updates
// cursor, hover, and (if present) viewport bounds.
func (s *Server) handleCursorPosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var p probewire.CursorPosition
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		badRequest(w, err)
		return
	}
	hover := statestore.HoverTarget{ID: p.HoveredID, Name: p.HoveredName}
	var vp statestore.Rect
	haveVP := p.HasViewport()
	if haveVP {
		vp = statestore.Rect{Left: *p.VpLeft, Top: *p.VpTop, Right: *p.VpRight, Bottom: *p.VpBottom}
	}
	if p.X == 0 && p.Y == 0 {
		// A zero coordinate is indistinguishable from a missing one
		// (X/Y are plain float64, not pointers) and from an older Probe
		// build that sends {x:0,y:0,...} on events that aren't real
		// mousemoves. Never let it stomp a previously valid cursor
		// reading; still apply the hover/viewport half of the report.
		s.store.SetHover(hover)
		if haveVP {
			s.store.SetViewport(vp)
		}
		writeJSON(w, map[string]string{"status": "ok"})
		return
	}
	s.store.SetCursor(statestore.Point{X: p.X, Y: p.Y}, hover, haveVP, vp)
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleCursorHover implements POST /cursor-hover: hover only, never
// touches cursor position.
func (s *Server) handleCursorHover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var h probewire.CursorHover
	if err := json.NewDecoder(r.Body).Decode(&h); err != nil {
		badRequest(w, err)
		return
	}
	s.store.SetHover(statestore.HoverTarget{ID: h.HoveredID, Name: h.HoveredName})
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleCoordRequest implements GET /coord-request: the single pending
// DOM query, or an empty object.
func (s *Server) handleCoordRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.dq.PendingCoordRequest())
}

// handleCoordResponse implements POST /coord-response: resolves the
// waiter for the given request id, clears the pending slot, refreshes
// viewport bounds.
func (s *Server) handleCoordResponse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var resp probewire.CoordResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		badRequest(w, err)
		return
	}
	s.dq.DeliverCoordResponse(resp)
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleScanRequest implements GET /scan-request.
func (s *Server) handleScanRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.dq.PendingScanRequest())
}

// handleScanResponse implements POST /scan-response.
func (s *Server) handleScanResponse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var resp probewire.ScanResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		badRequest(w, err)
		return
	}
	s.dq.DeliverScanResponse(resp)
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleAutomation implements POST /automation: parks a new command
// list for later dispatch. A second POST overwrites whatever was
// parked — it does not cancel a run already in flight, per spec.
func (s *Server) handleAutomation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req probewire.AutomationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}
	actions, err := action.ParseCommands(req.Commands)
	if err != nil {
		badRequest(w, err)
		return
	}
	if req.CursorX != nil && req.CursorY != nil {
		s.store.SetCursorPosition(statestore.Point{X: *req.CursorX, Y: *req.CursorY})
	}

	s.mu.Lock()
	s.parked = actions
	s.mu.Unlock()

	writeJSON(w, map[string]interface{}{"status": "parked", "count": len(actions)})
}

// handleStart implements POST /start: dispatches the parked command
// list into the Action Engine. 400 if none parked. The sequencer runs
// in its own goroutine so this handler stays non-blocking.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	actions := s.parked
	s.parked = nil
	s.mu.Unlock()

	if actions == nil {
		http.Error(w, "no command list parked", http.StatusBadRequest)
		return
	}

	go func() {
		if err := s.engine.Run(actions); err != nil {
			log.Printf("ControlPlane: sequencer ended: %v", err)
		}
	}()

	writeJSON(w, map[string]string{"status": "dispatched"})
}

// handleDOMChange implements POST /dom-change: a diagnostic sink.
func (s *Server) handleDOMChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, err)
		return
	}
	s.mu.Lock()
	s.lastDOM = string(body)
	s.mu.Unlock()
	log.Printf("ControlPlane: dom-change: %s", body)
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleFormFields implements POST /form-fields: stores the last
// detected form snapshot verbatim for /status to surface.
func (s *Server) handleFormFields(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, err)
		return
	}
	s.mu.Lock()
	s.lastFields = body
	s.mu.Unlock()
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleBottomReached implements POST /bottom-reached: a diagnostic
// sink.
func (s *Server) handleBottomReached(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	s.lastBottom = time.Now()
	s.mu.Unlock()
	log.Printf("ControlPlane: bottom-reached")
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleStatus implements GET /status: cursor, automating flag, last
// detected fields.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := s.store.Read()

	s.mu.Lock()
	fields := s.lastFields
	s.mu.Unlock()

	writeJSON(w, map[string]interface{}{
		"cursor":      snap.Cursor,
		"hover":       snap.Hover,
		"viewport":    snap.Viewport,
		"automating":  snap.Automating,
		"last_action": snap.LastAction,
		"last_error":  snap.LastError,
		"form_fields": fields,
	})
}

type testMoveRequest struct {
	Moves []struct {
		X       float64 `json:"x"`
		Y       float64 `json:"y"`
		DelayMS int     `json:"delay_ms"`
	} `json:"moves"`
}

// handleTestMove implements POST /test-move: a debug entry that
// schedules a delayed sequence of absolute moves, bypassing the Action
// Engine's verify-before-proceed handlers entirely.
func (s *Server) handleTestMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req testMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, err)
		return
	}

	moves := req.Moves
	go func() {
		for _, m := range moves {
			if m.DelayMS > 0 {
				time.Sleep(time.Duration(m.DelayMS) * time.Millisecond)
			}
			if err := s.mover.MoveTo(statestore.Point{X: m.X, Y: m.Y}, motion.ProfileDefault); err != nil {
				log.Printf("ControlPlane: test-move failed: %v", err)
				return
			}
		}
	}()

	writeJSON(w, map[string]interface{}{"status": "scheduled", "count": len(moves)})
}

// handleTriggerScan implements POST /trigger-scan: synchronous — issues
// a scan, waits, returns the result.
func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp, err := s.dq.Scan()
	if err != nil {
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
		return
	}
	writeJSON(w, resp)
}
