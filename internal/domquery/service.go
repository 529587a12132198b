// Package domquery owns the Coordinator side of DOM-query/scan
// request-response correlation: parking a pending query or scan for the
// Probe to poll, and resolving whichever goroutine is waiting on it
// when the Probe's answer (or a timeout) arrives. It sits between the
// Control Plane's HTTP handlers (which park and resolve) and the Action
// Engine (which issues queries and blocks).
package domquery

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hidcoord/coordinator/internal/probewire"
	"github.com/hidcoord/coordinator/internal/statestore"
	"github.com/hidcoord/coordinator/internal/waitreg"
)

const (
	// QueryTimeout bounds how long a coordinate query waits for the Probe.
	QueryTimeout = 5 * time.Second
	// ScanTimeout bounds how long a bulk DOM scan waits for the Probe.
	ScanTimeout = 10 * time.Second
)

// Service correlates DOM queries/scans between the Action Engine and
// the Control Plane's Probe-facing handlers.
type Service struct {
	store *statestore.Store
	seq   uint64 // accessed only via atomic; shared by Query and Scan callers on different goroutines

	queryWaiters *waitreg.Registry[probewire.CoordResponse]
	scanWaiters  *waitreg.Registry[probewire.ScanResponse]
}

// New returns a Service backed by the given Store.
func New(store *statestore.Store) *Service {
	return &Service{
		store:        store,
		queryWaiters: waitreg.New[probewire.CoordResponse](),
		scanWaiters:  waitreg.New[probewire.ScanResponse](),
	}
}

func (s *Service) nextID(prefix string) string {
	seq := atomic.AddUint64(&s.seq, 1)
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq)
}

// Query parks a DOM query for selector/labelText and blocks (up to
// QueryTimeout) for the Probe's answer. At most one query is ever
// pending at a time: a new call here overwrites the pending slot, per
// spec, while any still-running earlier call keeps its own deadline.
func (s *Service) Query(selector, labelText string) (probewire.CoordResponse, error) {
	id := s.nextID("q")
	s.store.SetPendingQuery(&statestore.PendingQuery{
		RequestID: id,
		Selector:  selector,
		LabelText: labelText,
	})

	resp, ok := s.queryWaiters.Wait(id, QueryTimeout)
	s.store.ClearPendingQueryIf(id)
	if !ok {
		return probewire.CoordResponse{}, fmt.Errorf("domquery: probe timeout for selector %q", selector)
	}
	return resp, nil
}

// Scan parks a bulk scan request and blocks (up to ScanTimeout) for the
// Probe's answer.
func (s *Service) Scan() (probewire.ScanResponse, error) {
	id := s.nextID("s")
	s.store.SetPendingScan(&statestore.PendingScan{RequestID: id})

	resp, ok := s.scanWaiters.Wait(id, ScanTimeout)
	s.store.ClearPendingScanIf(id)
	if !ok {
		return probewire.ScanResponse{}, fmt.Errorf("domquery: probe timeout for scan")
	}
	return resp, nil
}

// PendingCoordRequest returns what GET /coord-request should serve.
func (s *Service) PendingCoordRequest() probewire.CoordRequest {
	q := s.store.PendingQuery()
	if q == nil {
		return probewire.CoordRequest{}
	}
	return probewire.CoordRequest{RequestID: q.RequestID, Selector: q.Selector, LabelText: q.LabelText}
}

// PendingScanRequest returns what GET /scan-request should serve.
func (s *Service) PendingScanRequest() probewire.ScanRequest {
	q := s.store.PendingScan()
	if q == nil {
		return probewire.ScanRequest{}
	}
	return probewire.ScanRequest{RequestID: q.RequestID}
}

// DeliverCoordResponse resolves the waiter for resp's request id, if
// any is still registered, and refreshes viewport bounds when present.
// An unknown or already-resolved id is silently discarded (duplicate
// poll / late delivery).
func (s *Service) DeliverCoordResponse(resp probewire.CoordResponse) {
	if resp.HasViewport() {
		s.store.SetViewport(statestore.Rect{
			Left: *resp.VpLeft, Top: *resp.VpTop, Right: *resp.VpRight, Bottom: *resp.VpBottom,
		})
	}
	s.queryWaiters.Deliver(resp.RequestID, resp)
}

// DeliverScanResponse resolves the waiter for resp's request id.
func (s *Service) DeliverScanResponse(resp probewire.ScanResponse) {
	s.store.SetViewport(statestore.Rect{
		Left: resp.VpLeft, Top: resp.VpTop, Right: resp.VpRight, Bottom: resp.VpBottom,
	})
	s.scanWaiters.Deliver(resp.RequestID, resp)
}
