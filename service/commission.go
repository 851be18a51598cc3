// Package service implements the commission protocol: the
// request/response shape that bridges a coordinator and the worker holding
// caches and processors, correlated by a monotonically increasing request
// number with one-shot resolution and cascading handlers.
//
// The pending-request bookkeeping is grounded on nscaledev/uni-core's
// RefreshAheadCache invalidation coalescing (a map entry holding a "done"
// channel that late arrivals wait on rather than re-issuing work), adapted
// from "coalesce concurrent callers onto one in-flight refresh" to
// "resolve exactly one waiter per request number, reject duplicates and
// late arrivals after shutdown".
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"epicurrents.dev/core/errs"
)

// Commission is one request across the service boundary.
type Commission struct {
	Action  string
	RN      uint64
	Payload any
}

// Response answers a Commission by the same RN.
type Response struct {
	Action  string
	RN      uint64
	Success bool
	Reason  string
	Payload any
}

// Handler attempts to answer a commission; handled=false means the cascade
// should continue to the next (typically parent) handler.
type Handler func(ctx context.Context, c Commission) (resp Response, handled bool)

// Metrics receives a commission's round-trip latency by action name.
type Metrics interface {
	ObserveCommissionLatency(action string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCommissionLatency(string, time.Duration) {}

// Service owns the monotonic rn counter, the pending-response table, and
// the cascade of handlers that answer commissions dispatched to it.
type Service struct {
	log     zerolog.Logger
	metrics Metrics

	nextRN uint64 // atomic

	mu       sync.Mutex
	pending  map[uint64]chan Response
	handlers []Handler
	closed   bool
}

// New builds a Service. Handlers are consulted in registration order; a
// child should RegisterHandler before its parent so the cascade tries the
// more specific handler first.
func New(log zerolog.Logger, m Metrics) *Service {
	if m == nil {
		m = noopMetrics{}
	}
	return &Service{log: log, metrics: m, pending: map[uint64]chan Response{}}
}

// RegisterHandler appends h to the cascade.
func (s *Service) RegisterHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// nextRequestNumber returns the next monotonically increasing rn.
func (s *Service) nextRequestNumber() uint64 {
	return atomic.AddUint64(&s.nextRN, 1)
}

// Send issues a commission, runs the handler cascade, and waits for the
// matching response or ctx cancellation. A cancelled context resolves with
// reason "cancelled"; a closed service rejects outstanding and new sends
// with reason "shutdown".
func (s *Service) Send(ctx context.Context, action string, payload any) (Response, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Response{}, &errs.CancellationError{Reason: errs.ReasonShutdown}
	}
	rn := s.nextRequestNumber()
	ch := make(chan Response, 1)
	s.pending[rn] = ch
	s.mu.Unlock()

	start := time.Now()
	c := Commission{Action: action, RN: rn, Payload: payload}

	go s.dispatch(ctx, c)

	select {
	case resp := <-ch:
		s.metrics.ObserveCommissionLatency(action, time.Since(start))
		return resp, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, rn)
		s.mu.Unlock()
		s.log.Debug().Str("action", action).Uint64("rn", rn).Msg("service: commission cancelled")
		return Response{}, &errs.CancellationError{Reason: errs.ReasonCancelled}
	}
}

// dispatch runs the handler cascade for c and resolves its pending entry.
func (s *Service) dispatch(ctx context.Context, c Commission) {
	s.mu.Lock()
	handlers := append([]Handler{}, s.handlers...)
	s.mu.Unlock()

	var resp Response
	handled := false
	for _, h := range handlers {
		resp, handled = h(ctx, c)
		if handled {
			break
		}
	}
	if !handled {
		resp = Response{Action: c.Action, RN: c.RN, Success: false, Reason: "unknown-action"}
		s.log.Error().Str("action", c.Action).Uint64("rn", c.RN).Msg("service: no handler claimed commission")
	}
	resp.RN = c.RN
	resp.Action = c.Action

	s.Resolve(resp)
}

// Resolve delivers resp to its waiting Send call. A response for an rn that
// has no pending entry (already resolved, cancelled, or never issued by
// this instance) is a duplicate or a stale late arrival and is dropped,
// satisfying "duplicates reject the response".
func (s *Service) Resolve(resp Response) {
	s.mu.Lock()
	ch, ok := s.pending[resp.RN]
	if ok {
		delete(s.pending, resp.RN)
	}
	s.mu.Unlock()

	if !ok {
		s.log.Debug().Uint64("rn", resp.RN).Msg("service: dropped duplicate or stale response")
		return
	}
	ch <- resp
}

// Shutdown rejects every outstanding commission with reason "shutdown" and
// refuses further Sends.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.closed = true
	pending := s.pending
	s.pending = map[uint64]chan Response{}
	s.mu.Unlock()

	for rn, ch := range pending {
		ch <- Response{RN: rn, Success: false, Reason: errs.ReasonShutdown}
	}
}

// Pending reports the number of outstanding commissions, for tests and
// diagnostics.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ErrNoHandler is a Go error for a commission that no handler in the
// cascade claims. Send does not return it: it reports that case as a
// Response with Success=false and Reason "unknown-action".
var ErrNoHandler = fmt.Errorf("service: no handler claimed commission")
