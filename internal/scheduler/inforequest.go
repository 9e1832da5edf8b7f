package scheduler

import (
	"sync"
	"time"

	"github.com/syncevo/pimsyncd/internal/apperror"
)

// infoRequest tracks one in-flight password/out-of-band-datum request
// brokered between a Session and its clients (spec.md §4.8.8).
type infoRequest struct {
	id        string
	sessionID string
	kind      string
	replyCh   chan map[string]string
	once      sync.Once
}

// RequestInfo mints an info-request id, broadcasts via emit, and blocks
// until a client calls Respond or timeout elapses.
func (s *Scheduler) RequestInfo(sessionID, kind string, fields map[string]string, timeout time.Duration, emit func(id string)) (map[string]string, error) {
	req := &infoRequest{
		id:        s.MintSessionID(),
		sessionID: sessionID,
		kind:      kind,
		replyCh:   make(chan map[string]string, 1),
	}

	s.mu.Lock()
	s.infoRequests[req.id] = req
	if s.metrics != nil {
		s.metrics.InfoRequests.WithLabelValues(kind).Inc()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.infoRequests, req.id)
		s.mu.Unlock()
	}()

	if emit != nil {
		emit(req.id)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-req.replyCh:
		return resp, nil
	case <-timer.C:
		return nil, apperror.New(apperror.StatusPasswordTimeout, "info request timed out")
	}
}

// Respond routes a client's answer back to the waiting RequestInfo call.
// It is a no-op (not an error) if the request already expired.
func (s *Scheduler) Respond(id string, fields map[string]string) error {
	s.mu.Lock()
	req, ok := s.infoRequests[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	req.once.Do(func() {
		req.replyCh <- fields
	})
	return nil
}
