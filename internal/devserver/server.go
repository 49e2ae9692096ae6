package devserver

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/infrastructure/monitoring"
)

// State is a server instance's lifecycle position.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// startingQueueLimit bounds requests held while an instance starts; beyond
// it callers get the retryable error instead.
const startingQueueLimit = 64

type pendingRequest struct {
	ctx  context.Context
	req  *Request
	done chan pendingResult
}

type pendingResult struct {
	resp *Response
	err  error
}

// Server wraps an App with the stopped/starting/listening/stopping
// lifecycle. Requests arriving while starting queue up (bounded) and are
// dispatched once the instance listens.
type Server struct {
	app     App
	port    int
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu    sync.Mutex
	state State
	queue []pendingRequest
}

// NewServer builds a lifecycle wrapper for app on a virtual port.
func NewServer(app App, port int, log *logging.Logger, metrics *monitoring.Metrics) *Server {
	if log == nil {
		log = logging.NewNop()
	}
	return &Server{
		app:     app,
		port:    port,
		log:     log.Named("devserver").With(zap.String("app", app.Name()), zap.Int("port", port)),
		metrics: metrics,
	}
}

// Port returns the virtual port the server owns.
func (s *Server) Port() int { return s.port }

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// App exposes the wrapped application.
func (s *Server) App() App { return s.app }

// Start moves stopped → starting → listening, then dispatches anything
// queued while starting.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot start from state %s", state)
	}
	s.state = StateStarting
	s.mu.Unlock()

	if err := s.app.Init(ctx); err != nil {
		s.mu.Lock()
		s.state = StateStopped
		queued := s.takeQueueLocked()
		s.mu.Unlock()
		s.failQueued(queued, err)
		return fmt.Errorf("init %s: %w", s.app.Name(), err)
	}

	s.mu.Lock()
	s.state = StateListening
	queued := s.takeQueueLocked()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ServersListening.Inc()
	}
	s.log.Info("server listening", zap.Int("queued_requests", len(queued)))

	for _, p := range queued {
		resp, err := s.dispatch(p.ctx, p.req)
		p.done <- pendingResult{resp: resp, err: err}
	}
	return nil
}

// Stop moves listening → stopping → stopped and closes the app. Queued
// requests fail with the not-listening error.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	queued := s.takeQueueLocked()
	s.mu.Unlock()

	s.failQueued(queued, ErrNotListening)
	err := s.app.Close()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ServersListening.Dec()
	}
	s.log.Info("server stopped")
	return err
}

// Restart is a full stop-then-start, for changes that cannot be patched
// into a live instance.
func (s *Server) Restart(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.Start(ctx)
}

// Handle serves one request according to lifecycle state: listening
// dispatches, starting queues (or rejects retryably when the queue is
// full), anything else rejects.
func (s *Server) Handle(ctx context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	switch s.state {
	case StateListening:
		s.mu.Unlock()
		return s.dispatch(ctx, req)

	case StateStarting:
		if len(s.queue) >= startingQueueLimit {
			s.mu.Unlock()
			return nil, ErrStarting
		}
		p := pendingRequest{ctx: ctx, req: req, done: make(chan pendingResult, 1)}
		s.queue = append(s.queue, p)
		s.mu.Unlock()

		select {
		case res := <-p.done:
			return res.resp, res.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}

	default:
		s.mu.Unlock()
		return nil, ErrNotListening
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request) (*Response, error) {
	resp, err := s.app.Handle(ctx, req)
	if s.metrics != nil {
		status := "error"
		if err == nil && resp != nil {
			status = strconv.Itoa(resp.Status)
		}
		s.metrics.VirtualRequests.WithLabelValues(strconv.Itoa(s.port), status).Inc()
	}
	return resp, err
}

func (s *Server) takeQueueLocked() []pendingRequest {
	queued := s.queue
	s.queue = nil
	return queued
}

func (s *Server) failQueued(queued []pendingRequest, err error) {
	for _, p := range queued {
		p.done <- pendingResult{err: err}
	}
}
