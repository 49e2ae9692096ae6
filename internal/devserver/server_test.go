package devserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubApp lets tests hold an instance in the starting state.
type stubApp struct {
	initGate  chan struct{}
	initErr   error
	inits     int
	closes    int
	responses int
}

func (a *stubApp) Name() string { return "stub" }

func (a *stubApp) Init(ctx context.Context) error {
	a.inits++
	if a.initGate != nil {
		<-a.initGate
	}
	return a.initErr
}

func (a *stubApp) Close() error {
	a.closes++
	return nil
}

func (a *stubApp) Handle(ctx context.Context, req *Request) (*Response, error) {
	a.responses++
	return NewResponse(200, "text/plain", []byte("ok:"+req.Path)), nil
}

func waitForState(t *testing.T, s *Server, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("server never reached state %s, stuck at %s", want, s.State())
}

func TestServerLifecycleTransitions(t *testing.T) {
	app := &stubApp{}
	s := NewServer(app, 3000, nil, nil)

	assert.Equal(t, StateStopped, s.State())
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateListening, s.State())

	err := s.Start(context.Background())
	require.Error(t, err)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 1, app.inits)
	assert.Equal(t, 1, app.closes)
}

func TestHandleWhileStoppedRejects(t *testing.T) {
	s := NewServer(&stubApp{}, 3000, nil, nil)

	_, err := s.Handle(context.Background(), &Request{Method: "GET", Path: "/"})
	assert.ErrorIs(t, err, ErrNotListening)
}

func TestRequestsQueueWhileStarting(t *testing.T) {
	app := &stubApp{initGate: make(chan struct{})}
	s := NewServer(app, 3000, nil, nil)

	startDone := make(chan error, 1)
	go func() { startDone <- s.Start(context.Background()) }()
	waitForState(t, s, StateStarting)

	type result struct {
		resp *Response
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := s.Handle(context.Background(), &Request{Method: "GET", Path: "/queued"})
		got <- result{resp, err}
	}()

	// The request must be parked, not rejected.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		queued := len(s.queue)
		s.mu.Unlock()
		if queued == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case r := <-got:
		t.Fatalf("request resolved before listening: %+v %v", r.resp, r.err)
	default:
	}

	close(app.initGate)
	require.NoError(t, <-startDone)

	select {
	case r := <-got:
		require.NoError(t, r.err)
		assert.Equal(t, 200, r.resp.Status)
		assert.Equal(t, "ok:/queued", string(r.resp.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("queued request never flushed")
	}
}

func TestStartingQueueOverflowIsRetryable(t *testing.T) {
	s := NewServer(&stubApp{}, 3000, nil, nil)
	s.mu.Lock()
	s.state = StateStarting
	for i := 0; i < startingQueueLimit; i++ {
		s.queue = append(s.queue, pendingRequest{done: make(chan pendingResult, 1)})
	}
	s.mu.Unlock()

	_, err := s.Handle(context.Background(), &Request{Method: "GET", Path: "/"})
	assert.ErrorIs(t, err, ErrStarting)
}

func TestStopFailsQueuedRequests(t *testing.T) {
	app := &stubApp{initGate: make(chan struct{})}
	s := NewServer(app, 3000, nil, nil)

	startDone := make(chan error, 1)
	go func() { startDone <- s.Start(context.Background()) }()
	waitForState(t, s, StateStarting)

	got := make(chan error, 1)
	go func() {
		_, err := s.Handle(context.Background(), &Request{Method: "GET", Path: "/"})
		got <- err
	}()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		queued := len(s.queue)
		s.mu.Unlock()
		if queued == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	require.NoError(t, s.Stop(context.Background()))
	assert.ErrorIs(t, <-got, ErrNotListening)

	close(app.initGate)
	<-startDone
}

func TestInitFailureReturnsToStopped(t *testing.T) {
	app := &stubApp{initErr: errors.New("bad app dir")}
	s := NewServer(app, 3000, nil, nil)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, s.State())
}

func TestRestartIsStopThenStart(t *testing.T) {
	app := &stubApp{}
	s := NewServer(app, 3000, nil, nil)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Restart(context.Background()))
	assert.Equal(t, StateListening, s.State())
	assert.Equal(t, 2, app.inits)
	assert.Equal(t, 1, app.closes)
}

func TestTransformCache(t *testing.T) {
	cache := newTransformCache(nil)

	_, ok := cache.get("/a.js", []byte("one"))
	assert.False(t, ok)

	cache.put("/a.js", []byte("one"), []byte("ONE"))
	out, ok := cache.get("/a.js", []byte("one"))
	require.True(t, ok)
	assert.Equal(t, "ONE", string(out))

	// Content drift makes the entry stale.
	_, ok = cache.get("/a.js", []byte("two"))
	assert.False(t, ok)

	cache.put("/a.js", []byte("two"), []byte("TWO"))
	cache.invalidate("/a.js")
	_, ok = cache.get("/a.js", []byte("two"))
	assert.False(t, ok)
}
