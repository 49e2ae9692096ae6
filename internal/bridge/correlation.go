package bridge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/infrastructure/monitoring"
)

// DefaultCorrelationTimeout bounds how long a forwarded request may stay
// pending before the table resolves it as timed out.
const DefaultCorrelationTimeout = 30 * time.Second

// ErrCorrelationTimeout resolves entries the remote side never answered.
var ErrCorrelationTimeout = errors.New("bridge: correlation timed out")

// ErrCorrelationCancelled resolves entries torn down by their consumer.
var ErrCorrelationCancelled = errors.New("bridge: correlation cancelled")

// Result is the terminal value of one forwarded request.
type Result struct {
	Status  int
	Headers map[string]string
	Body    []byte
	Err     error
}

type correlationEntry struct {
	id      uint64
	done    chan Result
	created time.Time

	// stream assembly state, used when the reply arrives chunked
	streaming bool
	status    int
	headers   map[string]string
	chunks    [][]byte
}

// Table issues monotonic correlation ids and guarantees each is resolved
// exactly once: by an explicit resolution, by consumer cancellation, or by
// the timeout sweep.
type Table struct {
	mu      sync.Mutex
	next    uint64
	pending map[uint64]*correlationEntry

	timeout time.Duration
	log     *logging.Logger
	metrics *monitoring.Metrics
	stop    chan struct{}
	stopped sync.Once
}

// NewTable builds a correlation table and starts its timeout sweep.
func NewTable(timeout time.Duration, log *logging.Logger, metrics *monitoring.Metrics) *Table {
	if timeout <= 0 {
		timeout = DefaultCorrelationTimeout
	}
	if log == nil {
		log = logging.NewNop()
	}
	t := &Table{
		pending: make(map[uint64]*correlationEntry),
		timeout: timeout,
		log:     log.Named("correlation"),
		metrics: metrics,
		stop:    make(chan struct{}),
	}
	go t.sweep()
	return t
}

// Close stops the timeout sweep and cancels everything still pending.
func (t *Table) Close() {
	t.stopped.Do(func() { close(t.stop) })

	t.mu.Lock()
	entries := make([]*correlationEntry, 0, len(t.pending))
	for id, e := range t.pending {
		entries = append(entries, e)
		delete(t.pending, id)
	}
	t.mu.Unlock()

	for _, e := range entries {
		t.deliver(e, Result{Err: ErrCorrelationCancelled}, "cancelled")
	}
}

// Open issues the next correlation id. The returned channel receives the
// entry's single terminal Result.
func (t *Table) Open() (uint64, <-chan Result) {
	t.mu.Lock()
	t.next++
	id := t.next
	e := &correlationEntry{id: id, done: make(chan Result, 1), created: time.Now()}
	t.pending[id] = e
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.CorrelationsOpen.Inc()
	}
	return id, e.done
}

// Resolve completes an entry. Unknown or already-resolved ids are an error;
// the exactly-once guarantee is enforced here by removing the entry first.
func (t *Table) Resolve(id uint64, res Result) error {
	e, ok := t.take(id)
	if !ok {
		return fmt.Errorf("bridge: correlation %d not pending", id)
	}
	outcome := "success"
	if res.Err != nil {
		outcome = "error"
	}
	t.deliver(e, res, outcome)
	return nil
}

// Cancel tears down an entry on behalf of its consumer.
func (t *Table) Cancel(id uint64) {
	if e, ok := t.take(id); ok {
		t.deliver(e, Result{Err: ErrCorrelationCancelled}, "cancelled")
	}
}

// Pending reports the number of open entries.
func (t *Table) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// StreamStart records the header frame for a chunked reply.
func (t *Table) StreamStart(id uint64, status int, headers map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[id]
	if !ok {
		return fmt.Errorf("bridge: stream-start for unknown correlation %d", id)
	}
	e.streaming = true
	e.status = status
	e.headers = headers
	return nil
}

// StreamChunk appends one ordered chunk to a pending chunked reply.
func (t *Table) StreamChunk(id uint64, chunk []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[id]
	if !ok {
		return fmt.Errorf("bridge: stream-chunk for unknown correlation %d", id)
	}
	if !e.streaming {
		return fmt.Errorf("bridge: stream-chunk before stream-start for correlation %d", id)
	}
	e.chunks = append(e.chunks, chunk)
	return nil
}

// StreamEnd finalizes a chunked reply, resolving the entry with the
// concatenation of its chunks in arrival order.
func (t *Table) StreamEnd(id uint64) error {
	e, ok := t.take(id)
	if !ok {
		return fmt.Errorf("bridge: stream-end for unknown correlation %d", id)
	}
	if !e.streaming {
		t.deliver(e, Result{Err: fmt.Errorf("bridge: stream-end before stream-start for correlation %d", id)}, "error")
		return nil
	}
	var size int
	for _, c := range e.chunks {
		size += len(c)
	}
	body := make([]byte, 0, size)
	for _, c := range e.chunks {
		body = append(body, c...)
	}
	t.deliver(e, Result{Status: e.status, Headers: e.headers, Body: body}, "success")
	return nil
}

func (t *Table) take(id uint64) (*correlationEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return e, ok
}

func (t *Table) deliver(e *correlationEntry, res Result, outcome string) {
	e.done <- res
	if t.metrics != nil {
		t.metrics.CorrelationsOpen.Dec()
		t.metrics.CorrelationsResolved.WithLabelValues(outcome).Inc()
	}
	if outcome != "success" {
		t.log.Debug("correlation resolved",
			zap.Uint64("id", e.id),
			zap.String("outcome", outcome),
			zap.Error(res.Err))
	}
}

// sweep resolves entries older than the timeout so no id leaks, even when
// the remote side vanishes mid-request.
func (t *Table) sweep() {
	interval := t.timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case now := <-ticker.C:
			var expired []*correlationEntry
			t.mu.Lock()
			for id, e := range t.pending {
				if now.Sub(e.created) >= t.timeout {
					expired = append(expired, e)
					delete(t.pending, id)
				}
			}
			t.mu.Unlock()
			for _, e := range expired {
				t.deliver(e, Result{Err: ErrCorrelationTimeout}, "timeout")
			}
		}
	}
}
