package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/devserver"
	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/infrastructure/monitoring"
)

// DefaultInitWait bounds how long a forwarded request waits for the
// channel to (re-)establish before failing.
const DefaultInitWait = 5 * time.Second

// streamChunkSize slices buffered bodies into transport chunks.
const streamChunkSize = 32 * 1024

// ErrNotEstablished fails requests when the channel never came up within
// the bounded wait.
var ErrNotEstablished = errors.New("bridge: channel not established")

// Channel delivers frames to the remote browsing context.
type Channel interface {
	Send(*Message) error
}

// Options configures a Bridge.
type Options struct {
	Logger  *logging.Logger
	Metrics *monitoring.Metrics

	// Timeout bounds pending correlations; zero means the default 30s.
	Timeout time.Duration

	// InitWait bounds the wait for channel establishment; zero means the
	// default.
	InitWait time.Duration

	// RequestReinit asks all controlled documents to re-initialize the
	// channel when a request arrives before establishment.
	RequestReinit func()
}

// Bridge owns the correlation table, the port registry, and the channel
// state. One bridge serves one browsing context.
type Bridge struct {
	log      *logging.Logger
	metrics  *monitoring.Metrics
	table    *Table
	ports    *PortRegistry
	reinit   func()
	initWait time.Duration

	mu          sync.Mutex
	channel     Channel
	established bool
	waiters     []chan struct{}
}

// NewBridge builds a bridge with its own table and registry.
func NewBridge(opts Options) *Bridge {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	initWait := opts.InitWait
	if initWait <= 0 {
		initWait = DefaultInitWait
	}
	return &Bridge{
		log:      log.Named("bridge"),
		metrics:  opts.Metrics,
		table:    NewTable(opts.Timeout, log, opts.Metrics),
		ports:    NewPortRegistry(),
		reinit:   opts.RequestReinit,
		initWait: initWait,
	}
}

// Close tears down the table; pending requests resolve as cancelled.
func (b *Bridge) Close() {
	b.table.Close()
}

// Ports exposes the port registry for server wiring.
func (b *Bridge) Ports() *PortRegistry { return b.ports }

// Table exposes the correlation table, primarily for observability.
func (b *Bridge) Table() *Table { return b.table }

// Attach binds the transport channel. Establishment still waits for the
// init frame.
func (b *Bridge) Attach(ch Channel) {
	b.mu.Lock()
	b.channel = ch
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.BridgeConnections.Inc()
	}
}

// Detach drops the channel; the next Forward triggers re-initialization.
func (b *Bridge) Detach() {
	b.mu.Lock()
	b.channel = nil
	b.established = false
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.BridgeConnections.Dec()
	}
}

// Established reports whether the init handshake completed.
func (b *Bridge) Established() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.established
}

// HandleMessage processes one inbound frame.
func (b *Bridge) HandleMessage(ctx context.Context, msg *Message) {
	switch msg.Type {
	case TypeInit:
		b.handleInit(msg)
	case TypeRequest:
		b.handleRequest(ctx, msg)
	case TypeResponse:
		b.handleResponse(msg)
	case TypeStreamStart:
		if err := b.table.StreamStart(msg.ID, msg.Status, msg.Headers); err != nil {
			b.log.Warn("stray stream-start", zap.Uint64("id", msg.ID), zap.Error(err))
		}
	case TypeStreamChunk:
		chunk, err := DecodeBody(msg.Chunk)
		if err == nil {
			err = b.table.StreamChunk(msg.ID, chunk)
		}
		if err != nil {
			b.log.Warn("stray stream-chunk", zap.Uint64("id", msg.ID), zap.Error(err))
		}
	case TypeStreamEnd:
		if err := b.table.StreamEnd(msg.ID); err != nil {
			b.log.Warn("stray stream-end", zap.Uint64("id", msg.ID), zap.Error(err))
		}
	}
}

func (b *Bridge) handleInit(msg *Message) {
	b.mu.Lock()
	b.established = true
	waiters := b.waiters
	b.waiters = nil
	b.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	b.log.Info("channel established")
	b.send(&Message{Type: TypeInit, ID: msg.ID})
}

func (b *Bridge) handleResponse(msg *Message) {
	body, err := DecodeBody(msg.Body)
	if err != nil {
		_ = b.table.Resolve(msg.ID, Result{Err: err})
		return
	}
	res := Result{Status: msg.Status, Headers: msg.Headers, Body: body}
	if msg.Error != "" {
		res.Err = errors.New(msg.Error)
	}
	if err := b.table.Resolve(msg.ID, res); err != nil {
		b.log.Warn("stray response", zap.Uint64("id", msg.ID), zap.Error(err))
	}
}

// handleRequest dispatches one intercepted request to a virtual server and
// replies on the same correlation id.
func (b *Bridge) handleRequest(ctx context.Context, msg *Message) {
	decision := Route(msg.URL, headerValue(msg.Headers, "referer"), isNavigation(msg))

	switch decision.Kind {
	case RouteRedirect:
		b.send(&Message{
			Type:    TypeResponse,
			ID:      msg.ID,
			Status:  307,
			Headers: map[string]string{"Location": decision.Location},
		})
		return
	case RoutePassThrough:
		b.sendError(msg.ID, 502, fmt.Sprintf("no virtual context for %s", msg.URL))
		return
	}

	handler, ok := b.ports.Lookup(decision.Port)
	if !ok {
		b.sendError(msg.ID, 502, fmt.Sprintf("no server on virtual port %d", decision.Port))
		return
	}

	body, err := DecodeBody(msg.Body)
	if err != nil {
		b.sendError(msg.ID, 400, err.Error())
		return
	}
	path, query := devserver.ParseRequestPath(decision.Path)
	req := &devserver.Request{
		Method:  msg.Method,
		Path:    path,
		Query:   query,
		Headers: msg.Headers,
		Body:    body,
	}

	resp, err := handler.Handle(ctx, req)
	if err != nil {
		status := 502
		if errors.Is(err, devserver.ErrStarting) {
			status = 503
		}
		b.sendError(msg.ID, status, err.Error())
		return
	}

	respBody := resp.Body
	if strings.Contains(headerValue(resp.Headers, "content-type"), "text/html") {
		if rewritten, err := RewriteHTML(respBody, decision.Port); err == nil {
			respBody = rewritten
		}
	}

	if msg.Streaming {
		b.sendStreamed(msg.ID, resp.Status, resp.Headers, respBody)
		return
	}
	b.send(&Message{
		Type:    TypeResponse,
		ID:      msg.ID,
		Status:  resp.Status,
		Headers: resp.Headers,
		Body:    EncodeBody(respBody),
	})
}

// sendStreamed replies with the chunked frame sequence: start, ordered
// chunks, end.
func (b *Bridge) sendStreamed(id uint64, status int, headers map[string]string, body []byte) {
	b.send(&Message{Type: TypeStreamStart, ID: id, Status: status, Headers: headers})
	for off := 0; off < len(body); off += streamChunkSize {
		end := off + streamChunkSize
		if end > len(body) {
			end = len(body)
		}
		b.send(&Message{Type: TypeStreamChunk, ID: id, Chunk: EncodeBody(body[off:end])})
	}
	b.send(&Message{Type: TypeStreamEnd, ID: id})
}

// Forward sends a request to the remote context and waits for its single
// resolution. Context cancellation tears down the correlation entry.
func (b *Bridge) Forward(ctx context.Context, method, url string, headers map[string]string, body []byte) (Result, error) {
	if err := b.ensureEstablished(ctx); err != nil {
		return Result{}, err
	}

	id, done := b.table.Open()
	err := b.send(&Message{
		Type:    TypeRequest,
		ID:      id,
		Method:  method,
		URL:     url,
		Headers: headers,
		Body:    EncodeBody(body),
	})
	if err != nil {
		b.table.Cancel(id)
		return Result{}, err
	}

	select {
	case res := <-done:
		return res, res.Err
	case <-ctx.Done():
		b.table.Cancel(id)
		return Result{}, ctx.Err()
	}
}

// ensureEstablished waits (bounded) for the init handshake, asking
// controlled documents to re-initialize first when needed.
func (b *Bridge) ensureEstablished(ctx context.Context) error {
	b.mu.Lock()
	if b.established {
		b.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	b.waiters = append(b.waiters, w)
	reinit := b.reinit
	b.mu.Unlock()

	if reinit != nil {
		reinit()
	}

	timer := time.NewTimer(b.initWait)
	defer timer.Stop()
	select {
	case <-w:
		return nil
	case <-timer.C:
		return ErrNotEstablished
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) send(msg *Message) error {
	b.mu.Lock()
	ch := b.channel
	b.mu.Unlock()
	if ch == nil {
		return ErrNotEstablished
	}
	if err := ch.Send(msg); err != nil {
		b.log.Warn("channel send failed", zap.String("type", string(msg.Type)), zap.Error(err))
		return err
	}
	return nil
}

func (b *Bridge) sendError(id uint64, status int, msg string) {
	_ = b.send(&Message{Type: TypeResponse, ID: id, Status: status, Error: msg})
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// isNavigation treats GET requests whose Accept prefers HTML as document
// navigations, matching how browsers label top-level loads.
func isNavigation(msg *Message) bool {
	if msg.Method != "" && msg.Method != "GET" {
		return false
	}
	return strings.Contains(headerValue(msg.Headers, "accept"), "text/html")
}
