package bridge

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassboxhq/glassbox/internal/devserver"
)

// fakeChannel records sent frames.
type fakeChannel struct {
	mu     sync.Mutex
	frames []*Message
}

func (c *fakeChannel) Send(msg *Message) error {
	c.mu.Lock()
	c.frames = append(c.frames, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) byType(t MessageType) []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Message
	for _, m := range c.frames {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// echoHandler answers with a marker body derived from the request.
type echoHandler struct {
	contentType string
	body        func(req *devserver.Request) []byte
}

func (h *echoHandler) Handle(ctx context.Context, req *devserver.Request) (*devserver.Response, error) {
	ct := h.contentType
	if ct == "" {
		ct = "text/plain"
	}
	return devserver.NewResponse(200, ct, h.body(req)), nil
}

func newEstablishedBridge(t *testing.T) (*Bridge, *fakeChannel) {
	t.Helper()
	b := NewBridge(Options{})
	t.Cleanup(b.Close)
	ch := &fakeChannel{}
	b.Attach(ch)
	b.HandleMessage(context.Background(), &Message{Type: TypeInit, ID: 1})
	require.True(t, b.Established())
	return b, ch
}

func TestBridgeDispatchesVirtualRequest(t *testing.T) {
	b, ch := newEstablishedBridge(t)
	require.NoError(t, b.Ports().Register(3000, &echoHandler{
		body: func(req *devserver.Request) []byte {
			return []byte("ok:" + req.Path + ":" + req.Query.Get("q"))
		},
	}))

	b.HandleMessage(context.Background(), &Message{
		Type: TypeRequest, ID: 7, Method: "GET", URL: "/~/3000/items?q=x",
	})

	responses := ch.byType(TypeResponse)
	require.Len(t, responses, 1)
	resp := responses[0]
	assert.Equal(t, uint64(7), resp.ID)
	assert.Equal(t, 200, resp.Status)
	body, err := DecodeBody(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok:/items:x", string(body))
}

func TestBridgeUnknownPortAnswersError(t *testing.T) {
	b, ch := newEstablishedBridge(t)

	b.HandleMessage(context.Background(), &Message{
		Type: TypeRequest, ID: 2, Method: "GET", URL: "/~/4040/x",
	})

	responses := ch.byType(TypeResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, 502, responses[0].Status)
	assert.Contains(t, responses[0].Error, "4040")
}

func TestBridgeStreamedReplyPreservesBytes(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 10000) // spans multiple chunks
	b, ch := newEstablishedBridge(t)
	require.NoError(t, b.Ports().Register(3000, &echoHandler{
		contentType: "application/octet-stream",
		body:        func(*devserver.Request) []byte { return payload },
	}))

	b.HandleMessage(context.Background(), &Message{
		Type: TypeRequest, ID: 9, Method: "GET", URL: "/~/3000/blob", Streaming: true,
	})

	starts := ch.byType(TypeStreamStart)
	require.Len(t, starts, 1)
	assert.Equal(t, 200, starts[0].Status)

	var rebuilt []byte
	for _, frame := range ch.byType(TypeStreamChunk) {
		chunk, err := DecodeBody(frame.Chunk)
		require.NoError(t, err)
		rebuilt = append(rebuilt, chunk...)
	}
	assert.Equal(t, payload, rebuilt)
	require.Len(t, ch.byType(TypeStreamEnd), 1)
	assert.Greater(t, len(ch.byType(TypeStreamChunk)), 1)
}

func TestBridgeRedirectsNavigationInsideVirtualContext(t *testing.T) {
	b, ch := newEstablishedBridge(t)

	b.HandleMessage(context.Background(), &Message{
		Type: TypeRequest, ID: 3, Method: "GET", URL: "/pricing?plan=pro",
		Headers: map[string]string{
			"Referer": "/~/3000/index.html",
			"Accept":  "text/html,application/xhtml+xml",
		},
	})

	responses := ch.byType(TypeResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, 307, responses[0].Status)
	assert.Equal(t, "/~/3000/pricing?plan=pro", responses[0].Headers["Location"])
}

func TestBridgeForwardsResourceInsideVirtualContext(t *testing.T) {
	b, ch := newEstablishedBridge(t)
	require.NoError(t, b.Ports().Register(3000, &echoHandler{
		body: func(req *devserver.Request) []byte { return []byte("res:" + req.Path) },
	}))

	b.HandleMessage(context.Background(), &Message{
		Type: TypeRequest, ID: 4, Method: "GET", URL: "/bundle.js",
		Headers: map[string]string{"Referer": "/~/3000/index.html"},
	})

	responses := ch.byType(TypeResponse)
	require.Len(t, responses, 1)
	body, err := DecodeBody(responses[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "res:/bundle.js", string(body))
}

func TestBridgeRewritesHTMLResponses(t *testing.T) {
	b, ch := newEstablishedBridge(t)
	require.NoError(t, b.Ports().Register(3000, &echoHandler{
		contentType: "text/html; charset=utf-8",
		body: func(*devserver.Request) []byte {
			return []byte(`<html><body><a href="/about">x</a></body></html>`)
		},
	}))

	b.HandleMessage(context.Background(), &Message{
		Type: TypeRequest, ID: 5, Method: "GET", URL: "/~/3000/",
	})

	responses := ch.byType(TypeResponse)
	require.Len(t, responses, 1)
	body, err := DecodeBody(responses[0].Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `href="/~/3000/about"`)
}

func TestBridgeForwardRoundTrip(t *testing.T) {
	b, ch := newEstablishedBridge(t)

	type outcome struct {
		res Result
		err error
	}
	got := make(chan outcome, 1)
	go func() {
		res, err := b.Forward(context.Background(), "GET", "https://api.example.com/data", nil, nil)
		got <- outcome{res, err}
	}()

	var req *Message
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frames := ch.byType(TypeRequest); len(frames) == 1 {
			req = frames[0]
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.NotNil(t, req, "request frame never sent")
	assert.Equal(t, "https://api.example.com/data", req.URL)

	b.HandleMessage(context.Background(), &Message{
		Type: TypeResponse, ID: req.ID, Status: 200, Body: EncodeBody([]byte("payload")),
	})

	out := <-got
	require.NoError(t, out.err)
	assert.Equal(t, 200, out.res.Status)
	assert.Equal(t, "payload", string(out.res.Body))
	assert.Equal(t, 0, b.Table().Pending())
}

func TestBridgeForwardWithoutInitAsksForReinit(t *testing.T) {
	reinits := 0
	b := NewBridge(Options{
		InitWait:      30 * time.Millisecond,
		RequestReinit: func() { reinits++ },
	})
	defer b.Close()
	b.Attach(&fakeChannel{})

	_, err := b.Forward(context.Background(), "GET", "https://example.com", nil, nil)
	assert.ErrorIs(t, err, ErrNotEstablished)
	assert.Equal(t, 1, reinits)
}

func TestBridgeForwardConsumerCancellation(t *testing.T) {
	b, _ := newEstablishedBridge(t)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	go func() {
		_, err := b.Forward(ctx, "GET", "https://example.com/slow", nil, nil)
		got <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && b.Table().Pending() == 0 {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, b.Table().Pending())

	cancel()
	err := <-got
	assert.ErrorIs(t, err, context.Canceled)

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && b.Table().Pending() != 0 {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 0, b.Table().Pending())
}

func TestPortRegistryLifecycle(t *testing.T) {
	r := NewPortRegistry()
	h := &echoHandler{body: func(*devserver.Request) []byte { return nil }}

	require.NoError(t, r.Register(3000, h))
	assert.Error(t, r.Register(3000, h))
	require.NoError(t, r.Register(3001, h))
	assert.Equal(t, []int{3000, 3001}, r.Ports())

	got, ok := r.Lookup(3000)
	assert.True(t, ok)
	assert.NotNil(t, got)

	r.Unregister(3000)
	_, ok = r.Lookup(3000)
	assert.False(t, ok)
}

func TestProtocolRoundTrip(t *testing.T) {
	msg := &Message{
		Type:    TypeRequest,
		ID:      42,
		Method:  "POST",
		URL:     "/~/3000/api",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    EncodeBody([]byte(`{"a":1}`)),
	}
	data, err := EncodeMessage(msg)
	require.NoError(t, err)

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg.Type, decoded.Type)
	assert.Equal(t, msg.ID, decoded.ID)
	body, err := DecodeBody(decoded.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))

	_, err = DecodeMessage([]byte(`{"type":"bogus"}`))
	assert.Error(t, err)
}
