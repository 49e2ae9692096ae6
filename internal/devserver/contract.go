package devserver

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// Request is an HTTP-shaped request addressed to a virtual server.
type Request struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   url.Values        `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// Header looks up a request header case-insensitively.
func (r *Request) Header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ParseRequestPath splits a raw path with optional query string into a
// Request's Path and Query.
func ParseRequestPath(raw string) (string, url.Values) {
	path := raw
	query := url.Values{}
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		path = raw[:idx]
		if parsed, err := url.ParseQuery(raw[idx+1:]); err == nil {
			query = parsed
		}
	}
	if path == "" {
		path = "/"
	}
	return path, query
}

// Response is a buffered response.
type Response struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

// NewResponse builds a response with one content type header.
func NewResponse(status int, contentType string, body []byte) *Response {
	return &Response{
		Status:  status,
		Headers: map[string]string{"Content-Type": contentType},
		Body:    body,
	}
}

// Stream receives a streamed response: a header frame, ordered chunks,
// then exactly one End or Abort.
type Stream interface {
	Start(status int, headers map[string]string) error
	Chunk(p []byte) error
	End() error
	Abort(err error)
}

// Handler serves buffered requests.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*Response, error)
}

// StreamHandler is implemented by apps that can stream large responses.
type StreamHandler interface {
	HandleStream(ctx context.Context, req *Request, s Stream) error
}

// App is a virtual server application: initialized during startup,
// disposed on stop.
type App interface {
	Handler
	Name() string
	Init(ctx context.Context) error
	Close() error
}

// Errors surfaced by the lifecycle layer.
var (
	// ErrStarting is retryable: the instance is between stopped and
	// listening and its request queue is full.
	ErrStarting = errors.New("server is starting, retry shortly")

	// ErrNotListening rejects requests to a stopped instance.
	ErrNotListening = errors.New("server is not listening")
)
