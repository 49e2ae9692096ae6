package devserver

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/infrastructure/monitoring"
	"github.com/glassboxhq/glassbox/internal/sandbox"
	"github.com/glassboxhq/glassbox/internal/vfs"
	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// AppServerOptions configures an AppServer.
type AppServerOptions struct {
	FS      *vfs.FS
	Runtime *sandbox.Runtime
	Logger  *logging.Logger
	Metrics *monitoring.Metrics

	// AppDir is the routes tree resolved by file-system conventions.
	AppDir string

	// ProjectRoot backs asset serving; defaults to /.
	ProjectRoot string

	// AssetPrefix prefixes generated asset URLs and is served statically.
	// Defaults to /_assets.
	AssetPrefix string

	// AppName labels the instance; defaults to "app".
	AppName string
}

// AppServer routes requests through the file-system route tree: API
// handlers execute inside the sandboxed runtime against mock
// request/response objects, page routes produce full HTML documents
// carrying their resolved parameters and hydration bootstrap data.
type AppServer struct {
	fs       *vfs.FS
	rt       *sandbox.Runtime
	log      *logging.Logger
	router   *Router
	sanitize *bluemonday.Policy

	appDir      string
	projectRoot string
	assetPrefix string
	name        string
}

// NewAppServer builds the application server app.
func NewAppServer(opts AppServerOptions) (*AppServer, error) {
	if opts.FS == nil || opts.Runtime == nil {
		return nil, fmt.Errorf("appserver: filesystem and runtime are required")
	}
	if opts.AppDir == "" {
		return nil, fmt.Errorf("appserver: app directory is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	name := opts.AppName
	if name == "" {
		name = "app"
	}
	root := opts.ProjectRoot
	if root == "" {
		root = "/"
	}
	prefix := opts.AssetPrefix
	if prefix == "" {
		prefix = "/_assets"
	}
	prefix = "/" + strings.Trim(prefix, "/")
	return &AppServer{
		fs:          opts.FS,
		rt:          opts.Runtime,
		log:         log.Named("appserver").With(zap.String("app", name)),
		router:      NewRouter(opts.FS, opts.AppDir),
		sanitize:    bluemonday.UGCPolicy(),
		appDir:      vpath.Normalize(opts.AppDir),
		projectRoot: vpath.Normalize(root),
		assetPrefix: prefix,
		name:        name,
	}, nil
}

// Name implements App.
func (s *AppServer) Name() string { return s.name }

// Init implements App.
func (s *AppServer) Init(ctx context.Context) error {
	info, err := s.fs.Stat(s.appDir)
	if err != nil || !info.IsDir {
		return fmt.Errorf("app directory %s does not exist", s.appDir)
	}
	return nil
}

// Close implements App.
func (s *AppServer) Close() error { return nil }

// Handle implements Handler.
func (s *AppServer) Handle(ctx context.Context, req *Request) (*Response, error) {
	if strings.HasPrefix(req.Path, s.assetPrefix+"/") {
		return s.serveAsset(req)
	}

	m, found := s.router.Match(req.Path)
	if !found {
		return s.renderNotFound(m, req), nil
	}

	if m.API != "" {
		resp := s.runAPIHandler(ctx, m, req)
		return resp, nil
	}
	return s.renderPage(m, req), nil
}

func (s *AppServer) serveAsset(req *Request) (*Response, error) {
	rel := strings.TrimPrefix(req.Path, s.assetPrefix)
	abs := vpath.Resolve(s.projectRoot, strings.TrimPrefix(rel, "/"))
	data, err := s.fs.Read(abs)
	if err != nil {
		return jsonError(404, fmt.Sprintf("asset not found: %s", req.Path)), nil
	}
	return NewResponse(200, rawContentType(abs, data), data), nil
}

// runAPIHandler loads the route module and invokes the handler matching the
// request method (falling back to the default export) with mock request and
// response objects. Handler exceptions become structured error responses.
func (s *AppServer) runAPIHandler(ctx context.Context, m *RouteMatch, req *Request) *Response {
	exports, err := s.rt.Require(m.API)
	if err != nil {
		s.log.Warn("route module failed to load", zap.String("file", m.API), zap.Error(err))
		return s.errorResponse(m, req, err)
	}

	// Argument construction and result inspection touch the VM, so they run
	// inside the runtime's serialized windows.
	var (
		handler goja.Callable
		ok      bool
		jsReq   goja.Value
		jsRes   goja.Value
	)
	capture := &responseCapture{headers: map[string]string{}}
	s.rt.Do(func() {
		handler, ok = s.pickHandler(exports, req.Method)
		if !ok {
			return
		}
		vm := s.rt.VM()
		jsReq = s.buildRequestObject(vm, m, req)
		jsRes = capture.buildObject(vm)
	})
	if !ok {
		return jsonError(405, fmt.Sprintf("no handler for %s %s", req.Method, req.Path))
	}

	// Call settles pending async work before returning, so the capture is
	// complete afterwards.
	ret, err := s.rt.Call(ctx, handler, goja.Undefined(), jsReq, jsRes)
	if err != nil {
		s.log.Warn("route handler failed", zap.String("file", m.API), zap.Error(err))
		return s.errorResponse(m, req, err)
	}

	if !capture.written() && ret != nil && !goja.IsUndefined(ret) && !goja.IsNull(ret) {
		var body []byte
		var marshalErr error
		marshal := false
		s.rt.Do(func() {
			if resolved, ok := resolvePromise(ret); ok {
				ret = resolved
			}
			if ret != nil && !goja.IsUndefined(ret) && !goja.IsNull(ret) {
				body, marshalErr = sonic.Marshal(ret.Export())
				marshal = true
			}
		})
		if marshal && marshalErr == nil {
			return NewResponse(200, "application/json; charset=utf-8", body)
		}
	}
	return capture.response()
}

// pickHandler selects exports[METHOD], then the default export, then the
// exports value itself when the module exports a bare function.
func (s *AppServer) pickHandler(exports goja.Value, method string) (goja.Callable, bool) {
	obj, ok := exports.(*goja.Object)
	if !ok {
		return nil, false
	}
	if method == "" {
		method = "GET"
	}
	for _, key := range []string{strings.ToUpper(method), "default"} {
		if v := obj.Get(key); v != nil {
			if fn, ok := goja.AssertFunction(v); ok {
				return fn, true
			}
		}
	}
	if fn, ok := goja.AssertFunction(exports); ok {
		return fn, true
	}
	return nil, false
}

func (s *AppServer) buildRequestObject(vm *goja.Runtime, m *RouteMatch, req *Request) goja.Value {
	query := make(map[string]string, len(req.Query))
	for k := range req.Query {
		query[k] = req.Query.Get(k)
	}
	url := req.Path
	if enc := req.Query.Encode(); enc != "" {
		url += "?" + enc
	}
	obj := vm.NewObject()
	_ = obj.Set("method", req.Method)
	_ = obj.Set("url", url)
	_ = obj.Set("path", req.Path)
	_ = obj.Set("query", query)
	_ = obj.Set("params", m.Params)
	_ = obj.Set("headers", lowerKeys(req.Headers))
	_ = obj.Set("body", string(req.Body))
	_ = obj.Set("json", func(call goja.FunctionCall) goja.Value {
		var parsed interface{}
		if err := sonic.Unmarshal(req.Body, &parsed); err != nil {
			panic(vm.ToValue(fmt.Sprintf("invalid JSON body: %v", err)))
		}
		return vm.ToValue(parsed)
	})
	return obj
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

// resolvePromise unwraps a settled promise value. Handlers run to
// completion through the event loop first, so a still-pending promise
// reads as absent.
func resolvePromise(v goja.Value) (goja.Value, bool) {
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return nil, false
	}
	if p.State() == goja.PromiseStateFulfilled {
		return p.Result(), true
	}
	return goja.Undefined(), true
}

// responseCapture backs the mock response object handed to API handlers.
type responseCapture struct {
	status   int
	headers  map[string]string
	body     bytes.Buffer
	ended    bool
	anyWrite bool
}

func (c *responseCapture) written() bool { return c.anyWrite || c.ended }

func (c *responseCapture) response() *Response {
	status := c.status
	if status == 0 {
		status = 200
	}
	headers := c.headers
	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = "text/plain; charset=utf-8"
	}
	return &Response{Status: status, Headers: headers, Body: c.body.Bytes()}
}

func (c *responseCapture) buildObject(vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	writeChunk := func(v goja.Value) {
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return
		}
		c.body.WriteString(v.String())
		c.anyWrite = true
	}
	_ = obj.Set("status", func(call goja.FunctionCall) goja.Value {
		c.status = int(call.Argument(0).ToInteger())
		return obj
	})
	_ = obj.Set("setHeader", func(call goja.FunctionCall) goja.Value {
		c.headers[canonicalHeader(call.Argument(0).String())] = call.Argument(1).String()
		return obj
	})
	_ = obj.Set("write", func(call goja.FunctionCall) goja.Value {
		writeChunk(call.Argument(0))
		return vm.ToValue(true)
	})
	_ = obj.Set("end", func(call goja.FunctionCall) goja.Value {
		writeChunk(call.Argument(0))
		c.ended = true
		return goja.Undefined()
	})
	_ = obj.Set("send", func(call goja.FunctionCall) goja.Value {
		writeChunk(call.Argument(0))
		c.ended = true
		return obj
	})
	_ = obj.Set("json", func(call goja.FunctionCall) goja.Value {
		data, err := sonic.Marshal(call.Argument(0).Export())
		if err != nil {
			panic(vm.ToValue(fmt.Sprintf("unserializable response: %v", err)))
		}
		c.headers["Content-Type"] = "application/json; charset=utf-8"
		c.body.Write(data)
		c.ended = true
		return obj
	})
	return obj
}

func canonicalHeader(name string) string {
	parts := strings.Split(name, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}

// renderPage produces the HTML document for a matched page route: a shell
// with the page's server-rendered markup (when the component yields a
// string) plus the bootstrap payload and module script the client needs to
// hydrate.
func (s *AppServer) renderPage(m *RouteMatch, req *Request) *Response {
	content := s.renderComponent(m.Page, m.Params)
	html, err := s.buildDocument(m, m.Page, content)
	if err != nil {
		s.log.Warn("document generation failed", zap.String("page", m.Page), zap.Error(err))
		return s.errorResponse(m, req, err)
	}
	return NewResponse(200, "text/html; charset=utf-8", html)
}

func (s *AppServer) renderNotFound(m *RouteMatch, req *Request) *Response {
	if m == nil || m.NotFound == "" {
		return jsonError(404, fmt.Sprintf("no route for %s", req.Path))
	}
	content := s.renderComponent(m.NotFound, m.Params)
	html, err := s.buildDocument(m, m.NotFound, content)
	if err != nil {
		return jsonError(404, fmt.Sprintf("no route for %s", req.Path))
	}
	resp := NewResponse(404, "text/html; charset=utf-8", html)
	return resp
}

// renderComponent loads a component module and, when its default export is
// a function returning a string, uses that as server-rendered markup.
// Anything else degrades to client-only rendering.
func (s *AppServer) renderComponent(file string, params map[string]string) string {
	if file == "" {
		return ""
	}
	exports, err := s.rt.Require(file)
	if err != nil {
		s.log.Debug("component load failed", zap.String("file", file), zap.Error(err))
		return ""
	}

	markup := ""
	s.rt.Do(func() {
		obj, ok := exports.(*goja.Object)
		if !ok {
			return
		}
		target := obj.Get("default")
		if target == nil || goja.IsUndefined(target) {
			target = exports
		}
		fn, ok := goja.AssertFunction(target)
		if !ok {
			return
		}
		vm := s.rt.VM()
		props := vm.NewObject()
		_ = props.Set("params", params)
		out, err := fn(goja.Undefined(), props)
		if err != nil {
			s.log.Debug("component render failed", zap.String("file", file), zap.Error(err))
			return
		}
		if str, ok := out.Export().(string); ok {
			markup = str
		}
	})
	if markup == "" {
		return ""
	}
	return s.sanitize.Sanitize(markup)
}

// documentShell is the base page; bootstrap data and scripts are injected
// into it structurally.
const documentShell = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
</head>
<body>
<div id="root"></div>
</body>
</html>`

// routeBootstrap is the payload the client runtime reads to hydrate.
type routeBootstrap struct {
	Route   string            `json:"route"`
	Params  map[string]string `json:"params"`
	Page    string            `json:"page"`
	Layouts []string          `json:"layouts,omitempty"`
	Loading string            `json:"loading,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (s *AppServer) buildDocument(m *RouteMatch, entry, content string) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(documentShell))
	if err != nil {
		return nil, err
	}

	boot := routeBootstrap{
		Route:   m.Pattern,
		Params:  m.Params,
		Page:    entry,
		Layouts: m.Layouts,
		Loading: m.Loading,
		Error:   m.Error,
	}
	payload, err := sonic.Marshal(boot)
	if err != nil {
		return nil, err
	}

	root := doc.Find("#root")
	root.SetAttr("data-page", entry)
	if content != "" {
		root.SetHtml(content)
	}

	body := doc.Find("body")
	body.AppendHtml(fmt.Sprintf("<script>window.__ROUTE_DATA__ = %s;</script>", payload))
	if entry != "" {
		body.AppendHtml(fmt.Sprintf("<script type=\"module\" src=\"%s%s\"></script>", s.assetPrefix, entry))
	}

	inner, err := doc.Html()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(strings.ToLower(inner), "<!doctype") {
		inner = "<!DOCTYPE html>\n" + inner
	}
	return []byte(inner), nil
}

// errorResponse renders a handler failure: the nearest error component when
// one exists, otherwise a sanitized diagnostic page.
func (s *AppServer) errorResponse(m *RouteMatch, req *Request, cause error) *Response {
	if m != nil && m.Error != "" {
		if content := s.renderComponent(m.Error, m.Params); content != "" {
			html, err := s.buildDocument(m, m.Error, content)
			if err == nil {
				return NewResponse(500, "text/html; charset=utf-8", html)
			}
		}
	}
	msg := s.sanitize.Sanitize(cause.Error())
	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Internal Error</title></head>
<body>
<h1>Internal Server Error</h1>
<p>%s %s</p>
<pre>%s</pre>
</body>
</html>`, req.Method, req.Path, msg)
	return NewResponse(500, "text/html; charset=utf-8", []byte(html))
}
