package devserver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/infrastructure/monitoring"
	"github.com/glassboxhq/glassbox/internal/shared/fingerprint"
	"github.com/glassboxhq/glassbox/internal/transform"
	"github.com/glassboxhq/glassbox/internal/vfs"
	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// bundlePrefix routes on-demand package bundling requests.
const bundlePrefix = "/@bundle/"

// Resolver maps a module specifier to a filesystem path, following the
// loader's resolution rules (extensions, directory indexes, export maps).
type Resolver interface {
	ResolveModule(fromDir, specifier string) (string, error)
}

// Update announces a changed source file to hot-reload consumers.
type Update struct {
	Path        string `json:"path"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Removed     bool   `json:"removed,omitempty"`
}

// BundlerOptions configures a Bundler.
type BundlerOptions struct {
	FS       *vfs.FS
	Pipeline *transform.Pipeline
	Resolver Resolver
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics

	// Root is the project directory served at /.
	Root string

	// WatchIgnore lists glob patterns (relative to Root) whose changes do
	// not produce hot updates. Defaults cover node_modules and VCS state.
	WatchIgnore []string
}

// Bundler serves a project directory the way a frontend dev server does:
// sources are transformed on demand for browser delivery, package imports
// can be bundled into a single module, and file changes fan out to
// hot-reload subscribers.
type Bundler struct {
	fs      *vfs.FS
	pipe    *transform.Pipeline
	resolve Resolver
	log     *logging.Logger
	cache   *transformCache
	root    string
	ignore  []string

	mu      sync.Mutex
	subs    map[int]chan Update
	nextSub int
	running bool
	unwatch func()
}

var defaultWatchIgnore = []string{"node_modules/**", ".git/**"}

// NewBundler builds the bundler app over a project root.
func NewBundler(opts BundlerOptions) (*Bundler, error) {
	if opts.FS == nil || opts.Pipeline == nil {
		return nil, fmt.Errorf("bundler: filesystem and pipeline are required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	root := vpath.Normalize(opts.Root)
	if root == "" {
		root = "/"
	}
	ignore := opts.WatchIgnore
	if ignore == nil {
		ignore = defaultWatchIgnore
	}
	return &Bundler{
		fs:      opts.FS,
		pipe:    opts.Pipeline,
		resolve: opts.Resolver,
		log:     log.Named("bundler").With(zap.String("root", root)),
		cache:   newTransformCache(opts.Metrics),
		root:    root,
		ignore:  ignore,
		subs:    make(map[int]chan Update),
	}, nil
}

// Name implements App.
func (b *Bundler) Name() string { return "bundler" }

// Init implements App. Each start takes a fresh filesystem subscription;
// Close releases it.
func (b *Bundler) Init(ctx context.Context) error {
	cancel := b.fs.Subscribe(b.onEvent)

	b.mu.Lock()
	b.running = true
	b.unwatch = cancel
	b.mu.Unlock()
	return nil
}

// Close implements App.
func (b *Bundler) Close() error {
	b.mu.Lock()
	b.running = false
	unwatch := b.unwatch
	b.unwatch = nil
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	b.cache.reset()
	return nil
}

// Subscribe returns a hot-update channel and its cancel function. The
// channel is closed on cancel or when the bundler stops.
func (b *Bundler) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 16)
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Bundler) onEvent(ev vfs.Event) {
	switch ev.Op {
	case vfs.OpWrite, vfs.OpRemove:
		b.cache.invalidate(ev.Path)
		b.notify(ev.Path, ev.Op == vfs.OpRemove)
	case vfs.OpRename:
		b.cache.invalidate(ev.OldPath)
		b.cache.invalidate(ev.Path)
		b.notify(ev.OldPath, true)
		b.notify(ev.Path, false)
	}
}

func (b *Bundler) notify(path string, removed bool) {
	rel, watched := b.watchRelative(path)
	if !watched {
		return
	}
	up := Update{Path: "/" + rel, Removed: removed}
	if !removed {
		if data, err := b.fs.Read(path); err == nil {
			up.Fingerprint = fingerprint.Of(data)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- up:
		default:
			// Slow consumer; drop rather than block the writer.
		}
	}
}

// watchRelative reports whether path is inside the root and not covered by
// an ignore pattern, returning the root-relative form.
func (b *Bundler) watchRelative(path string) (string, bool) {
	prefix := b.root
	if prefix != "/" {
		prefix += "/"
	}
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rel := strings.TrimPrefix(path, prefix)
	for _, pattern := range b.ignore {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return "", false
		}
	}
	return rel, true
}

// Handle implements Handler: package bundles under /@bundle/, everything
// else served from the project tree with browser-oriented transforms.
func (b *Bundler) Handle(ctx context.Context, req *Request) (*Response, error) {
	if req.Method != "" && req.Method != "GET" && req.Method != "HEAD" {
		return jsonError(405, "method not allowed"), nil
	}
	if strings.HasPrefix(req.Path, bundlePrefix) {
		return b.handleBundle(ctx, req)
	}
	return b.serveFile(req)
}

func (b *Bundler) serveFile(req *Request) (*Response, error) {
	abs := vpath.Resolve(b.root, strings.TrimPrefix(req.Path, "/"))
	if info, err := b.fs.Stat(abs); err == nil && info.IsDir {
		abs = vpath.Join(abs, "index.html")
	}
	data, err := b.fs.Read(abs)
	if err != nil {
		return jsonError(404, fmt.Sprintf("not found: %s", req.Path)), nil
	}

	if req.Query.Has("raw") {
		return NewResponse(200, rawContentType(abs, data), data), nil
	}

	out, ok := b.cache.get(abs, data)
	if !ok {
		out, err = b.pipe.TransformServe(abs, data)
		if err != nil {
			b.log.Warn("transform failed", zap.String("path", abs), zap.Error(err))
			return jsonError(500, fmt.Sprintf("transform %s: %v", req.Path, err)), nil
		}
		b.cache.put(abs, data, out)
	}
	return NewResponse(200, servedContentType(abs, out), out), nil
}

func (b *Bundler) handleBundle(ctx context.Context, req *Request) (*Response, error) {
	name, subpath, err := splitBundleRequest(req.Path)
	if err != nil {
		return jsonError(400, err.Error()), nil
	}
	out, err := b.bundlePackage(ctx, name, subpath)
	if err != nil {
		b.log.Warn("bundle failed",
			zap.String("package", name),
			zap.String("subpath", subpath),
			zap.Error(err))
		return jsonError(404, fmt.Sprintf("bundle %s: %v", name, err)), nil
	}
	return NewResponse(200, "application/javascript; charset=utf-8", out), nil
}

// splitBundleRequest parses /@bundle/<package>[/<subpath>], keeping the
// scope segment attached to scoped package names.
func splitBundleRequest(path string) (string, string, error) {
	rest := strings.TrimPrefix(path, bundlePrefix)
	if rest == "" {
		return "", "", fmt.Errorf("missing package name")
	}
	parts := strings.Split(rest, "/")
	nameParts := 1
	if strings.HasPrefix(parts[0], "@") {
		if len(parts) < 2 {
			return "", "", fmt.Errorf("scoped package %q missing name segment", parts[0])
		}
		nameParts = 2
	}
	name := strings.Join(parts[:nameParts], "/")
	subpath := strings.Join(parts[nameParts:], "/")
	return name, subpath, nil
}

// extContentTypes covers the extensions we serve constantly enough that
// sniffing would be wasteful or wrong (sniffing sees JS as text/plain).
var extContentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".mjs":  "application/javascript; charset=utf-8",
	".cjs":  "application/javascript; charset=utf-8",
	".jsx":  "application/javascript; charset=utf-8",
	".ts":   "application/javascript; charset=utf-8",
	".tsx":  "application/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".svg":  "image/svg+xml",
	".map":  "application/json; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
}

func rawContentType(path string, data []byte) string {
	if ct, ok := extContentTypes[vpath.Extname(path)]; ok {
		return ct
	}
	return mimetype.Detect(data).String()
}

// servedContentType labels transformed output. Stylesheets leave the
// pipeline as injectable modules, so they ship as scripts.
func servedContentType(path string, data []byte) string {
	if vpath.Extname(path) == ".css" {
		return "application/javascript; charset=utf-8"
	}
	return rawContentType(path, data)
}

func jsonError(status int, msg string) *Response {
	body, err := sonic.Marshal(map[string]string{"error": msg})
	if err != nil {
		body = []byte(`{"error":"internal"}`)
	}
	return NewResponse(status, "application/json; charset=utf-8", body)
}
