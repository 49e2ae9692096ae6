package devserver

import (
	"sort"
	"strings"

	"github.com/glassboxhq/glassbox/internal/vfs"
	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// Convention file base names recognized inside a route directory.
const (
	pageFile     = "page"
	apiFile      = "route"
	layoutFile   = "layout"
	loadingFile  = "loading"
	errorFile    = "error"
	notFoundFile = "not-found"
)

var routeExtensions = []string{".js", ".jsx", ".ts", ".tsx", ".mjs"}

// RouteMatch is a resolved route: its handler file, accumulated dynamic
// parameters, the ancestor layout chain (outermost first), and the nearest
// convention files seen on the way down.
type RouteMatch struct {
	// Pattern is the route in bracket notation, e.g. /posts/[slug].
	Pattern string

	// Page is the page component file; empty for API routes.
	Page string

	// API is the request handler file; empty for page routes.
	API string

	Params  map[string]string
	Layouts []string

	Loading  string
	Error    string
	NotFound string
}

// Router resolves URL paths against a directory tree using file-system
// conventions: static segments, [name] dynamic segments, [...name]
// catch-alls, and (group) directories that never affect the URL.
type Router struct {
	fs   *vfs.FS
	root string
}

// NewRouter builds a router over the routes directory.
func NewRouter(fs *vfs.FS, root string) *Router {
	return &Router{fs: fs, root: vpath.Normalize(root)}
}

// routeScope carries the convention files accumulated while descending.
type routeScope struct {
	layouts  []string
	loading  string
	errFile  string
	notFound string
}

func (s routeScope) enter(r *Router, dir string) routeScope {
	next := s
	if f, ok := r.conventionFile(dir, layoutFile); ok {
		next.layouts = append(append([]string(nil), s.layouts...), f)
	}
	if f, ok := r.conventionFile(dir, loadingFile); ok {
		next.loading = f
	}
	if f, ok := r.conventionFile(dir, errorFile); ok {
		next.errFile = f
	}
	if f, ok := r.conventionFile(dir, notFoundFile); ok {
		next.notFound = f
	}
	return next
}

// Match resolves a URL path. The second return reports whether a route was
// found; on a miss the match still carries the nearest not-found and layout
// chain from the deepest directory reached, for rendering the 404.
func (r *Router) Match(urlPath string) (*RouteMatch, bool) {
	var segments []string
	for _, seg := range strings.Split(urlPath, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	scope := routeScope{}.enter(r, r.root)
	if m := r.match(r.root, "", segments, map[string]string{}, scope); m != nil {
		return m, true
	}
	return &RouteMatch{
		Params:   map[string]string{},
		Layouts:  scope.layouts,
		Loading:  scope.loading,
		Error:    scope.errFile,
		NotFound: scope.notFound,
	}, false
}

// match walks one directory level. Precedence at each level: static child,
// then route groups, then dynamic segments, then catch-alls.
func (r *Router) match(dir, pattern string, segments []string, params map[string]string, scope routeScope) *RouteMatch {
	if len(segments) == 0 {
		if m := r.leaf(dir, pattern, params, scope); m != nil {
			return m
		}
		// A route group at this level may still own the index route.
		for _, group := range r.childDirs(dir, isGroupSegment) {
			child := vpath.Join(dir, group)
			if m := r.match(child, pattern, segments, params, scope.enter(r, child)); m != nil {
				return m
			}
		}
		return nil
	}

	head, rest := segments[0], segments[1:]

	static := vpath.Join(dir, head)
	if info, err := r.fs.Stat(static); err == nil && info.IsDir && !isSpecialSegment(head) {
		if m := r.match(static, pattern+"/"+head, rest, params, scope.enter(r, static)); m != nil {
			return m
		}
	}

	for _, group := range r.childDirs(dir, isGroupSegment) {
		child := vpath.Join(dir, group)
		if m := r.match(child, pattern, segments, params, scope.enter(r, child)); m != nil {
			return m
		}
	}

	for _, dyn := range r.childDirs(dir, isDynamicSegment) {
		child := vpath.Join(dir, dyn)
		name := dyn[1 : len(dyn)-1]
		next := withParam(params, name, head)
		if m := r.match(child, pattern+"/"+dyn, rest, next, scope.enter(r, child)); m != nil {
			return m
		}
	}

	for _, catch := range r.childDirs(dir, isCatchAllSegment) {
		child := vpath.Join(dir, catch)
		name := catch[4 : len(catch)-1]
		next := withParam(params, name, strings.Join(segments, "/"))
		if m := r.leaf(child, pattern+"/"+catch, next, scope.enter(r, child)); m != nil {
			return m
		}
	}
	return nil
}

// leaf resolves the terminal directory to its page or API handler.
func (r *Router) leaf(dir, pattern string, params map[string]string, scope routeScope) *RouteMatch {
	if pattern == "" {
		pattern = "/"
	}
	m := &RouteMatch{
		Pattern:  pattern,
		Params:   params,
		Layouts:  scope.layouts,
		Loading:  scope.loading,
		Error:    scope.errFile,
		NotFound: scope.notFound,
	}
	if f, ok := r.conventionFile(dir, pageFile); ok {
		m.Page = f
		return m
	}
	if f, ok := r.conventionFile(dir, apiFile); ok {
		m.API = f
		return m
	}
	return nil
}

func (r *Router) conventionFile(dir, base string) (string, bool) {
	for _, ext := range routeExtensions {
		p := vpath.Join(dir, base+ext)
		if info, err := r.fs.Stat(p); err == nil && !info.IsDir {
			return p, true
		}
	}
	return "", false
}

func (r *Router) childDirs(dir string, keep func(string) bool) []string {
	entries, err := r.fs.Readdir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir && keep(e.Name) {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names
}

func isGroupSegment(name string) bool {
	return strings.HasPrefix(name, "(") && strings.HasSuffix(name, ")")
}

func isCatchAllSegment(name string) bool {
	return strings.HasPrefix(name, "[...") && strings.HasSuffix(name, "]") && len(name) > 5
}

func isDynamicSegment(name string) bool {
	return strings.HasPrefix(name, "[") && strings.HasSuffix(name, "]") &&
		!isCatchAllSegment(name) && len(name) > 2
}

func isSpecialSegment(name string) bool {
	return isGroupSegment(name) || isDynamicSegment(name) || isCatchAllSegment(name)
}

func withParam(params map[string]string, name, value string) map[string]string {
	next := make(map[string]string, len(params)+1)
	for k, v := range params {
		next[k] = v
	}
	next[name] = value
	return next
}
