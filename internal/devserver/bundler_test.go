package devserver

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassboxhq/glassbox/internal/sandbox"
	"github.com/glassboxhq/glassbox/internal/transform"
	"github.com/glassboxhq/glassbox/internal/vfs"
)

func newBundler(t *testing.T, fs *vfs.FS) *Bundler {
	t.Helper()
	rt, err := sandbox.New(sandbox.Options{FS: fs, Cwd: "/project"})
	require.NoError(t, err)
	b, err := NewBundler(BundlerOptions{
		FS:       fs,
		Pipeline: transform.New(transform.Options{}),
		Resolver: rt,
		Root:     "/project",
	})
	require.NoError(t, err)
	require.NoError(t, b.Init(context.Background()))
	return b
}

func bundlerGet(t *testing.T, b *Bundler, path string) *Response {
	t.Helper()
	p, q := ParseRequestPath(path)
	resp, err := b.Handle(context.Background(), &Request{Method: "GET", Path: p, Query: q})
	require.NoError(t, err)
	return resp
}

func TestBundlerServesIndexForDirectory(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/project/index.html", "<html><body>hi</body></html>")
	b := newBundler(t, fs)

	resp := bundlerGet(t, b, "/")
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "text/html; charset=utf-8", resp.Headers["Content-Type"])
	assert.Contains(t, string(resp.Body), "hi")
}

func TestBundlerTransformsJSXForBrowser(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/project/src/App.jsx",
		`export default function App() { return <div className="app">hello</div>; }`)
	b := newBundler(t, fs)

	resp := bundlerGet(t, b, "/src/App.jsx")
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "application/javascript; charset=utf-8", resp.Headers["Content-Type"])
	body := string(resp.Body)
	assert.Contains(t, body, "React.createElement")
	// Module syntax survives for native browser loading.
	assert.Contains(t, body, "export default")
}

func TestBundlerServesCSSAsModule(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/project/styles.css", ".btn { color: red; }")
	b := newBundler(t, fs)

	resp := bundlerGet(t, b, "/styles.css")
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "application/javascript; charset=utf-8", resp.Headers["Content-Type"])
	assert.Contains(t, string(resp.Body), "__glassbox")
}

func TestBundlerRawQueryBypassesTransforms(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/project/styles.css", ".btn { color: red; }")
	b := newBundler(t, fs)

	resp := bundlerGet(t, b, "/styles.css?raw")
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "text/css; charset=utf-8", resp.Headers["Content-Type"])
	assert.Equal(t, ".btn { color: red; }", string(resp.Body))
}

func TestBundlerMissingFileIs404(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/project/index.html", "x")
	b := newBundler(t, fs)

	resp := bundlerGet(t, b, "/nope.js")
	assert.Equal(t, 404, resp.Status)
	assert.Equal(t, "application/json; charset=utf-8", resp.Headers["Content-Type"])
}

func TestBundlerMethodNotAllowed(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/project/index.html", "x")
	b := newBundler(t, fs)

	resp, err := b.Handle(context.Background(), &Request{Method: "DELETE", Path: "/index.html", Query: url.Values{}})
	require.NoError(t, err)
	assert.Equal(t, 405, resp.Status)
}

func TestBundlerPicksUpRewrittenFiles(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/project/styles.css", ".a { color: red; }")
	b := newBundler(t, fs)

	first := bundlerGet(t, b, "/styles.css")
	assert.Contains(t, string(first.Body), "color: red")

	writeFile(t, fs, "/project/styles.css", ".a { color: blue; }")
	second := bundlerGet(t, b, "/styles.css")
	assert.Contains(t, string(second.Body), "color: blue")
}

func TestBundlerHotUpdates(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/project/index.html", "x")
	b := newBundler(t, fs)

	updates, cancel := b.Subscribe()
	defer cancel()

	writeFile(t, fs, "/project/src/app.js", "console.log(1);")
	select {
	case up := <-updates:
		assert.Equal(t, "/src/app.js", up.Path)
		assert.False(t, up.Removed)
		assert.NotEmpty(t, up.Fingerprint)
	case <-time.After(time.Second):
		t.Fatal("no update for source write")
	}

	require.NoError(t, fs.Rm("/project/src/app.js", vfs.RemoveOptions{}))
	select {
	case up := <-updates:
		assert.Equal(t, "/src/app.js", up.Path)
		assert.True(t, up.Removed)
	case <-time.After(time.Second):
		t.Fatal("no update for source removal")
	}

	// Dependency churn stays quiet.
	writeFile(t, fs, "/project/node_modules/kit/index.js", "module.exports = 1;")
	select {
	case up := <-updates:
		t.Fatalf("unexpected update for ignored path: %+v", up)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBundlerSubscribeCancelClosesChannel(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/project/index.html", "x")
	b := newBundler(t, fs)

	updates, cancel := b.Subscribe()
	cancel()
	_, open := <-updates
	assert.False(t, open)
}

func TestBundlerCloseDetachesWatcherAndRestartRewatches(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/project/index.html", "x")
	b := newBundler(t, fs)

	require.NoError(t, b.Close())

	// Each start owns one subscription, so a restart cycle must not stack a
	// second watcher and double-deliver.
	require.NoError(t, b.Init(context.Background()))
	updates, cancel := b.Subscribe()
	defer cancel()

	writeFile(t, fs, "/project/app.js", "1;")
	select {
	case up := <-updates:
		assert.Equal(t, "/app.js", up.Path)
	case <-time.After(time.Second):
		t.Fatal("no update after restart")
	}
	select {
	case up := <-updates:
		t.Fatalf("duplicate update after restart: %+v", up)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSplitBundleRequest(t *testing.T) {
	name, subpath, err := splitBundleRequest("/@bundle/react")
	require.NoError(t, err)
	assert.Equal(t, "react", name)
	assert.Empty(t, subpath)

	name, subpath, err = splitBundleRequest("/@bundle/@scope/kit/hooks")
	require.NoError(t, err)
	assert.Equal(t, "@scope/kit", name)
	assert.Equal(t, "hooks", subpath)

	_, _, err = splitBundleRequest("/@bundle/")
	assert.Error(t, err)
}

func TestBundlePackageGraphExecutes(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/project/node_modules/kit/package.json",
		`{"name": "kit", "version": "1.0.0", "main": "index.js"}`)
	writeFile(t, fs, "/project/node_modules/kit/index.js",
		`const util = require('./util');
const words = require('./words.json');
module.exports = { greet: function(n) { return util.upper(words.hello + ' ' + n); } };`)
	writeFile(t, fs, "/project/node_modules/kit/util.js",
		`exports.upper = function(s) { return s.toUpperCase(); };`)
	writeFile(t, fs, "/project/node_modules/kit/words.json",
		`{"hello": "hi"}`)
	b := newBundler(t, fs)

	resp := bundlerGet(t, b, "/@bundle/kit")
	require.Equal(t, 200, resp.Status)
	body := string(resp.Body)
	assert.Contains(t, body, "/project/node_modules/kit/index.js")
	assert.Contains(t, body, "/project/node_modules/kit/util.js")
	assert.Contains(t, body, "export default")

	// The synthesized module runs: lower it to the loader's format and
	// require it through a fresh runtime.
	writeFile(t, fs, "/project/kit-bundle.js", body)
	rt, err := sandbox.New(sandbox.Options{
		FS:          fs,
		Cwd:         "/project",
		Transformer: transformerFunc(transform.New(transform.Options{}).TransformModule),
	})
	require.NoError(t, err)
	out, err := rt.RunScript("main", `require('/project/kit-bundle.js').default.greet('bob')`)
	require.NoError(t, err)
	assert.Equal(t, "HI BOB", out.String())
}

func TestBundleUnknownPackageIs404(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/project/index.html", "x")
	b := newBundler(t, fs)

	resp := bundlerGet(t, b, "/@bundle/ghost")
	assert.Equal(t, 404, resp.Status)
}

// transformerFunc adapts a function to the loader's transformer hook.
type transformerFunc func(path string, src []byte) ([]byte, error)

func (f transformerFunc) TransformModule(path string, src []byte) ([]byte, error) {
	return f(path, src)
}
