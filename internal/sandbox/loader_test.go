package sandbox

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassboxhq/glassbox/internal/vfs"
)

func newTestRuntime(t *testing.T) (*Runtime, *vfs.FS) {
	t.Helper()
	fs := vfs.New()
	rt, err := New(Options{FS: fs})
	require.NoError(t, err)
	return rt, fs
}

func write(t *testing.T, fs *vfs.FS, path, content string) {
	t.Helper()
	require.NoError(t, fs.Write(path, []byte(content), vfs.WriteOptions{Recursive: true}))
}

func TestRequireSimpleModule(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/app/answer.js", "module.exports = 40 + 2;")

	exports, err := rt.Require("./app/answer.js")
	require.NoError(t, err)
	assert.Equal(t, int64(42), exports.ToInteger())
}

func TestRequireCachesExecution(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/counter.js", `
		globalThis.executions = (globalThis.executions || 0) + 1;
		module.exports = globalThis.executions;
	`)

	first, err := rt.Require("./counter.js")
	require.NoError(t, err)
	second, err := rt.Require("./counter.js")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ToInteger())
	assert.Equal(t, int64(1), second.ToInteger())
}

func TestExtensionGuessing(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/lib/helper.ts", "module.exports = 'typescript';")
	write(t, fs, "/main.js", "module.exports = require('./lib/helper');")

	exports, err := rt.Require("./main.js")
	require.NoError(t, err)
	assert.Equal(t, "typescript", exports.String())
}

func TestDirectoryIndexResolution(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/widgets/index.js", "module.exports = 'widgets-index';")

	exports, err := rt.Require("./widgets")
	require.NoError(t, err)
	assert.Equal(t, "widgets-index", exports.String())
}

func TestJSONModule(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/config.json", `{"port": 3000, "name": "demo"}`)
	write(t, fs, "/main.js", "module.exports = require('./config.json').port;")

	exports, err := rt.Require("./main.js")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), exports.ToInteger())
}

func TestNodeModulesWalkUp(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/node_modules/greeter/package.json", `{"name": "greeter", "main": "lib/main.js"}`)
	write(t, fs, "/node_modules/greeter/lib/main.js", "module.exports = function() { return 'hi'; };")
	write(t, fs, "/src/deep/caller.js", "module.exports = require('greeter')();")

	exports, err := rt.Require("./src/deep/caller.js")
	require.NoError(t, err)
	assert.Equal(t, "hi", exports.String())
}

func TestBrowserFieldStringForm(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/node_modules/dual/package.json", `{"main": "node.js", "browser": "browser.js"}`)
	write(t, fs, "/node_modules/dual/node.js", "module.exports = 'node';")
	write(t, fs, "/node_modules/dual/browser.js", "module.exports = 'browser';")

	exports, err := rt.Require("dual")
	require.NoError(t, err)
	assert.Equal(t, "browser", exports.String())
}

func TestBrowserFieldObjectForm(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/node_modules/mapped/package.json", `{
		"main": "index.js",
		"browser": {"./io.js": "./io-browser.js"}
	}`)
	write(t, fs, "/node_modules/mapped/index.js", "module.exports = require('mapped/io.js');")
	write(t, fs, "/node_modules/mapped/io.js", "module.exports = 'node-io';")
	write(t, fs, "/node_modules/mapped/io-browser.js", "module.exports = 'browser-io';")

	exports, err := rt.Require("mapped")
	require.NoError(t, err)
	assert.Equal(t, "browser-io", exports.String())
}

func TestExportMapSubpath(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/node_modules/kit/package.json", `{
		"name": "kit",
		"exports": {
			".": "./dist/index.js",
			"./react": "./dist/react.js"
		}
	}`)
	write(t, fs, "/node_modules/kit/dist/index.js", "module.exports = 'kit-root';")
	write(t, fs, "/node_modules/kit/dist/react.js", "module.exports = 'kit-react';")

	root, err := rt.Require("kit")
	require.NoError(t, err)
	assert.Equal(t, "kit-root", root.String())

	sub, err := rt.Require("kit/react")
	require.NoError(t, err)
	assert.Equal(t, "kit-react", sub.String())
}

func TestScopedPackage(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/node_modules/@acme/util/package.json", `{"name": "@acme/util", "main": "index.js"}`)
	write(t, fs, "/node_modules/@acme/util/index.js", "module.exports = 'scoped';")

	exports, err := rt.Require("@acme/util")
	require.NoError(t, err)
	assert.Equal(t, "scoped", exports.String())
}

func TestCircularRequire(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/a.js", `
		exports.name = 'a';
		const b = require('./b.js');
		exports.partnerSawName = b.sawName;
	`)
	write(t, fs, "/b.js", `
		const a = require('./a.js');
		exports.sawName = a.name;
	`)

	exports, err := rt.Require("./a.js")
	require.NoError(t, err)
	obj := exports.ToObject(rt.VM())
	assert.Equal(t, "a", obj.Get("partnerSawName").String())
}

func TestCacheInvalidationOnWrite(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/value.js", "module.exports = 'old';")
	write(t, fs, "/unrelated.js", "module.exports = 'stable';")

	first, err := rt.Require("./value.js")
	require.NoError(t, err)
	assert.Equal(t, "old", first.String())

	_, err = rt.Require("./unrelated.js")
	require.NoError(t, err)
	assert.True(t, rt.loader.Cached("/unrelated.js"))

	write(t, fs, "/value.js", "module.exports = 'new';")
	assert.False(t, rt.loader.Cached("/value.js"))
	assert.True(t, rt.loader.Cached("/unrelated.js"), "unrelated records survive invalidation")

	second, err := rt.Require("./value.js")
	require.NoError(t, err)
	assert.Equal(t, "new", second.String())
}

func TestCacheInvalidationCascadesToDependents(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/leaf.js", "module.exports = 1;")
	write(t, fs, "/mid.js", "module.exports = require('./leaf.js') + 1;")
	write(t, fs, "/top.js", "module.exports = require('./mid.js') + 1;")

	top, err := rt.Require("./top.js")
	require.NoError(t, err)
	assert.Equal(t, int64(3), top.ToInteger())

	write(t, fs, "/leaf.js", "module.exports = 10;")
	assert.False(t, rt.loader.Cached("/mid.js"))
	assert.False(t, rt.loader.Cached("/top.js"))

	top, err = rt.Require("./top.js")
	require.NoError(t, err)
	assert.Equal(t, int64(12), top.ToInteger())
}

func TestConcurrentRequireAndInvalidation(t *testing.T) {
	rt, fs := newTestRuntime(t)

	const modules = 64
	for i := 0; i < modules; i++ {
		write(t, fs, fmt.Sprintf("/mods/m%d.js", i), fmt.Sprintf("module.exports = %d;", i))
	}
	for i := 0; i < modules; i++ {
		_, err := rt.Require(fmt.Sprintf("./mods/m%d.js", i))
		require.NoError(t, err)
	}

	// Writers invalidate records from their own goroutines while another
	// goroutine keeps requiring through the shared runtime.
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; i < modules; i += 2 {
				path := fmt.Sprintf("/mods/m%d.js", i)
				assert.NoError(t, fs.Write(path, []byte(fmt.Sprintf("module.exports = %d;", i*10)), vfs.WriteOptions{}))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < modules; i++ {
			_, err := rt.Require(fmt.Sprintf("./mods/m%d.js", i))
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	for i := 0; i < modules; i++ {
		exports, err := rt.Require(fmt.Sprintf("./mods/m%d.js", i))
		require.NoError(t, err)
		assert.Equal(t, int64(i*10), exports.ToInteger())
	}
}

func TestCloseDetachesFromFilesystem(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/value.js", "module.exports = 'first';")

	first, err := rt.Require("./value.js")
	require.NoError(t, err)
	assert.Equal(t, "first", first.String())

	rt.Close()

	// Writes no longer invalidate: the cached record keeps serving.
	write(t, fs, "/value.js", "module.exports = 'second';")
	assert.True(t, rt.loader.Cached("/value.js"))

	second, err := rt.Require("./value.js")
	require.NoError(t, err)
	assert.Equal(t, "first", second.String())
}

func TestResolveErrorShape(t *testing.T) {
	rt, _ := newTestRuntime(t)

	_, err := rt.Require("definitely-not-installed")
	require.Error(t, err)
	var re *ResolveError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "definitely-not-installed", re.Specifier)
}

func TestBuiltinNodePrefix(t *testing.T) {
	rt, fs := newTestRuntime(t)
	write(t, fs, "/main.js", `
		const path = require('node:path');
		module.exports = path.join('a', 'b');
	`)

	exports, err := rt.Require("./main.js")
	require.NoError(t, err)
	assert.Equal(t, "a/b", exports.String())
}
