package devserver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassboxhq/glassbox/internal/vfs"
)

func writeFile(t *testing.T, fs *vfs.FS, path, content string) {
	t.Helper()
	require.NoError(t, fs.Write(path, []byte(content), vfs.WriteOptions{Recursive: true}))
}

func routeTree(t *testing.T) *vfs.FS {
	fs := vfs.New()
	writeFile(t, fs, "/app/layout.js", "")
	writeFile(t, fs, "/app/page.js", "")
	writeFile(t, fs, "/app/not-found.js", "")
	writeFile(t, fs, "/app/posts/layout.js", "")
	writeFile(t, fs, "/app/posts/featured/page.js", "")
	writeFile(t, fs, "/app/posts/[slug]/page.js", "")
	writeFile(t, fs, "/app/docs/[...path]/page.js", "")
	writeFile(t, fs, "/app/(marketing)/about/page.js", "")
	writeFile(t, fs, "/app/(legal)/terms/page.js", "")
	writeFile(t, fs, "/app/api/hello/route.js", "")
	return fs
}

func TestRouterRootPage(t *testing.T) {
	r := NewRouter(routeTree(t), "/app")

	m, ok := r.Match("/")
	require.True(t, ok)
	assert.Equal(t, "/app/page.js", m.Page)
	assert.Equal(t, "/", m.Pattern)
	assert.Equal(t, []string{"/app/layout.js"}, m.Layouts)
}

func TestRouterDynamicSegment(t *testing.T) {
	r := NewRouter(routeTree(t), "/app")

	m, ok := r.Match("/posts/hello-world")
	require.True(t, ok)
	assert.Equal(t, "/app/posts/[slug]/page.js", m.Page)
	assert.Equal(t, "/posts/[slug]", m.Pattern)
	assert.Equal(t, "hello-world", m.Params["slug"])
	assert.Equal(t, []string{"/app/layout.js", "/app/posts/layout.js"}, m.Layouts)
}

func TestRouterStaticBeatsDynamic(t *testing.T) {
	r := NewRouter(routeTree(t), "/app")

	m, ok := r.Match("/posts/featured")
	require.True(t, ok)
	assert.Equal(t, "/app/posts/featured/page.js", m.Page)
	assert.Empty(t, m.Params)
}

func TestRouterCatchAll(t *testing.T) {
	r := NewRouter(routeTree(t), "/app")

	m, ok := r.Match("/docs/guide/install/linux")
	require.True(t, ok)
	assert.Equal(t, "/app/docs/[...path]/page.js", m.Page)
	assert.Equal(t, "guide/install/linux", m.Params["path"])
}

func TestRouterGroupsDoNotAffectPath(t *testing.T) {
	r := NewRouter(routeTree(t), "/app")

	m, ok := r.Match("/about")
	require.True(t, ok)
	assert.Equal(t, "/app/(marketing)/about/page.js", m.Page)
	assert.Equal(t, "/about", m.Pattern)

	m, ok = r.Match("/terms")
	require.True(t, ok)
	assert.Equal(t, "/app/(legal)/terms/page.js", m.Page)

	// The group never appears as a URL segment.
	_, ok = r.Match("/(marketing)/about")
	assert.False(t, ok)
}

func TestRouterAPIRoute(t *testing.T) {
	r := NewRouter(routeTree(t), "/app")

	m, ok := r.Match("/api/hello")
	require.True(t, ok)
	assert.Empty(t, m.Page)
	assert.Equal(t, "/app/api/hello/route.js", m.API)
}

func TestRouterMissCarriesNotFoundFile(t *testing.T) {
	r := NewRouter(routeTree(t), "/app")

	m, ok := r.Match("/no/such/route")
	assert.False(t, ok)
	require.NotNil(t, m)
	assert.Equal(t, "/app/not-found.js", m.NotFound)
	assert.Equal(t, []string{"/app/layout.js"}, m.Layouts)
}

func TestRouterNearestConventionFilesWin(t *testing.T) {
	fs := routeTree(t)
	writeFile(t, fs, "/app/error.js", "")
	writeFile(t, fs, "/app/posts/error.js", "")
	writeFile(t, fs, "/app/posts/loading.js", "")
	r := NewRouter(fs, "/app")

	m, ok := r.Match("/posts/hello-world")
	require.True(t, ok)
	assert.Equal(t, "/app/posts/error.js", m.Error)
	assert.Equal(t, "/app/posts/loading.js", m.Loading)

	m, ok = r.Match("/about")
	require.True(t, ok)
	assert.Equal(t, "/app/error.js", m.Error)
	assert.Empty(t, m.Loading)
}

func TestRouterIndexInsideGroup(t *testing.T) {
	fs := vfs.New()
	writeFile(t, fs, "/app/(site)/page.js", "")
	r := NewRouter(fs, "/app")

	m, ok := r.Match("/")
	require.True(t, ok)
	assert.Equal(t, "/app/(site)/page.js", m.Page)
}
