package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassboxhq/glassbox/internal/devserver"
	"github.com/glassboxhq/glassbox/internal/vfs"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestNewManagerWiresWorkspace(t *testing.T) {
	m := newManager(t)

	assert.NotEmpty(t, m.ID())
	assert.NotNil(t, m.FS())
	assert.NotNil(t, m.Runtime())
	assert.NotNil(t, m.Installer())
	assert.NotNil(t, m.Runner())
	assert.NotNil(t, m.Bridge())
	assert.NotNil(t, m.Metrics())
	assert.NotNil(t, m.Registry())
}

func TestProjectDependenciesFromManifest(t *testing.T) {
	m := newManager(t)

	assert.Nil(t, m.projectDependencies())

	manifest := `{"name":"demo","version":"1.0.0","dependencies":{"react":"^18.2.0"}}`
	require.NoError(t, m.FS().Write("/package.json", []byte(manifest), vfs.WriteOptions{}))

	deps := m.projectDependencies()
	assert.Equal(t, "^18.2.0", deps["react"])
}

func TestSeedAppliesProjectOverlay(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "index.js"), []byte("console.log(1);"), 0o644))
	overlay := "name: demo\nasset_prefix: /static\nignore:\n  - vendor/**\n"
	require.NoError(t, os.WriteFile(filepath.Join(src, "glassbox.yaml"), []byte(overlay), 0o644))

	m := newManager(t)
	res, err := m.Seed(context.Background(), src, "/")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Files)
	assert.True(t, m.FS().Exists("/index.js"))

	p := m.Project()
	require.NotNil(t, p)
	assert.Equal(t, "/static", p.AssetPrefix)
	assert.Equal(t, []string{"vendor/**"}, p.Ignore)
}

func TestStartBundlerServesAndRegistersPort(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.FS().Write("/project/index.html", []byte("<h1>hi</h1>"), vfs.WriteOptions{Recursive: true}))

	require.NoError(t, m.StartBundler(context.Background(), 3000, "/project"))

	servers := m.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, 3000, servers[0].Port)
	assert.Equal(t, "bundler", servers[0].App)

	assert.Equal(t, "listening", servers[0].State)

	handler, ok := m.Bridge().Ports().Lookup(3000)
	require.True(t, ok)

	res, err := handler.Handle(context.Background(), &devserver.Request{Method: "GET", Path: "/index.html"})
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)
	assert.Contains(t, string(res.Body), "hi")
}

func TestPortConflictIsRejected(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.StartBundler(context.Background(), 3000, "/"))

	err := m.StartBundler(context.Background(), 3000, "/")
	assert.Error(t, err)

	// The original registration survives.
	_, ok := m.Bridge().Ports().Lookup(3000)
	assert.True(t, ok)
	assert.Len(t, m.Servers(), 1)
}

func TestStopServerReleasesPort(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.StartBundler(context.Background(), 3000, "/"))

	require.NoError(t, m.StopServer(context.Background(), 3000))
	assert.Empty(t, m.Servers())
	_, ok := m.Bridge().Ports().Lookup(3000)
	assert.False(t, ok)

	assert.Error(t, m.StopServer(context.Background(), 3000))
}

func TestRestartUnknownPort(t *testing.T) {
	m := newManager(t)
	assert.Error(t, m.RestartServer(context.Background(), 9999))
}

func TestSubscribeUpdatesOnBundler(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.FS().Mkdir("/project", true))
	require.NoError(t, m.StartBundler(context.Background(), 3000, "/project"))

	updates, cancel, err := m.SubscribeUpdates(3000)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, m.FS().Write("/project/app.js", []byte("1;"), vfs.WriteOptions{Recursive: true}))

	select {
	case update := <-updates:
		assert.Equal(t, "/app.js", update.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}
}

func TestSubscribeUpdatesRequiresBundler(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.FS().Write("/app/page.js",
		[]byte(`module.exports = { default: function() { return "<p>ok</p>"; } };`),
		vfs.WriteOptions{Recursive: true}))
	require.NoError(t, m.StartApp(context.Background(), 3100, "/app"))

	_, _, err := m.SubscribeUpdates(3100)
	assert.Error(t, err)

	_, _, err = m.SubscribeUpdates(4444)
	assert.Error(t, err)
}

func TestServersOrderedByPort(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.StartBundler(context.Background(), 3002, "/"))
	require.NoError(t, m.StartBundler(context.Background(), 3001, "/"))

	servers := m.Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, 3001, servers[0].Port)
	assert.Equal(t, 3002, servers[1].Port)
}

func TestCloseStopsEverything(t *testing.T) {
	m, err := NewManager(Options{})
	require.NoError(t, err)
	require.NoError(t, m.StartBundler(context.Background(), 3000, "/"))

	require.NoError(t, m.Close())
	assert.Empty(t, m.Servers())
	_, ok := m.Bridge().Ports().Lookup(3000)
	assert.False(t, ok)
}
