package installer

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassboxhq/glassbox/internal/installer/registry"
	"github.com/glassboxhq/glassbox/internal/manifest"
	"github.com/glassboxhq/glassbox/internal/sandbox"
	"github.com/glassboxhq/glassbox/internal/vfs"
)

func makeTarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: "package/" + name,
			Mode: 0644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// fakeRegistry serves metadata documents, CDN-style files, and tarballs.
type fakeRegistry struct {
	metadata map[string]string // name -> metadata JSON
	files    map[string]string // "name@version/path" -> content
	tarballs map[string][]byte // tarball path -> bytes
}

func (f *fakeRegistry) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path[1:]
		if tb, ok := f.tarballs[path]; ok {
			_, _ = w.Write(tb)
			return
		}
		if content, ok := f.files[path]; ok {
			_, _ = w.Write([]byte(content))
			return
		}
		if meta, ok := f.metadata[path]; ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(meta))
			return
		}
		http.NotFound(w, r)
	})
}

func newTestInstaller(t *testing.T, reg *fakeRegistry) (*Installer, *vfs.FS, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(reg.handler())
	t.Cleanup(srv.Close)

	client := registry.NewClient(registry.Options{BaseURL: srv.URL, RetryMax: 1})
	fs := vfs.New()
	in, err := New(Options{FS: fs, Registry: client})
	require.NoError(t, err)
	return in, fs, srv
}

func metadataDoc(name, latest string, versions map[string]string) string {
	doc := fmt.Sprintf(`{"name": %q, "dist-tags": {"latest": %q}, "versions": {`, name, latest)
	first := true
	for v, body := range versions {
		if !first {
			doc += ","
		}
		first = false
		doc += fmt.Sprintf("%q: %s", v, body)
	}
	return doc + "}}"
}

func TestInstallPicksHighestSatisfyingVersion(t *testing.T) {
	reg := &fakeRegistry{
		metadata: map[string]string{},
		tarballs: map[string][]byte{},
	}
	for _, v := range []string{"1.0.0", "1.3.0", "2.0.0"} {
		reg.tarballs["tarballs/pad-"+v+".tgz"] = makeTarball(t, map[string]string{
			"package.json": fmt.Sprintf(`{"name": "pad", "version": %q, "main": "index.js"}`, v),
			"index.js":     fmt.Sprintf("module.exports = %q;", v),
		})
	}

	in, fs, srv := newTestInstaller(t, reg)
	versions := map[string]string{}
	for _, v := range []string{"1.0.0", "1.3.0", "2.0.0"} {
		versions[v] = fmt.Sprintf(`{"name": "pad", "version": %q, "dist": {"tarball": %q}}`,
			v, srv.URL+"/tarballs/pad-"+v+".tgz")
	}
	reg.metadata["pad"] = metadataDoc("pad", "2.0.0", versions)

	report, err := in.Install(context.Background(), "pad@^1.0.0")
	require.NoError(t, err)
	require.Len(t, report.Installed, 1)
	assert.Empty(t, report.Failed)
	assert.Equal(t, "1.3.0", report.Installed[0].Version)

	data, err := fs.Read("/node_modules/pad/index.js")
	require.NoError(t, err)
	assert.Contains(t, string(data), "1.3.0")

	// The project manifest records the requested range.
	raw, err := fs.Read("/package.json")
	require.NoError(t, err)
	proj, err := manifest.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "^1.0.0", proj.Dependencies["pad"])
}

func TestInstallUnconstrainedUsesLatestTag(t *testing.T) {
	reg := &fakeRegistry{metadata: map[string]string{}, tarballs: map[string][]byte{}}
	reg.tarballs["tarballs/pad-1.3.0.tgz"] = makeTarball(t, map[string]string{
		"package.json": `{"name": "pad", "version": "1.3.0"}`,
		"index.js":     "module.exports = 'pad';",
	})

	in, _, srv := newTestInstaller(t, reg)
	reg.metadata["pad"] = metadataDoc("pad", "1.3.0", map[string]string{
		"1.3.0": fmt.Sprintf(`{"name": "pad", "version": "1.3.0", "dist": {"tarball": %q}}`,
			srv.URL+"/tarballs/pad-1.3.0.tgz"),
	})

	report, err := in.Install(context.Background(), "pad")
	require.NoError(t, err)
	require.Len(t, report.Installed, 1)
	assert.Equal(t, "1.3.0", report.Installed[0].Version)
}

func TestInstallDeepExportSubpaths(t *testing.T) {
	reg := &fakeRegistry{
		metadata: map[string]string{
			"kit": metadataDoc("kit", "1.0.0", map[string]string{
				"1.0.0": `{"name": "kit", "version": "1.0.0"}`,
			}),
		},
		files: map[string]string{
			"kit@1.0.0/package.json": `{
				"name": "kit",
				"version": "1.0.0",
				"exports": {".": "./dist/index.js", "./react": "./dist/react.js"}
			}`,
			"kit@1.0.0/dist/index.js": "module.exports = 'kit-root';",
			"kit@1.0.0/dist/react.js": "module.exports = 'kit-react';",
		},
	}

	in, fs, _ := newTestInstaller(t, reg)
	report, err := in.Install(context.Background(), "kit@1.0.0")
	require.NoError(t, err)
	require.Len(t, report.Installed, 1)
	assert.Equal(t, 3, report.Installed[0].Files)

	rt, err := sandbox.New(sandbox.Options{FS: fs})
	require.NoError(t, err)

	root, err := rt.Require("kit")
	require.NoError(t, err)
	assert.Equal(t, "kit-root", root.String())

	sub, err := rt.Require("kit/react")
	require.NoError(t, err)
	assert.Equal(t, "kit-react", sub.String())
}

func TestInstallIsolatesPerPackageFailures(t *testing.T) {
	reg := &fakeRegistry{metadata: map[string]string{}, tarballs: map[string][]byte{}}
	reg.tarballs["tarballs/good-1.0.0.tgz"] = makeTarball(t, map[string]string{
		"package.json": `{"name": "good", "version": "1.0.0"}`,
		"index.js":     "module.exports = 'good';",
	})

	in, fs, srv := newTestInstaller(t, reg)
	reg.metadata["good"] = metadataDoc("good", "1.0.0", map[string]string{
		"1.0.0": fmt.Sprintf(`{"name": "good", "version": "1.0.0", "dist": {"tarball": %q}}`,
			srv.URL+"/tarballs/good-1.0.0.tgz"),
	})

	report, err := in.Install(context.Background(), "missing", "good")
	require.NoError(t, err)
	require.Len(t, report.Installed, 1)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "good", report.Installed[0].Name)
	assert.Equal(t, "missing", report.Failed[0].Name)

	var fe *registry.FetchError
	require.ErrorAs(t, report.Failed[0].Err, &fe)
	assert.Equal(t, 404, fe.Status)

	assert.True(t, fs.Exists("/node_modules/good/index.js"))
}

func TestInstallFailsOnMalformedProjectManifest(t *testing.T) {
	reg := &fakeRegistry{}
	in, fs, _ := newTestInstaller(t, reg)
	require.NoError(t, fs.Write("/package.json", []byte("{not json"), vfs.WriteOptions{}))

	_, err := in.Install(context.Background(), "anything")
	require.Error(t, err)
	var me *manifest.Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "(document)", me.Field)
}

func TestInstalledBinaryIsInvocable(t *testing.T) {
	reg := &fakeRegistry{metadata: map[string]string{}, tarballs: map[string][]byte{}}
	reg.tarballs["tarballs/toolkit-1.0.0.tgz"] = makeTarball(t, map[string]string{
		"package.json": `{"name": "toolkit", "version": "1.0.0", "bin": {"tool": "./cli.js"}}`,
		"cli.js":       "module.exports = function() { return 'tool ran'; };",
	})

	in, fs, srv := newTestInstaller(t, reg)
	reg.metadata["toolkit"] = metadataDoc("toolkit", "1.0.0", map[string]string{
		"1.0.0": fmt.Sprintf(`{"name": "toolkit", "version": "1.0.0", "dist": {"tarball": %q}}`,
			srv.URL+"/tarballs/toolkit-1.0.0.tgz"),
	})

	report, err := in.Install(context.Background(), "toolkit")
	require.NoError(t, err)
	require.Len(t, report.Installed, 1)
	assert.Equal(t, []string{"tool"}, report.Installed[0].Bins)

	info, err := fs.Stat("/node_modules/.bin/tool")
	require.NoError(t, err)
	assert.True(t, info.Executable)

	rt, err := sandbox.New(sandbox.Options{FS: fs})
	require.NoError(t, err)
	val, err := rt.RunScript("invoke", "require('/node_modules/.bin/tool')()")
	require.NoError(t, err)
	assert.Equal(t, "tool ran", val.String())
}
