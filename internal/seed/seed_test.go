package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassboxhq/glassbox/internal/vfs"
)

func writeDisk(t *testing.T, root, rel, content string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
}

func TestLoadCopiesTreeIntoVirtualFS(t *testing.T) {
	src := t.TempDir()
	writeDisk(t, src, "package.json", `{"name":"demo"}`, 0o644)
	writeDisk(t, src, "src/index.js", "console.log(1);", 0o644)
	writeDisk(t, src, "bin/tool", "#!/usr/bin/env node\n", 0o755)
	writeDisk(t, src, "node_modules/kit/index.js", "ignored", 0o644)
	writeDisk(t, src, ".git/HEAD", "ref: refs/heads/main", 0o644)

	fs := vfs.New()
	res, err := Load(context.Background(), Options{FS: fs, Source: src, Target: "/project"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Files)

	data, err := fs.Read("/project/package.json")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"demo"}`, string(data))

	assert.True(t, fs.Exists("/project/src/index.js"))
	assert.False(t, fs.Exists("/project/node_modules/kit/index.js"))
	assert.False(t, fs.Exists("/project/.git/HEAD"))

	info, err := fs.Stat("/project/bin/tool")
	require.NoError(t, err)
	assert.True(t, info.Executable)
}

func TestLoadSkipsOversizedFiles(t *testing.T) {
	src := t.TempDir()
	writeDisk(t, src, "small.txt", "ok", 0o644)
	writeDisk(t, src, "big.bin", string(make([]byte, 64)), 0o644)

	fs := vfs.New()
	res, err := Load(context.Background(), Options{FS: fs, Source: src, MaxFileSize: 16})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Files)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, fs.Exists("/small.txt"))
	assert.False(t, fs.Exists("/big.bin"))
}

func TestLoadRejectsMissingSource(t *testing.T) {
	fs := vfs.New()
	_, err := Load(context.Background(), Options{FS: fs, Source: "/no/such/dir"})
	assert.Error(t, err)
}

func TestProjectName(t *testing.T) {
	assert.Equal(t, "demo", ProjectName("/tmp/work/demo"))
	assert.Equal(t, "project", ProjectName("/"))
}
