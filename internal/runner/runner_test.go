package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glassboxhq/glassbox/internal/vfs"
)

func write(t *testing.T, fs *vfs.FS, path, content string) {
	t.Helper()
	require.NoError(t, fs.Write(path, []byte(content), vfs.WriteOptions{Recursive: true}))
}

func combinedOutput(res *RunResult) []string {
	var out []string
	for _, stage := range res.Stages {
		for _, entry := range stage.Output {
			out = append(out, entry.Message)
		}
	}
	return out
}

func TestRunLifecycleStagesInOrder(t *testing.T) {
	fs := vfs.New()
	write(t, fs, "/package.json", `{
		"name": "demo",
		"scripts": {
			"prebuild": "node pre.js",
			"build": "node main.js",
			"postbuild": "node post.js"
		}
	}`)
	// Each stage is itself asynchronous; ordering must still hold.
	write(t, fs, "/pre.js", `setTimeout(function() { console.log("setup"); }, 0);`)
	write(t, fs, "/main.js", `setTimeout(function() { console.log("primary"); }, 0);`)
	write(t, fs, "/post.js", `console.log("teardown");`)

	r := New(Options{FS: fs})
	res, err := r.Run(context.Background(), "build", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, []string{"setup", "primary", "teardown"}, combinedOutput(res))
	require.Len(t, res.Stages, 3)
	assert.Equal(t, "prebuild", res.Stages[0].Name)
	assert.Equal(t, "build", res.Stages[1].Name)
	assert.Equal(t, "postbuild", res.Stages[2].Name)
}

func TestRunMissingScriptListsAvailable(t *testing.T) {
	fs := vfs.New()
	write(t, fs, "/package.json", `{"scripts": {"dev": "node dev.js", "test": "node t.js"}}`)

	r := New(Options{FS: fs})
	_, err := r.Run(context.Background(), "deploy", nil)
	require.Error(t, err)

	var missing *MissingScriptError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "deploy", missing.Name)
	assert.Equal(t, []string{"dev", "test"}, missing.Available)
	assert.Contains(t, err.Error(), "missing script")
}

func TestRunWithoutNameListsAvailable(t *testing.T) {
	fs := vfs.New()
	write(t, fs, "/package.json", `{"scripts": {"dev": "node dev.js"}}`)

	r := New(Options{FS: fs})
	_, err := r.Run(context.Background(), "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dev")
}

func TestRunStageFailureStopsLifecycle(t *testing.T) {
	fs := vfs.New()
	write(t, fs, "/package.json", `{
		"scripts": {
			"build": "node fail.js",
			"postbuild": "node post.js"
		}
	}`)
	write(t, fs, "/fail.js", `console.log("trying"); process.exitCode = 3;`)
	write(t, fs, "/post.js", `console.log("never");`)

	r := New(Options{FS: fs})
	res, err := r.Run(context.Background(), "build", nil)
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
	require.Len(t, res.Stages, 1)
	assert.NotContains(t, combinedOutput(res), "never")
}

func TestRunInstalledBinaryCommand(t *testing.T) {
	fs := vfs.New()
	write(t, fs, "/package.json", `{"scripts": {"lint": "checker src"}}`)
	write(t, fs, "/node_modules/checker/package.json", `{"name": "checker", "main": "cli.js"}`)
	write(t, fs, "/node_modules/checker/cli.js", `console.log("checked " + process.argv[2]);`)
	require.NoError(t, fs.Write("/node_modules/.bin/checker",
		[]byte("module.exports = require('../checker/cli.js');\n"),
		vfs.WriteOptions{Recursive: true, Executable: true}))

	r := New(Options{FS: fs})
	res, err := r.Run(context.Background(), "lint", nil)
	require.NoError(t, err)
	assert.Contains(t, combinedOutput(res), "checked src")
}

func TestRunUnrunnableCommand(t *testing.T) {
	fs := vfs.New()
	write(t, fs, "/package.json", `{"scripts": {"x": "ghost-tool"}}`)

	r := New(Options{FS: fs})
	res, err := r.Run(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost-tool")
	assert.Equal(t, 1, res.ExitCode)
}

func TestRunHonorsAbortSignal(t *testing.T) {
	fs := vfs.New()
	write(t, fs, "/package.json", `{"scripts": {"dev": "node dev.js"}}`)
	write(t, fs, "/dev.js", `console.log("up");`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(Options{FS: fs})
	res, err := r.Run(ctx, "dev", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, res.ExitCode)

	// The filesystem is untouched by the abort.
	data, rerr := fs.Read("/dev.js")
	require.NoError(t, rerr)
	assert.Equal(t, `console.log("up");`, string(data))
}
