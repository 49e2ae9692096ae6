package vpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":                  ".",
		".":                 ".",
		"/":                 "/",
		"//":                "/",
		"/a/b/c":            "/a/b/c",
		"/a//b///c":         "/a/b/c",
		"a/./b":             "a/b",
		"a/b/..":            "a",
		"a/b/../..":         ".",
		"a/b/../../..":      "..",
		"../a":              "../a",
		"/../a":             "/a",
		"/a/b/../../../..":  "/",
		"./x/b/../b/c.js":   "x/b/c.js",
		"/storage/apps/../": "/storage/",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "x/b/c.js", Join(".", "x/b", "..", "/b/c.js"))
	assert.Equal(t, "/a/b", Join("/a", "b"))
	assert.Equal(t, "a/c", Join("a", "", "c"))
	assert.Equal(t, ".", Join())
	assert.Equal(t, "..", Join("a", "..", ".."))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "/a/b", Resolve("/", "a", "b"))
	assert.Equal(t, "/b/c", Resolve("/a", "/b", "c"))
	assert.Equal(t, "/home/user/src", Resolve("/home/user", "./src"))
	assert.Equal(t, "/x", Resolve("/a/b", "/x"))
	assert.Equal(t, "/a", Resolve("/a"))
	// Rightmost absolute segment wins, earlier segments are ignored.
	assert.Equal(t, "/later/tail", Resolve("/cwd", "ignored", "/later", "tail"))
}

func TestDirnameBasename(t *testing.T) {
	assert.Equal(t, "/a/b", Dirname("/a/b/c.js"))
	assert.Equal(t, "/", Dirname("/a"))
	assert.Equal(t, ".", Dirname("a.js"))
	assert.Equal(t, "/a", Dirname("/a/b/"))

	assert.Equal(t, "c.js", Basename("/a/b/c.js"))
	assert.Equal(t, "c", Basename("/a/b/c.js", ".js"))
	assert.Equal(t, "b", Basename("/a/b/"))
	// Suffix equal to the whole basename is not trimmed.
	assert.Equal(t, ".js", Basename("/a/.js", ".js"))
}

func TestExtname(t *testing.T) {
	assert.Equal(t, ".js", Extname("index.js"))
	assert.Equal(t, ".gz", Extname("archive.tar.gz"))
	assert.Equal(t, "", Extname(".bashrc"))
	assert.Equal(t, "", Extname("Makefile"))
	assert.Equal(t, ".", Extname("trailing."))
}

func TestRelative(t *testing.T) {
	assert.Equal(t, "", Relative("/a/b", "/a/b"))
	assert.Equal(t, "c", Relative("/a/b", "/a/b/c"))
	assert.Equal(t, "../c", Relative("/a/b", "/a/c"))
	assert.Equal(t, "../../x/y", Relative("/a/b", "/x/y"))
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Split("/a//b/"))
	assert.Nil(t, Split("/"))
}
