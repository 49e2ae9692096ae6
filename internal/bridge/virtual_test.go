package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVirtualURL(t *testing.T) {
	port, path, ok := ParseVirtualURL("/~/3000/posts/1?full=1")
	assert.True(t, ok)
	assert.Equal(t, 3000, port)
	assert.Equal(t, "/posts/1?full=1", path)

	port, path, ok = ParseVirtualURL("http://localhost/~/8080/")
	assert.True(t, ok)
	assert.Equal(t, 8080, port)
	assert.Equal(t, "/", path)

	// Bare port, no trailing slash.
	port, path, ok = ParseVirtualURL("/~/3000")
	assert.True(t, ok)
	assert.Equal(t, 3000, port)
	assert.Equal(t, "/", path)

	port, path, ok = ParseVirtualURL("/~/3000?x=1")
	assert.True(t, ok)
	assert.Equal(t, "/?x=1", path)

	_, _, ok = ParseVirtualURL("/assets/logo.png")
	assert.False(t, ok)
	_, _, ok = ParseVirtualURL("/~/nope/path")
	assert.False(t, ok)
	_, _, ok = ParseVirtualURL("/~/99999/path")
	assert.False(t, ok)
}

func TestVirtualURL(t *testing.T) {
	assert.Equal(t, "/~/3000/about", VirtualURL(3000, "/about"))
	assert.Equal(t, "/~/3000/about", VirtualURL(3000, "about"))
}

func TestRouteVirtualRequest(t *testing.T) {
	d := Route("/~/3000/api/items", "", false)
	assert.Equal(t, RouteVirtual, d.Kind)
	assert.Equal(t, 3000, d.Port)
	assert.Equal(t, "/api/items", d.Path)
}

func TestRoutePassThroughOutsideVirtualContext(t *testing.T) {
	d := Route("https://example.com/lib.js", "https://example.com/", false)
	assert.Equal(t, RoutePassThrough, d.Kind)
}

func TestRouteRedirectsNavigationFromVirtualDocument(t *testing.T) {
	d := Route("/pricing?plan=pro", "/~/3000/index.html", true)
	assert.Equal(t, RouteRedirect, d.Kind)
	assert.Equal(t, 3000, d.Port)
	assert.Equal(t, "/~/3000/pricing?plan=pro", d.Location)
}

func TestRouteForwardsResourceFromVirtualDocument(t *testing.T) {
	d := Route("/bundle.js", "http://localhost/~/3000/index.html", false)
	assert.Equal(t, RouteForward, d.Kind)
	assert.Equal(t, 3000, d.Port)
	assert.Equal(t, "/bundle.js", d.Path)
}
