package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteHTMLPrefixesRootRelativeURLs(t *testing.T) {
	doc := []byte(`<html><head>
<link rel="stylesheet" href="/styles.css">
<script src="/main.js"></script>
</head><body>
<a href="/about">About</a>
<img src="/logo.png">
<form action="/submit"></form>
</body></html>`)

	out, err := RewriteHTML(doc, 3000)
	require.NoError(t, err)
	html := string(out)
	assert.Contains(t, html, `href="/~/3000/styles.css"`)
	assert.Contains(t, html, `src="/~/3000/main.js"`)
	assert.Contains(t, html, `href="/~/3000/about"`)
	assert.Contains(t, html, `src="/~/3000/logo.png"`)
	assert.Contains(t, html, `action="/~/3000/submit"`)
}

func TestRewriteHTMLLeavesOtherURLsAlone(t *testing.T) {
	doc := []byte(`<html><body>
<a href="https://example.com/x">ext</a>
<a href="//cdn.example.com/y">protocol-relative</a>
<a href="relative/page.html">rel</a>
<a href="#section">frag</a>
<a href="/~/4000/already">virtual</a>
</body></html>`)

	out, err := RewriteHTML(doc, 3000)
	require.NoError(t, err)
	html := string(out)
	assert.Contains(t, html, `href="https://example.com/x"`)
	assert.Contains(t, html, `href="//cdn.example.com/y"`)
	assert.Contains(t, html, `href="relative/page.html"`)
	assert.Contains(t, html, `href="#section"`)
	assert.Contains(t, html, `href="/~/4000/already"`)
}
