package bridge

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// urlAttributes maps element names to the attributes that carry URLs worth
// rewriting into the virtual shape.
var urlAttributes = map[string][]string{
	"a":      {"href"},
	"link":   {"href"},
	"script": {"src"},
	"img":    {"src"},
	"iframe": {"src"},
	"source": {"src"},
	"video":  {"src", "poster"},
	"audio":  {"src"},
	"form":   {"action"},
}

// RewriteHTML prefixes root-relative URL attributes in an HTML document
// with the virtual shape for port, so links and assets inside a virtual
// document stay inside its context. Absolute, fragment-only, and
// already-virtual URLs are left alone.
func RewriteHTML(doc []byte, port int) ([]byte, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("bridge: parse document: %w", err)
	}
	rewriteNode(root, port)

	var out bytes.Buffer
	if err := html.Render(&out, root); err != nil {
		return nil, fmt.Errorf("bridge: render document: %w", err)
	}
	return out.Bytes(), nil
}

func rewriteNode(n *html.Node, port int) {
	if n.Type == html.ElementNode {
		if attrs, ok := urlAttributes[n.Data]; ok {
			for i := range n.Attr {
				for _, name := range attrs {
					if n.Attr[i].Key == name {
						n.Attr[i].Val = rewriteURL(n.Attr[i].Val, port)
					}
				}
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		rewriteNode(c, port)
	}
}

func rewriteURL(val string, port int) string {
	if !strings.HasPrefix(val, "/") {
		return val
	}
	// Protocol-relative and already-virtual URLs stay as written.
	if strings.HasPrefix(val, "//") || strings.HasPrefix(val, virtualPrefix) {
		return val
	}
	return VirtualURL(port, val)
}
