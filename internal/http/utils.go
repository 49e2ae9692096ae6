package http

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/glassboxhq/glassbox/internal/devserver"
)

// requirePort parses the :port route parameter.
func requirePort(c *gin.Context) (int, bool) {
	port, err := strconv.Atoi(c.Param("port"))
	if err != nil || port < 1 || port > 65535 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid port"})
		return 0, false
	}
	return port, true
}

// splitRegistrySpec parses "<name>@<version>/<file>" from the proxy route,
// including scoped names like "@scope/pkg@1.2.3/lib/index.js".
func splitRegistrySpec(spec string) (name, version, file string, err error) {
	spec = strings.TrimPrefix(spec, "/")
	if spec == "" {
		return "", "", "", fmt.Errorf("empty package spec")
	}

	// The version marker is the first '@' past position zero, so scope
	// prefixes survive.
	at := strings.Index(spec[1:], "@")
	if at < 0 {
		return "", "", "", fmt.Errorf("package spec %q missing version", spec)
	}
	at++
	name = spec[:at]
	rest := spec[at+1:]

	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		version, file = rest[:slash], rest[slash+1:]
	} else {
		version = rest
	}
	if name == "" || version == "" {
		return "", "", "", fmt.Errorf("package spec %q missing name or version", spec)
	}
	return name, version, file, nil
}

// registryContentType maps a proxied package file onto a response type.
// Script sources always go out as JavaScript so browsers will execute them.
func registryContentType(file string) string {
	switch {
	case file == "", strings.HasSuffix(file, ".js"), strings.HasSuffix(file, ".mjs"),
		strings.HasSuffix(file, ".cjs"), strings.HasSuffix(file, ".jsx"),
		strings.HasSuffix(file, ".ts"), strings.HasSuffix(file, ".tsx"):
		return "application/javascript; charset=utf-8"
	case strings.HasSuffix(file, ".json"):
		return "application/json; charset=utf-8"
	case strings.HasSuffix(file, ".css"):
		return "text/css; charset=utf-8"
	case strings.HasSuffix(file, ".map"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// virtualRequest converts the inbound gin request into a virtual-server
// request, preserving method, query, headers, and body.
func virtualRequest(c *gin.Context) (*devserver.Request, error) {
	path := c.Param("path")
	if path == "" {
		path = "/"
	}

	headers := make(map[string]string, len(c.Request.Header))
	for k, v := range c.Request.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	var body []byte
	if c.Request.Body != nil {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = data
	}

	return &devserver.Request{
		Method:  c.Request.Method,
		Path:    path,
		Query:   c.Request.URL.Query(),
		Headers: headers,
		Body:    body,
	}, nil
}
