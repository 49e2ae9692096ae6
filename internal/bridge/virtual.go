package bridge

import (
	"fmt"
	"strconv"
	"strings"
)

// virtualPrefix is the reserved URL shape marking virtual-port traffic:
// /~/<port>/<path>?<query>.
const virtualPrefix = "/~/"

// ParseVirtualURL recognizes the reserved shape and splits it into the
// virtual port and the real path (query string preserved). The second
// return is false for non-virtual URLs.
func ParseVirtualURL(raw string) (int, string, bool) {
	path := raw
	if i := strings.Index(path, "://"); i >= 0 {
		rest := path[i+3:]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return 0, "", false
		}
		path = rest[slash:]
	}
	if !strings.HasPrefix(path, virtualPrefix) {
		return 0, "", false
	}
	rest := path[len(virtualPrefix):]
	var portPart, tail string
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		portPart, tail = rest[:slash], rest[slash:]
	} else if q := strings.IndexByte(rest, '?'); q >= 0 {
		portPart, tail = rest[:q], "/"+rest[q:]
	} else {
		portPart, tail = rest, "/"
	}
	port, err := strconv.Atoi(portPart)
	if err != nil || port <= 0 || port > 65535 {
		return 0, "", false
	}
	return port, tail, true
}

// VirtualURL renders the reserved shape for a port and path.
func VirtualURL(port int, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s%d%s", virtualPrefix, port, path)
}

// RouteKind classifies what the interception layer should do with one
// observed request.
type RouteKind int

const (
	// RouteVirtual dispatches to the virtual port embedded in the URL.
	RouteVirtual RouteKind = iota
	// RoutePassThrough leaves the request untouched.
	RoutePassThrough
	// RouteRedirect answers with a redirect onto the virtual URL shape,
	// used for plain navigations issued from inside a virtual document.
	RouteRedirect
	// RouteForward transparently forwards a resource request to the
	// referring document's virtual port.
	RouteForward
)

// Decision is the routing outcome for one request.
type Decision struct {
	Kind RouteKind
	Port int
	// Path is the real path (with query) to dispatch or forward; for
	// redirects, Location carries the full virtual URL to send back.
	Path     string
	Location string
}

// Route decides how to treat a request given its URL, the referring
// document's URL, and whether the request is a navigation. Non-virtual
// requests pass through untouched unless the referrer sits inside a
// virtual context: navigations are redirected onto the virtual shape
// (query preserved), other resources forward transparently.
func Route(rawURL, referer string, navigation bool) Decision {
	if port, path, ok := ParseVirtualURL(rawURL); ok {
		return Decision{Kind: RouteVirtual, Port: port, Path: path}
	}
	refPort, _, refVirtual := ParseVirtualURL(referer)
	if !refVirtual {
		return Decision{Kind: RoutePassThrough}
	}
	path := pathWithQuery(rawURL)
	if navigation {
		return Decision{
			Kind:     RouteRedirect,
			Port:     refPort,
			Path:     path,
			Location: VirtualURL(refPort, path),
		}
	}
	return Decision{Kind: RouteForward, Port: refPort, Path: path}
}

func pathWithQuery(raw string) string {
	path := raw
	if i := strings.Index(path, "://"); i >= 0 {
		rest := path[i+3:]
		if slash := strings.IndexByte(rest, '/'); slash >= 0 {
			path = rest[slash:]
		} else {
			path = "/"
		}
	}
	if path == "" || !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
