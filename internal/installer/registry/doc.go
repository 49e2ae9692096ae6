// Package registry is the HTTP client for the package registry proxy. It
// serves version metadata, individual package files addressed by
// name@version/path, and gzipped tarballs of whole package contents.
package registry
