// Package fingerprint derives stable content hashes used as transform-cache
// keys and scoped-stylesheet class suffixes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Of returns the hex SHA-256 of data.
func Of(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// OfString returns the hex SHA-256 of s.
func OfString(s string) string {
	return Of([]byte(s))
}

// Short returns the first eight hex characters, enough to disambiguate
// scoped class names and cache entries within one workspace.
func Short(full string) string {
	if len(full) < 8 {
		return full
	}
	return full[:8]
}

// OfFields hashes multiple fields order-independently, for cache keys built
// from path plus options.
func OfFields(fields ...string) string {
	sorted := make([]string, len(fields))
	copy(sorted, fields)
	sort.Strings(sorted)
	return OfString(strings.Join(sorted, "|"))
}
