// Package bufenc implements the byte/string codecs behind the Buffer shim:
// utf8, hex, base64, base64url, and latin1, with the exact aliasing and
// round-trip behavior third-party code expects.
package bufenc

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Canonical encoding names. Aliases accepted by Normalize.
const (
	UTF8      = "utf8"
	Hex       = "hex"
	Base64    = "base64"
	Base64URL = "base64url"
	Latin1    = "latin1"
)

// Normalize maps an encoding name or alias to its canonical form.
func Normalize(enc string) (string, error) {
	switch strings.ToLower(enc) {
	case "", "utf8", "utf-8":
		return UTF8, nil
	case "hex":
		return Hex, nil
	case "base64":
		return Base64, nil
	case "base64url":
		return Base64URL, nil
	case "latin1", "binary":
		return Latin1, nil
	default:
		return "", fmt.Errorf("unknown encoding: %s", enc)
	}
}

// Encode renders bytes as a string in the given encoding.
func Encode(data []byte, enc string) (string, error) {
	canonical, err := Normalize(enc)
	if err != nil {
		return "", err
	}
	switch canonical {
	case UTF8:
		return string(data), nil
	case Hex:
		return hex.EncodeToString(data), nil
	case Base64:
		return base64.StdEncoding.EncodeToString(data), nil
	case Base64URL:
		return base64.RawURLEncoding.EncodeToString(data), nil
	case Latin1:
		runes := make([]rune, len(data))
		for i, b := range data {
			runes[i] = rune(b)
		}
		return string(runes), nil
	}
	return "", fmt.Errorf("unknown encoding: %s", enc)
}

// Decode parses a string in the given encoding back to bytes.
func Decode(s string, enc string) ([]byte, error) {
	canonical, err := Normalize(enc)
	if err != nil {
		return nil, err
	}
	switch canonical {
	case UTF8:
		return []byte(s), nil
	case Hex:
		return hex.DecodeString(s)
	case Base64:
		// Padding is optional on input, as in the emulated runtime.
		if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
			return decoded, nil
		}
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	case Base64URL:
		if decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil {
			return decoded, nil
		}
		return base64.URLEncoding.DecodeString(s)
	case Latin1:
		out := make([]byte, 0, len(s))
		for _, r := range s {
			// Code points above U+00FF truncate to their low byte.
			out = append(out, byte(r))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown encoding: %s", enc)
}
