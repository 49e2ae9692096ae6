package vpath

import "strings"

// Separator is the only separator recognized by the virtual filesystem.
const Separator = "/"

// IsAbsolute reports whether the path starts at the root.
func IsAbsolute(p string) bool {
	return strings.HasPrefix(p, Separator)
}

// Normalize collapses "." and ".." segments and duplicate slashes.
// Leading ".." segments of a relative path are preserved; an absolute path
// can never escape above the root. The empty path normalizes to ".".
func Normalize(p string) string {
	if p == "" {
		return "."
	}

	absolute := IsAbsolute(p)
	trailing := strings.HasSuffix(p, Separator) && len(p) > 1

	var out []string
	for _, seg := range strings.Split(p, Separator) {
		switch seg {
		case "", ".":
			continue
		case "..":
			if n := len(out); n > 0 && out[n-1] != ".." {
				out = out[:n-1]
			} else if !absolute {
				out = append(out, "..")
			}
			// ".." at the root of an absolute path is dropped
		default:
			out = append(out, seg)
		}
	}

	joined := strings.Join(out, Separator)
	if absolute {
		joined = Separator + joined
	}
	if joined == "" {
		return "."
	}
	if trailing && !strings.HasSuffix(joined, Separator) {
		joined += Separator
	}
	return joined
}

// Join concatenates segments with the separator and normalizes the result.
// Empty segments are skipped; Join() with no arguments yields ".".
func Join(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return "."
	}
	return Normalize(strings.Join(nonEmpty, Separator))
}

// Resolve processes segments right to left until an absolute path is
// constructed, prepending cwd if none of the segments is absolute. The
// result is always absolute and normalized.
func Resolve(cwd string, parts ...string) string {
	resolved := ""
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		if p == "" {
			continue
		}
		if resolved == "" {
			resolved = p
		} else {
			resolved = p + Separator + resolved
		}
		if IsAbsolute(p) {
			return Normalize(resolved)
		}
	}
	if cwd == "" {
		cwd = Separator
	}
	if resolved == "" {
		return Normalize(cwd)
	}
	return Normalize(cwd + Separator + resolved)
}

// Dirname returns the path with its last segment removed.
func Dirname(p string) string {
	p = strings.TrimSuffix(p, Separator)
	if p == "" {
		return Separator
	}
	idx := strings.LastIndex(p, Separator)
	switch {
	case idx < 0:
		return "."
	case idx == 0:
		return Separator
	default:
		return p[:idx]
	}
}

// Basename returns the last segment of the path, optionally trimming a
// matching suffix (the emulated runtime's two-argument form).
func Basename(p string, suffix ...string) string {
	p = strings.TrimSuffix(p, Separator)
	if idx := strings.LastIndex(p, Separator); idx >= 0 {
		p = p[idx+1:]
	}
	if len(suffix) > 0 && suffix[0] != "" && suffix[0] != p && strings.HasSuffix(p, suffix[0]) {
		p = p[:len(p)-len(suffix[0])]
	}
	return p
}

// Extname returns the final extension including the dot, or "" when the
// basename has no dot or consists only of a leading dot.
func Extname(p string) string {
	base := Basename(p)
	idx := strings.LastIndex(base, ".")
	if idx <= 0 {
		return ""
	}
	return base[idx:]
}

// Relative computes the path from one absolute path to another.
func Relative(from, to string) string {
	from = Normalize(from)
	to = Normalize(to)
	if from == to {
		return ""
	}

	fromParts := splitClean(from)
	toParts := splitClean(to)

	common := 0
	for common < len(fromParts) && common < len(toParts) && fromParts[common] == toParts[common] {
		common++
	}

	var out []string
	for i := common; i < len(fromParts); i++ {
		out = append(out, "..")
	}
	out = append(out, toParts[common:]...)
	return strings.Join(out, Separator)
}

// Split returns the cleaned segments of a path, dropping empty entries.
func Split(p string) []string {
	return splitClean(Normalize(p))
}

func splitClean(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, Separator) {
		if seg != "" && seg != "." {
			out = append(out, seg)
		}
	}
	return out
}
