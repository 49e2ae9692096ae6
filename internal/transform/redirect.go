package transform

import (
	"regexp"
	"strings"
)

// redirectImports rewrites bare module specifiers in import/export
// declarations (and dynamic import calls) to the registry proxy endpoint,
// embedding the resolved major version when the dependency constraint is
// known. Specifiers inside ordinary string literals and comments are never
// touched.
func redirectImports(src, base string, deps map[string]string) (string, bool, error) {
	if base == "" {
		return src, false, nil
	}

	var out strings.Builder
	copied := 0
	changed := false
	segs := scanSegments(src)

	for _, seg := range segs {
		if seg.kind != segCode {
			continue
		}
		i := seg.start
		if i < copied {
			i = copied
		}
		for i < seg.end {
			if !isIdentStart(src[i]) {
				i++
				continue
			}
			start := i
			for i < seg.end && isIdentChar(src[i]) {
				i++
			}
			word := src[start:i]
			if word != "import" && word != "export" {
				continue
			}

			specStart, specEnd, ok := declarationSpecifier(src, i)
			if !ok || specStart < copied {
				continue
			}
			spec := src[specStart:specEnd]
			redirected, did := redirectSpecifier(spec, base, deps)
			if did {
				out.WriteString(src[copied:specStart])
				out.WriteString(redirected)
				copied = specEnd
				changed = true
			}
			i = specEnd
		}
	}
	if !changed {
		return src, false, nil
	}
	out.WriteString(src[copied:])
	return out.String(), true, nil
}

// declarationSpecifier finds the module specifier of the declaration whose
// keyword just ended at offset: the string after a "from" clause, directly
// after "import", or inside a dynamic import call. Returns the contents
// bounds (quotes excluded).
func declarationSpecifier(src string, offset int) (int, int, bool) {
	p := &miniParser{src: src, pos: offset}
	sawFrom := false
	direct := true // a string directly after the keyword is a specifier
	first := true  // nothing consumed since the keyword yet

	for p.pos < len(p.src) {
		p.skipSpace()
		c := p.peek()
		switch {
		case c == 0:
			return 0, 0, false
		case c == ';' || c == '\n':
			return 0, 0, false
		case c == '\'' || c == '"':
			if sawFrom || direct {
				start := p.pos + 1
				if _, err := p.stringLit(); err != nil {
					return 0, 0, false
				}
				return start, p.pos - 1, true
			}
			return 0, 0, false
		case c == '(':
			// Only a paren directly after the keyword is a dynamic import;
			// any later one means we are inside ordinary code.
			if !first {
				return 0, 0, false
			}
			p.pos++
			direct = true
			first = false
			continue
		case isIdentStart(c):
			word := p.ident()
			sawFrom = word == "from"
			direct = false
			first = false
			continue
		}
		direct = false
		first = false
		p.pos++
	}
	return 0, 0, false
}

// redirectSpecifier maps a bare specifier to the proxy endpoint. Relative,
// absolute, and already-redirected specifiers pass through.
func redirectSpecifier(spec, base string, deps map[string]string) (string, bool) {
	if spec == "" ||
		strings.HasPrefix(spec, ".") ||
		strings.HasPrefix(spec, "/") ||
		strings.HasPrefix(spec, "http:") ||
		strings.HasPrefix(spec, "https:") ||
		strings.HasPrefix(spec, base) {
		return spec, false
	}

	name, subpath := splitBareSpecifier(spec)
	target := strings.TrimRight(base, "/") + "/" + name
	if major, ok := majorOf(deps[name]); ok {
		target += "@" + major
	}
	if subpath != "" {
		target += "/" + subpath
	}
	return target, true
}

// splitBareSpecifier separates package name from subpath, keeping scoped
// prefixes with the name.
func splitBareSpecifier(spec string) (name, subpath string) {
	parts := strings.SplitN(spec, "/", 3)
	if strings.HasPrefix(spec, "@") {
		if len(parts) < 2 {
			return spec, ""
		}
		name = parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			subpath = parts[2]
		}
		return name, subpath
	}
	name = parts[0]
	if len(parts) > 1 {
		subpath = strings.Join(parts[1:], "/")
	}
	return name, subpath
}

var reMajor = regexp.MustCompile(`(\d+)`)

// majorOf extracts the major version from a declared range like "^18.2.0".
func majorOf(rng string) (string, bool) {
	if rng == "" {
		return "", false
	}
	m := reMajor.FindStringSubmatch(rng)
	if m == nil {
		return "", false
	}
	return m[1], true
}

var reFromSpecifier = regexp.MustCompile(`(\bfrom\s*['"])([^'"./][^'"]*)(['"])`)

// fallbackRedirect rewrites only from-clause specifiers, the subset a
// regular expression can find without risking string literals elsewhere.
func fallbackRedirect(src, base string, deps map[string]string) (string, bool) {
	changed := false
	out := reFromSpecifier.ReplaceAllStringFunc(src, func(m string) string {
		sub := reFromSpecifier.FindStringSubmatch(m)
		redirected, did := redirectSpecifier(sub[2], base, deps)
		if !did {
			return m
		}
		changed = true
		return sub[1] + redirected + sub[3]
	})
	return out, changed
}
