package transform

import "strings"

// Imports collects the module specifiers a source file references through
// static import/export declarations, dynamic imports, and require calls.
// Specifiers inside strings and comments are ignored; order follows first
// appearance.
func Imports(src string) []string {
	var specs []string
	seen := make(map[string]bool)
	add := func(spec string) {
		if spec != "" && !seen[spec] {
			seen[spec] = true
			specs = append(specs, spec)
		}
	}

	segs := scanSegments(src)
	consumed := 0
	for _, seg := range segs {
		if seg.kind != segCode {
			continue
		}
		i := seg.start
		if i < consumed {
			i = consumed
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
			switch src[start:i] {
			case "import", "export":
				if s, e, ok := declarationSpecifier(src, i); ok && s >= consumed {
					add(src[s:e])
					consumed = e
					i = e
				}
			case "require":
				p := &miniParser{src: src, pos: i}
				p.skipSpace()
				if p.peek() != '(' {
					continue
				}
				p.pos++
				spec, err := p.stringLit()
				if err != nil {
					continue
				}
				p.skipSpace()
				if p.peek() == ')' {
					add(spec)
					consumed = p.pos
					i = p.pos
				}
			}
		}
	}
	return specs
}

// RelativeImports filters Imports down to specifiers resolved against the
// importing file (./ and ../ forms).
func RelativeImports(src string) []string {
	var out []string
	for _, spec := range Imports(src) {
		if strings.HasPrefix(spec, ".") {
			out = append(out, spec)
		}
	}
	return out
}
