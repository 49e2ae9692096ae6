package transform

// segKind classifies a source span for the passes that must never rewrite
// inside strings or comments.
type segKind int

const (
	segCode segKind = iota
	segString
	segTemplate
	segComment
	segRegex
)

type segment struct {
	start int
	end   int // exclusive
	kind  segKind
}

// scanSegments splits source into code and non-code spans. Template
// literals are treated as a single non-code span, interpolations included,
// which is conservative but safe for specifier rewriting.
func scanSegments(src string) []segment {
	var segs []segment
	n := len(src)
	codeStart := 0

	flushCode := func(end int) {
		if end > codeStart {
			segs = append(segs, segment{start: codeStart, end: end, kind: segCode})
		}
	}

	i := 0
	var lastCode byte
	for i < n {
		c := src[i]
		switch c {
		case '\'', '"':
			flushCode(i)
			start := i
			quote := c
			i++
			for i < n && src[i] != quote {
				if src[i] == '\\' {
					i++
				}
				i++
			}
			if i < n {
				i++
			}
			segs = append(segs, segment{start: start, end: i, kind: segString})
			codeStart = i
			lastCode = quote
			continue

		case '`':
			flushCode(i)
			start := i
			i++
			depth := 0
			for i < n {
				if src[i] == '\\' {
					i += 2
					continue
				}
				if src[i] == '`' && depth == 0 {
					i++
					break
				}
				if src[i] == '$' && i+1 < n && src[i+1] == '{' {
					depth++
					i += 2
					continue
				}
				if src[i] == '}' && depth > 0 {
					depth--
				}
				i++
			}
			segs = append(segs, segment{start: start, end: i, kind: segTemplate})
			codeStart = i
			lastCode = '`'
			continue

		case '/':
			if i+1 < n && src[i+1] == '/' {
				flushCode(i)
				start := i
				for i < n && src[i] != '\n' {
					i++
				}
				segs = append(segs, segment{start: start, end: i, kind: segComment})
				codeStart = i
				continue
			}
			if i+1 < n && src[i+1] == '*' {
				flushCode(i)
				start := i
				i += 2
				for i+1 < n && !(src[i] == '*' && src[i+1] == '/') {
					i++
				}
				if i+1 < n {
					i += 2
				} else {
					i = n
				}
				segs = append(segs, segment{start: start, end: i, kind: segComment})
				codeStart = i
				continue
			}
			if regexCanFollow(lastCode) {
				flushCode(i)
				start := i
				i++
				inClass := false
				for i < n {
					if src[i] == '\\' {
						i += 2
						continue
					}
					if src[i] == '[' {
						inClass = true
					} else if src[i] == ']' {
						inClass = false
					} else if src[i] == '/' && !inClass {
						i++
						break
					} else if src[i] == '\n' {
						break
					}
					i++
				}
				for i < n && isIdentChar(src[i]) { // flags
					i++
				}
				segs = append(segs, segment{start: start, end: i, kind: segRegex})
				codeStart = i
				lastCode = '/'
				continue
			}
		}
		if !isSpace(c) {
			lastCode = c
		}
		i++
	}
	flushCode(n)
	return segs
}

// regexCanFollow reports whether a '/' after the given last significant
// code byte starts a regex literal rather than a division.
func regexCanFollow(last byte) bool {
	switch last {
	case 0, '(', ',', '=', ':', '[', '!', '&', '|', '?', '{', '}', ';', '\n', '<', '>', '+', '-', '*', '%', '~', '^':
		return true
	}
	return false
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// codeIndex reports whether offset lies inside a code segment.
func codeIndex(segs []segment, offset int) bool {
	for _, s := range segs {
		if offset >= s.start && offset < s.end {
			return s.kind == segCode
		}
	}
	return false
}
