package transform

import (
	"fmt"
	"regexp"
	"strings"
)

// jsxOptions selects the factory calls the lowering emits.
type jsxOptions struct {
	Pragma   string // element factory, e.g. React.createElement
	Fragment string // fragment symbol, e.g. React.Fragment
}

func defaultJSXOptions() jsxOptions {
	return jsxOptions{Pragma: "React.createElement", Fragment: "React.Fragment"}
}

// convertJSX lowers XML-like element syntax into factory calls. The second
// return reports whether anything changed.
func convertJSX(src string, opts jsxOptions) (string, bool, error) {
	if !strings.Contains(src, "<") {
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
			if src[i] != '<' || !jsxCanStart(src, i) {
				i++
				continue
			}
			p := &jsxParser{src: src, pos: i, opts: opts}
			compiled, err := p.parseElement()
			if err != nil {
				return "", false, fmt.Errorf("at offset %d: %w", i, err)
			}
			out.WriteString(src[copied:i])
			out.WriteString(compiled)
			copied = p.pos
			i = p.pos
			changed = true
		}
	}
	if !changed {
		return src, false, nil
	}
	out.WriteString(src[copied:])
	return out.String(), true, nil
}

// jsxCanStart decides whether '<' at offset opens an element rather than a
// comparison: the preceding significant byte must put us in expression
// position, and the following byte must open a tag name or fragment.
func jsxCanStart(src string, offset int) bool {
	if offset+1 >= len(src) {
		return false
	}
	next := src[offset+1]
	if next != '>' && !isIdentStart(next) {
		return false
	}
	for j := offset - 1; j >= 0; j-- {
		c := src[j]
		if c == ' ' || c == '\t' {
			continue
		}
		switch c {
		case '(', ',', '=', ':', '[', '?', '{', ';', '&', '|', '>', '\n', '\r':
			return true
		}
		// return / yield / case / default / do keywords also open
		// expression position.
		if isIdentChar(c) {
			end := j + 1
			start := j
			for start > 0 && isIdentChar(src[start-1]) {
				start--
			}
			switch src[start:end] {
			case "return", "yield", "case", "default", "do", "typeof", "in", "of", "await":
				return true
			}
		}
		return false
	}
	return true
}

type jsxParser struct {
	src  string
	pos  int
	opts jsxOptions
}

func (p *jsxParser) error(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func (p *jsxParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *jsxParser) skipSpace() {
	for p.pos < len(p.src) && isSpace(p.src[p.pos]) {
		p.pos++
	}
}

// tagName reads a possibly dotted tag name (Foo, foo-bar, Foo.Bar).
func (p *jsxParser) tagName() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if isIdentChar(c) || c == '.' || c == '-' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

// parseElement compiles one element starting at '<'.
func (p *jsxParser) parseElement() (string, error) {
	if p.peek() != '<' {
		return "", p.error("expected '<'")
	}
	p.pos++

	// Fragment: <>children</>
	if p.peek() == '>' {
		p.pos++
		children, err := p.parseChildren("")
		if err != nil {
			return "", err
		}
		return p.call(p.opts.Fragment, "null", children), nil
	}

	name := p.tagName()
	if name == "" {
		return "", p.error("expected tag name")
	}

	props, err := p.parseAttributes()
	if err != nil {
		return "", err
	}

	p.skipSpace()
	if p.peek() == '/' {
		p.pos++
		if p.peek() != '>' {
			return "", p.error("expected '>' after '/'")
		}
		p.pos++
		return p.call(elementRef(name), props, nil), nil
	}
	if p.peek() != '>' {
		return "", p.error("expected '>' closing tag %s", name)
	}
	p.pos++

	children, err := p.parseChildren(name)
	if err != nil {
		return "", err
	}
	return p.call(elementRef(name), props, children), nil
}

// elementRef renders a tag name as a factory argument: lowercase tags are
// intrinsic (string literals), capitalized and dotted tags are expressions.
func elementRef(name string) string {
	first := name[0]
	if first >= 'a' && first <= 'z' && !strings.Contains(name, ".") {
		return fmt.Sprintf("%q", name)
	}
	return name
}

func (p *jsxParser) call(ref, props string, children []string) string {
	args := []string{ref, props}
	args = append(args, children...)
	return p.opts.Pragma + "(" + strings.Join(args, ", ") + ")"
}

// parseAttributes compiles the attribute list into a props expression:
// "null" when empty, an object literal otherwise, with spread attributes
// rendered via Object.assign.
func (p *jsxParser) parseAttributes() (string, error) {
	var pairs []string
	var groups []string // alternating object literals and spread expressions

	flush := func() {
		if len(pairs) > 0 {
			groups = append(groups, "{ "+strings.Join(pairs, ", ")+" }")
			pairs = nil
		}
	}

	for {
		p.skipSpace()
		c := p.peek()
		if c == 0 {
			return "", p.error("unterminated attribute list")
		}
		if c == '/' || c == '>' {
			break
		}

		if c == '{' {
			// {...spread}
			expr, err := p.braceExpression()
			if err != nil {
				return "", err
			}
			inner := strings.TrimSpace(expr)
			if !strings.HasPrefix(inner, "...") {
				return "", p.error("expected spread attribute")
			}
			flush()
			groups = append(groups, "("+strings.TrimPrefix(inner, "...")+")")
			continue
		}

		if !isIdentStart(c) {
			return "", p.error("unexpected attribute character %q", string(c))
		}
		name := p.attributeName()
		p.skipSpace()
		if p.peek() != '=' {
			pairs = append(pairs, fmt.Sprintf("%q: true", name))
			continue
		}
		p.pos++
		p.skipSpace()
		switch p.peek() {
		case '"', '\'':
			lit, err := p.stringLiteral()
			if err != nil {
				return "", err
			}
			pairs = append(pairs, fmt.Sprintf("%q: %s", name, lit))
		case '{':
			expr, err := p.braceExpression()
			if err != nil {
				return "", err
			}
			compiled, _, err := convertJSX(expr, p.opts)
			if err != nil {
				return "", err
			}
			pairs = append(pairs, fmt.Sprintf("%q: (%s)", name, strings.TrimSpace(compiled)))
		case '<':
			inner, err := p.parseElement()
			if err != nil {
				return "", err
			}
			pairs = append(pairs, fmt.Sprintf("%q: %s", name, inner))
		default:
			return "", p.error("expected attribute value for %s", name)
		}
	}

	flush()
	switch len(groups) {
	case 0:
		return "null", nil
	case 1:
		return groups[0], nil
	default:
		return "Object.assign({}, " + strings.Join(groups, ", ") + ")", nil
	}
}

func (p *jsxParser) attributeName() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if isIdentChar(c) || c == '-' || c == ':' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

// stringLiteral consumes a quoted attribute value, returning it as a JS
// string literal.
func (p *jsxParser) stringLiteral() (string, error) {
	quote := p.peek()
	i := p.pos + 1
	for i < len(p.src) && p.src[i] != quote {
		i++
	}
	if i >= len(p.src) {
		return "", p.error("unterminated attribute string")
	}
	value := p.src[p.pos+1 : i]
	p.pos = i + 1
	return fmt.Sprintf("%q", value), nil
}

// braceExpression consumes "{ expr }" and returns the inner expression
// text, brace-balanced and string-aware.
func (p *jsxParser) braceExpression() (string, error) {
	if p.peek() != '{' {
		return "", p.error("expected '{'")
	}
	start := p.pos + 1
	mp := &miniParser{src: p.src, pos: p.pos}
	end, err := mp.matchBraces()
	if err != nil {
		return "", err
	}
	p.pos = end
	return p.src[start : end-1], nil
}

// parseChildren compiles element children until the matching close tag.
func (p *jsxParser) parseChildren(name string) ([]string, error) {
	var children []string
	textStart := p.pos

	flushText := func(end int) {
		text := collapseJSXText(p.src[textStart:end])
		if text != "" {
			children = append(children, fmt.Sprintf("%q", text))
		}
	}

	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch c {
		case '<':
			flushText(p.pos)
			if p.pos+1 < len(p.src) && p.src[p.pos+1] == '/' {
				// Close tag.
				p.pos += 2
				closing := p.tagName()
				p.skipSpace()
				if p.peek() != '>' {
					return nil, p.error("malformed close tag")
				}
				p.pos++
				if closing != name {
					return nil, p.error("mismatched close tag: <%s> closed by </%s>", name, closing)
				}
				return children, nil
			}
			child, err := p.parseElement()
			if err != nil {
				return nil, err
			}
			children = append(children, child)
			textStart = p.pos
		case '{':
			flushText(p.pos)
			expr, err := p.braceExpression()
			if err != nil {
				return nil, err
			}
			trimmed := strings.TrimSpace(expr)
			if trimmed != "" && !strings.HasPrefix(trimmed, "/*") {
				compiled, _, err := convertJSX(expr, p.opts)
				if err != nil {
					return nil, err
				}
				children = append(children, "("+strings.TrimSpace(compiled)+")")
			}
			textStart = p.pos
		default:
			p.pos++
		}
	}
	return nil, p.error("missing close tag for <%s>", name)
}

// collapseJSXText applies the conventional whitespace rules: interior runs
// of whitespace collapse to one space, and whitespace-only text (or text
// reduced to line breaks) disappears.
func collapseJSXText(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	joined := strings.Join(fields, " ")
	if !strings.HasPrefix(text, "\n") && len(text) > 0 && isSpace(text[0]) {
		joined = " " + joined
	}
	if !strings.HasSuffix(text, "\n") && len(text) > 0 && isSpace(text[len(text)-1]) {
		joined += " "
	}
	return joined
}

// fallbackJSX handles only self-closing childless tags, the conservative
// subset a regular expression can rewrite safely.
var reSelfClosing = regexp.MustCompile(`<([A-Za-z][\w.]*)\s*/>`)

func fallbackJSX(src string, opts jsxOptions) (string, bool) {
	changed := false
	out := reSelfClosing.ReplaceAllStringFunc(src, func(m string) string {
		sub := reSelfClosing.FindStringSubmatch(m)
		changed = true
		return opts.Pragma + "(" + elementRef(sub[1]) + ", null)"
	})
	return out, changed
}
