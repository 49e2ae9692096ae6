package transform

import (
	"fmt"
	"strings"
)

// miniParser is a cursor over source text used to pick apart import/export
// declarations and locate statement boundaries. It understands just enough
// lexical structure (strings, comments, nesting) to stay out of trouble;
// anything it cannot parse surfaces as an error and triggers the caller's
// fallback strategy.
type miniParser struct {
	src string
	pos int
}

func (p *miniParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *miniParser) skipSpace() {
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if isSpace(c) {
			p.pos++
			continue
		}
		if c == '/' && p.pos+1 < len(p.src) {
			if p.src[p.pos+1] == '/' {
				for p.pos < len(p.src) && p.src[p.pos] != '\n' {
					p.pos++
				}
				continue
			}
			if p.src[p.pos+1] == '*' {
				end := strings.Index(p.src[p.pos+2:], "*/")
				if end < 0 {
					p.pos = len(p.src)
					return
				}
				p.pos += 2 + end + 2
				continue
			}
		}
		return
	}
}

// peekIdent returns the identifier at the cursor without consuming it.
func (p *miniParser) peekIdent() string {
	p.skipSpace()
	i := p.pos
	if i >= len(p.src) || !isIdentStart(p.src[i]) {
		return ""
	}
	for i < len(p.src) && isIdentChar(p.src[i]) {
		i++
	}
	return p.src[p.pos:i]
}

func (p *miniParser) peekWord(w string) bool {
	return p.peekIdent() == w
}

// ident consumes and returns an identifier, or "" when none is present.
func (p *miniParser) ident() string {
	word := p.peekIdent()
	p.pos += len(word)
	return word
}

func (p *miniParser) expectWord(w string) error {
	if !p.peekWord(w) {
		return fmt.Errorf("expected %q at offset %d", w, p.pos)
	}
	p.pos += len(w)
	return nil
}

// expectWordUnchecked consumes a word the caller has already peeked.
func (p *miniParser) expectWordUnchecked(w string) {
	p.skipSpace()
	p.pos += len(w)
}

// stringLit consumes a quoted string literal and returns its raw contents.
func (p *miniParser) stringLit() (string, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return "", fmt.Errorf("expected string literal at end of input")
	}
	quote := p.src[p.pos]
	if quote != '\'' && quote != '"' {
		return "", fmt.Errorf("expected string literal at offset %d", p.pos)
	}
	i := p.pos + 1
	for i < len(p.src) && p.src[i] != quote {
		if p.src[i] == '\\' {
			i++
		}
		i++
	}
	if i >= len(p.src) {
		return "", fmt.Errorf("unterminated string literal at offset %d", p.pos)
	}
	value := p.src[p.pos+1 : i]
	p.pos = i + 1
	return value, nil
}

// braceList parses "{ a, b as c }" binding lists.
func (p *miniParser) braceList() ([]bindingPair, error) {
	p.skipSpace()
	if p.peek() != '{' {
		return nil, fmt.Errorf("expected '{' at offset %d", p.pos)
	}
	p.pos++
	var list []bindingPair
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return list, nil
		}
		name := p.ident()
		if name == "" {
			return nil, fmt.Errorf("expected binding name at offset %d", p.pos)
		}
		alias := name
		if p.peekWord("as") {
			p.expectWordUnchecked("as")
			alias = p.ident()
			if alias == "" {
				return nil, fmt.Errorf("expected alias at offset %d", p.pos)
			}
		}
		list = append(list, bindingPair{name: name, alias: alias})
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
		}
	}
}

func (p *miniParser) consumeSemicolon() {
	p.skipSpace()
	if p.peek() == ';' {
		p.pos++
	}
}

// skipNonCode advances past a string, template, or comment starting at the
// cursor, returning whether anything was skipped.
func (p *miniParser) skipNonCode() bool {
	c := p.peek()
	switch c {
	case '\'', '"', '`':
		quote := c
		p.pos++
		for p.pos < len(p.src) && p.src[p.pos] != quote {
			if p.src[p.pos] == '\\' {
				p.pos++
			}
			p.pos++
		}
		if p.pos < len(p.src) {
			p.pos++
		}
		return true
	case '/':
		if p.pos+1 < len(p.src) && (p.src[p.pos+1] == '/' || p.src[p.pos+1] == '*') {
			p.skipSpace()
			return true
		}
	}
	return false
}

// statementEnd scans from the cursor to the end of the current statement: a
// semicolon at nesting depth zero, or a newline at depth zero as the
// automatic-semicolon approximation. Returns the offset just past the
// terminator (past the semicolon, at the newline).
func (p *miniParser) statementEnd() (int, error) {
	depth := 0
	for p.pos < len(p.src) {
		if p.skipNonCode() {
			continue
		}
		switch p.src[p.pos] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ';':
			if depth == 0 {
				return p.pos + 1, nil
			}
		case '\n':
			if depth == 0 {
				return p.pos, nil
			}
		}
		p.pos++
	}
	if depth == 0 {
		return p.pos, nil
	}
	return 0, fmt.Errorf("unbalanced statement")
}

// bodyEnd scans to the end of a function or class declaration: past any
// parameter list or heritage clause to the first top-level '{', then past
// its matching close brace.
func (p *miniParser) bodyEnd() (int, error) {
	depth := 0
	for p.pos < len(p.src) {
		if p.skipNonCode() {
			continue
		}
		c := p.src[p.pos]
		if c == '(' || c == '[' {
			depth++
		} else if c == ')' || c == ']' {
			depth--
		} else if c == '{' && depth == 0 {
			return p.matchBraces()
		}
		p.pos++
	}
	return 0, fmt.Errorf("missing declaration body")
}

// matchBraces consumes a brace-balanced block starting at the cursor (which
// must point at '{') and returns the offset just past the closing brace.
func (p *miniParser) matchBraces() (int, error) {
	depth := 0
	for p.pos < len(p.src) {
		if p.skipNonCode() {
			continue
		}
		switch p.src[p.pos] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				p.pos++
				return p.pos, nil
			}
		}
		p.pos++
	}
	return 0, fmt.Errorf("unbalanced braces")
}

// declaredNames collects the simple identifier bindings of a const/let/var
// declaration without moving the cursor. Destructuring patterns are
// rejected, which routes the declaration to the fallback strategy.
func (p *miniParser) declaredNames() ([]string, error) {
	save := p.pos
	defer func() { p.pos = save }()

	var names []string
	for {
		p.skipSpace()
		if p.peek() == '{' || p.peek() == '[' {
			return nil, fmt.Errorf("destructuring export binding at offset %d", p.pos)
		}
		name := p.ident()
		if name == "" {
			return nil, fmt.Errorf("expected binding name at offset %d", p.pos)
		}
		names = append(names, name)

		// Skip the initializer to the next top-level comma or terminator.
		depth := 0
	scan:
		for p.pos < len(p.src) {
			if p.skipNonCode() {
				continue
			}
			switch p.src[p.pos] {
			case '(', '[', '{':
				depth++
			case ')', ']', '}':
				depth--
			case ',':
				if depth == 0 {
					p.pos++
					break scan
				}
			case ';', '\n':
				if depth == 0 {
					return names, nil
				}
			}
			p.pos++
		}
		if p.pos >= len(p.src) {
			return names, nil
		}
	}
}
