package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja/parser"
)

const (
	helperDefault = "function __glassbox_default(m) { return m && m.__esModule ? m.default : m; }\n"
	helperImport  = "function __glassbox_import(s) { return Promise.resolve(require(s)); }\n"
	helperESMMark = "Object.defineProperty(exports, \"__esModule\", { value: true });\n"
)

// convertESM rewrites static import/export declarations into the
// synchronous require/exports convention. The second return reports whether
// anything changed; running the pass on its own output is a no-op.
func convertESM(src string) (string, bool, error) {
	c := &esmConverter{src: src, segs: scanSegments(src)}
	out, changed, err := c.run()
	if err != nil {
		return "", false, err
	}
	if !changed {
		return src, false, nil
	}
	// The output must be plain script syntax; anything else means the
	// conversion went wrong and the caller should fall back.
	if _, err := parser.ParseFile(nil, "", out, 0); err != nil {
		return "", false, fmt.Errorf("converted source does not parse: %w", err)
	}
	return out, true, nil
}

type esmConverter struct {
	src  string
	segs []segment

	out      strings.Builder
	copied   int
	counter  int
	exported bool

	needDefault bool
	needImport  bool
	needMeta    bool
}

func (c *esmConverter) run() (string, bool, error) {
	changed := false
	for _, seg := range c.segs {
		if seg.kind != segCode {
			continue
		}
		i := seg.start
		for i < seg.end {
			if !isIdentStart(c.src[i]) {
				i++
				continue
			}
			start := i
			for i < seg.end && isIdentChar(c.src[i]) {
				i++
			}
			word := c.src[start:i]
			if word != "import" && word != "export" {
				continue
			}
			if start < c.copied {
				continue
			}
			// Dynamic import and import.meta appear mid-expression; only
			// declarations are constrained to statement position.
			dynamic := word == "import" && (c.nextSignificant(i) == '(' || c.nextSignificant(i) == '.')
			if !dynamic && !c.atStatementStart(start) {
				continue
			}
			end, err := c.rewriteDeclaration(word, start, i)
			if err != nil {
				return "", false, err
			}
			if end > 0 {
				changed = true
				i = end
			}
		}
	}
	if !changed {
		return c.src, false, nil
	}
	c.out.WriteString(c.src[c.copied:])

	prelude := ""
	if c.exported {
		prelude += helperESMMark
	}
	if c.needDefault {
		prelude += helperDefault
	}
	if c.needImport {
		prelude += helperImport
	}
	if c.needMeta {
		prelude += "const __glassbox_import_meta = { url: __filename, hot: module.hot };\n"
	}
	return prelude + c.out.String(), true, nil
}

// nextSignificant returns the first non-whitespace byte at or after offset.
func (c *esmConverter) nextSignificant(offset int) byte {
	for j := offset; j < len(c.src); j++ {
		if !isSpace(c.src[j]) {
			return c.src[j]
		}
	}
	return 0
}

// atStatementStart reports whether offset begins a statement: preceded only
// by whitespace back to the file start, a semicolon, or a brace/newline.
func (c *esmConverter) atStatementStart(offset int) bool {
	for j := offset - 1; j >= 0; j-- {
		ch := c.src[j]
		if ch == ' ' || ch == '\t' {
			continue
		}
		return ch == '\n' || ch == ';' || ch == '{' || ch == '}'
	}
	return true
}

// emit copies source up to from, then writes the replacement text and marks
// everything up to to as consumed.
func (c *esmConverter) emit(from, to int, replacement string) {
	c.out.WriteString(c.src[c.copied:from])
	c.out.WriteString(replacement)
	c.copied = to
}

func (c *esmConverter) nextVar() string {
	c.counter++
	return fmt.Sprintf("__glassbox_mod_%d", c.counter)
}

// rewriteDeclaration handles one import/export declaration starting at
// declStart (keyword already consumed, cursor at afterKeyword). Returns the
// end offset of the consumed declaration, or 0 when left untouched.
func (c *esmConverter) rewriteDeclaration(word string, declStart, afterKeyword int) (int, error) {
	p := &miniParser{src: c.src, pos: afterKeyword}
	p.skipSpace()

	if word == "import" {
		switch {
		case p.peek() == '(':
			c.emit(declStart, afterKeyword, "__glassbox_import")
			c.needImport = true
			return afterKeyword, nil
		case p.peek() == '.':
			end := afterKeyword + len(".meta")
			if strings.HasPrefix(c.src[afterKeyword:], ".meta") {
				c.emit(declStart, end, "__glassbox_import_meta")
				c.needMeta = true
				return end, nil
			}
			return 0, fmt.Errorf("unexpected token after import at offset %d", afterKeyword)
		}
		return c.rewriteImport(declStart, p)
	}
	return c.rewriteExport(declStart, p)
}

func (c *esmConverter) rewriteImport(declStart int, p *miniParser) (int, error) {
	var defaultName, namespaceName string
	var named []bindingPair

	switch {
	case p.peek() == '\'' || p.peek() == '"':
		spec, err := p.stringLit()
		if err != nil {
			return 0, err
		}
		p.consumeSemicolon()
		c.emit(declStart, p.pos, fmt.Sprintf("require(%q);", spec))
		return p.pos, nil

	case p.peek() == '{':
		list, err := p.braceList()
		if err != nil {
			return 0, err
		}
		named = list

	case p.peek() == '*':
		p.pos++
		if err := p.expectWord("as"); err != nil {
			return 0, err
		}
		namespaceName = p.ident()

	default:
		defaultName = p.ident()
		if defaultName == "" {
			return 0, fmt.Errorf("import: expected binding at offset %d", p.pos)
		}
		p.skipSpace()
		if p.peek() == ',' {
			p.pos++
			p.skipSpace()
			if p.peek() == '{' {
				list, err := p.braceList()
				if err != nil {
					return 0, err
				}
				named = list
			} else if p.peek() == '*' {
				p.pos++
				if err := p.expectWord("as"); err != nil {
					return 0, err
				}
				namespaceName = p.ident()
			}
		}
	}

	if err := p.expectWord("from"); err != nil {
		return 0, err
	}
	spec, err := p.stringLit()
	if err != nil {
		return 0, err
	}
	p.consumeSemicolon()

	req := fmt.Sprintf("require(%q)", spec)
	var b strings.Builder
	switch {
	case namespaceName != "" && defaultName != "":
		fmt.Fprintf(&b, "const %s = %s; const %s = __glassbox_default(%s);",
			namespaceName, req, defaultName, namespaceName)
		c.needDefault = true
	case namespaceName != "":
		fmt.Fprintf(&b, "const %s = %s;", namespaceName, req)
	case defaultName != "" && len(named) > 0:
		tmp := c.nextVar()
		fmt.Fprintf(&b, "const %s = %s; const %s = __glassbox_default(%s); const %s = %s;",
			tmp, req, defaultName, tmp, destructure(named), tmp)
		c.needDefault = true
	case defaultName != "":
		fmt.Fprintf(&b, "const %s = __glassbox_default(%s);", defaultName, req)
		c.needDefault = true
	case len(named) > 0:
		fmt.Fprintf(&b, "const %s = %s;", destructure(named), req)
	default:
		fmt.Fprintf(&b, "%s;", req)
	}

	c.emit(declStart, p.pos, b.String())
	return p.pos, nil
}

func (c *esmConverter) rewriteExport(declStart int, p *miniParser) (int, error) {
	c.exported = true

	switch {
	case p.peekWord("default"):
		p.expectWordUnchecked("default")
		return c.rewriteExportDefault(declStart, p)

	case p.peek() == '{':
		list, err := p.braceList()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.peekWord("from") {
			p.expectWordUnchecked("from")
			spec, err := p.stringLit()
			if err != nil {
				return 0, err
			}
			p.consumeSemicolon()
			tmp := c.nextVar()
			var b strings.Builder
			fmt.Fprintf(&b, "const %s = require(%q);", tmp, spec)
			for _, pair := range list {
				fmt.Fprintf(&b, " exports.%s = %s.%s;", pair.alias, tmp, pair.name)
			}
			c.emit(declStart, p.pos, b.String())
			return p.pos, nil
		}
		p.consumeSemicolon()
		var b strings.Builder
		for i, pair := range list {
			if i > 0 {
				b.WriteString(" ")
			}
			fmt.Fprintf(&b, "exports.%s = %s;", pair.alias, pair.name)
		}
		c.emit(declStart, p.pos, b.String())
		return p.pos, nil

	case p.peek() == '*':
		p.pos++
		p.skipSpace()
		alias := ""
		if p.peekWord("as") {
			p.expectWordUnchecked("as")
			alias = p.ident()
		}
		if err := p.expectWord("from"); err != nil {
			return 0, err
		}
		spec, err := p.stringLit()
		if err != nil {
			return 0, err
		}
		p.consumeSemicolon()
		tmp := c.nextVar()
		var b strings.Builder
		if alias != "" {
			fmt.Fprintf(&b, "exports.%s = require(%q);", alias, spec)
		} else {
			fmt.Fprintf(&b, "const %s = require(%q); ", tmp, spec)
			fmt.Fprintf(&b, "Object.keys(%s).forEach(function(k) { if (k !== 'default' && k !== '__esModule') exports[k] = %s[k]; });", tmp, tmp)
		}
		c.emit(declStart, p.pos, b.String())
		return p.pos, nil
	}

	// export <declaration>
	return c.rewriteExportDeclaration(declStart, p)
}

func (c *esmConverter) rewriteExportDefault(declStart int, p *miniParser) (int, error) {
	p.skipSpace()
	kwStart := p.pos
	kw := p.peekIdent()
	if kw == "async" {
		p.expectWordUnchecked("async")
		kw = p.peekIdent()
	}
	if kw == "function" || kw == "class" {
		p.expectWordUnchecked(kw)
		name := p.ident()
		if name != "" {
			// Named declaration: keep it, append the default assignment.
			end, err := p.bodyEnd()
			if err != nil {
				return 0, err
			}
			c.emit(declStart, kwStart, "")
			c.out.WriteString(c.src[kwStart:end])
			c.copied = end
			fmt.Fprintf(&c.out, "\nexports.default = %s;", name)
			return end, nil
		}
	}
	// Expression (or anonymous declaration): rewrite the prefix and let the
	// rest of the statement stand.
	c.emit(declStart, kwStart, "exports.default = ")
	return kwStart, nil
}

func (c *esmConverter) rewriteExportDeclaration(declStart int, p *miniParser) (int, error) {
	p.skipSpace()
	kwStart := p.pos
	kw := p.peekIdent()
	async := false
	if kw == "async" {
		p.expectWordUnchecked("async")
		async = true
		kw = p.peekIdent()
	}

	switch kw {
	case "function", "class":
		p.expectWordUnchecked(kw)
		name := p.ident()
		if name == "" {
			return 0, fmt.Errorf("export: anonymous %s declaration at offset %d", kw, kwStart)
		}
		end, err := p.bodyEnd()
		if err != nil {
			return 0, err
		}
		c.emit(declStart, kwStart, "")
		c.out.WriteString(c.src[kwStart:end])
		c.copied = end
		fmt.Fprintf(&c.out, "\nexports.%s = %s;", name, name)
		return end, nil

	case "const", "let", "var":
		if async {
			return 0, fmt.Errorf("export: unexpected async at offset %d", kwStart)
		}
		p.expectWordUnchecked(kw)
		names, err := p.declaredNames()
		if err != nil {
			return 0, err
		}
		end, err := p.statementEnd()
		if err != nil {
			return 0, err
		}
		c.emit(declStart, kwStart, "")
		c.out.WriteString(c.src[kwStart:end])
		c.copied = end
		for _, name := range names {
			fmt.Fprintf(&c.out, "\nexports.%s = %s;", name, name)
		}
		return end, nil
	}
	return 0, fmt.Errorf("export: unsupported declaration %q at offset %d", kw, kwStart)
}

type bindingPair struct {
	name  string // source name
	alias string // local/exported name
}

func destructure(pairs []bindingPair) string {
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		if p.name == p.alias {
			parts[i] = p.name
		} else {
			parts[i] = p.name + ": " + p.alias
		}
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// fallbackESM is the conservative line-oriented rendition used when the
// structural conversion fails. It handles the common single-line forms and
// leaves everything else alone.
func fallbackESM(src string) (string, bool) {
	changed := false
	lines := strings.Split(src, "\n")
	for i, line := range lines {
		rewritten, ok := fallbackESMLine(line)
		if ok {
			lines[i] = rewritten
			changed = true
		}
	}
	out := strings.Join(lines, "\n")
	if changed {
		out = helperDefault + helperESMMark + out
	}
	return out, changed
}

var (
	reImportDefault   = regexp.MustCompile(`^\s*import\s+([A-Za-z_$][\w$]*)\s+from\s+['"]([^'"]+)['"];?\s*$`)
	reImportNamed     = regexp.MustCompile(`^\s*import\s*\{([^}]*)\}\s*from\s+['"]([^'"]+)['"];?\s*$`)
	reImportNamespace = regexp.MustCompile(`^\s*import\s+\*\s+as\s+([A-Za-z_$][\w$]*)\s+from\s+['"]([^'"]+)['"];?\s*$`)
	reImportBare      = regexp.MustCompile(`^\s*import\s+['"]([^'"]+)['"];?\s*$`)
	reExportDefault   = regexp.MustCompile(`^\s*export\s+default\s+`)
	reExportDecl      = regexp.MustCompile(`^\s*export\s+(const|let|var|function|class|async)\b`)
	reExportList      = regexp.MustCompile(`^\s*export\s*\{([^}]*)\};?\s*$`)
	reAsBinding       = regexp.MustCompile(`^([A-Za-z_$][\w$]*)\s+as\s+([A-Za-z_$][\w$]*)$`)
)

func fallbackESMLine(line string) (string, bool) {
	if m := reImportDefault.FindStringSubmatch(line); m != nil {
		return fmt.Sprintf("const %s = __glassbox_default(require(%q));", m[1], m[2]), true
	}
	if m := reImportNamespace.FindStringSubmatch(line); m != nil {
		return fmt.Sprintf("const %s = require(%q);", m[1], m[2]), true
	}
	if m := reImportNamed.FindStringSubmatch(line); m != nil {
		return fmt.Sprintf("const { %s } = require(%q);", normalizeBindings(m[1]), m[2]), true
	}
	if m := reImportBare.FindStringSubmatch(line); m != nil {
		return fmt.Sprintf("require(%q);", m[1]), true
	}
	if reExportDefault.MatchString(line) {
		return reExportDefault.ReplaceAllString(line, "exports.default = "), true
	}
	if m := reExportList.FindStringSubmatch(line); m != nil {
		var b strings.Builder
		for _, field := range strings.Split(m[1], ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			if am := reAsBinding.FindStringSubmatch(field); am != nil {
				fmt.Fprintf(&b, "exports.%s = %s; ", am[2], am[1])
			} else {
				fmt.Fprintf(&b, "exports.%s = %s; ", field, field)
			}
		}
		return strings.TrimSpace(b.String()), true
	}
	if reExportDecl.MatchString(line) {
		return strings.Replace(line, "export ", "", 1), true
	}
	return line, false
}

// normalizeBindings converts "a as b" import-list syntax to "a: b".
func normalizeBindings(list string) string {
	fields := strings.Split(list, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if m := reAsBinding.FindStringSubmatch(field); m != nil {
			out = append(out, m[1]+": "+m[2])
		} else {
			out = append(out, field)
		}
	}
	return strings.Join(out, ", ")
}
