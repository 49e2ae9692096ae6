package transform

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/glassboxhq/glassbox/internal/shared/fingerprint"
)

// cssRule is one node of the parsed stylesheet tree: a selector (or
// at-rule prelude) with either declarations or nested rules.
type cssRule struct {
	selector     string
	declarations string
	children     []*cssRule
}

// moduleClasses rewrites each class selector in a stylesheet to a
// content-derived unique name and returns the rewritten sheet plus the
// original-to-scoped mapping.
func moduleClasses(src, path string) (string, map[string]string, error) {
	rules, err := parseCSS(src)
	if err != nil {
		return "", nil, err
	}

	suffix := fingerprint.Short(fingerprint.OfFields(path, src))
	mapping := make(map[string]string)
	var b strings.Builder
	for _, rule := range rules {
		writeScopedRule(&b, rule, suffix, mapping, 0)
	}
	return b.String(), mapping, nil
}

// parseCSS splits a stylesheet into a rule tree. At-rules with blocks
// (@media and friends) become parent nodes; parse errors abort the pass so
// the caller can fall back.
func parseCSS(src string) ([]*cssRule, error) {
	rules, rest, err := parseCSSBlock(src)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(rest) != "" {
		return nil, fmt.Errorf("trailing content in stylesheet: %q", strings.TrimSpace(rest)[:min(20, len(strings.TrimSpace(rest)))])
	}
	return rules, nil
}

func parseCSSBlock(src string) ([]*cssRule, string, error) {
	var rules []*cssRule
	for {
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "}") {
			return rules, src, nil
		}

		// Comment between rules.
		if strings.HasPrefix(src, "/*") {
			end := strings.Index(src, "*/")
			if end < 0 {
				return nil, "", fmt.Errorf("unterminated comment")
			}
			src = src[end+2:]
			continue
		}

		// Block-less at-rules (@import, @charset) end with a semicolon.
		if strings.HasPrefix(src, "@") {
			semi := strings.IndexByte(src, ';')
			brace := strings.IndexByte(src, '{')
			if semi >= 0 && (brace < 0 || semi < brace) {
				rules = append(rules, &cssRule{selector: strings.TrimSpace(src[:semi]), declarations: ""})
				src = src[semi+1:]
				continue
			}
		}

		brace := strings.IndexByte(src, '{')
		if brace < 0 {
			return nil, "", fmt.Errorf("selector without block: %q", src[:min(20, len(src))])
		}
		selector := strings.TrimSpace(src[:brace])
		body := src[brace+1:]

		if strings.HasPrefix(selector, "@") && atRuleNests(selector) {
			children, rest, err := parseCSSBlock(body)
			if err != nil {
				return nil, "", err
			}
			rest = strings.TrimSpace(rest)
			if !strings.HasPrefix(rest, "}") {
				return nil, "", fmt.Errorf("unterminated at-rule %q", selector)
			}
			rules = append(rules, &cssRule{selector: selector, children: children})
			src = rest[1:]
			continue
		}

		end := strings.IndexByte(body, '}')
		if end < 0 {
			return nil, "", fmt.Errorf("unterminated rule %q", selector)
		}
		rules = append(rules, &cssRule{selector: selector, declarations: strings.TrimSpace(body[:end])})
		src = body[end+1:]
	}
}

// atRuleNests reports whether an at-rule contains nested rules rather than
// declarations.
func atRuleNests(selector string) bool {
	for _, prefix := range []string{"@media", "@supports", "@layer", "@container"} {
		if strings.HasPrefix(selector, prefix) {
			return true
		}
	}
	return false
}

var reClassSelector = regexp.MustCompile(`\.([A-Za-z_][\w-]*)`)

func writeScopedRule(b *strings.Builder, rule *cssRule, suffix string, mapping map[string]string, depth int) {
	indent := strings.Repeat("  ", depth)
	if rule.children != nil {
		fmt.Fprintf(b, "%s%s {\n", indent, rule.selector)
		for _, child := range rule.children {
			writeScopedRule(b, child, suffix, mapping, depth+1)
		}
		fmt.Fprintf(b, "%s}\n", indent)
		return
	}
	if rule.declarations == "" && strings.HasPrefix(rule.selector, "@") {
		fmt.Fprintf(b, "%s%s;\n", indent, rule.selector)
		return
	}

	scoped := rule.selector
	if !strings.HasPrefix(rule.selector, "@") {
		scoped = reClassSelector.ReplaceAllStringFunc(rule.selector, func(m string) string {
			name := m[1:]
			replacement, ok := mapping[name]
			if !ok {
				replacement = name + "_" + suffix
				mapping[name] = replacement
			}
			return "." + replacement
		})
	}
	fmt.Fprintf(b, "%s%s { %s }\n", indent, scoped, rule.declarations)
}

// cssToModule compiles a stylesheet into a module that injects the scoped
// sheet and exports the name mapping. The esm flag selects export syntax
// for browser serving versus the require convention.
func cssToModule(src, path string, esm bool) (string, error) {
	scoped, mapping, err := moduleClasses(src, path)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "var __glassbox_css = %q;\n", scoped)
	b.WriteString("var __glassbox_styles = {")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "\n  %q: %q", name, mapping[name])
	}
	if len(names) > 0 {
		b.WriteString("\n")
	}
	b.WriteString("};\n")
	fmt.Fprintf(&b, "if (typeof __glassbox_injectStyle === 'function') __glassbox_injectStyle(__glassbox_css, %q);\n", path)
	if esm {
		b.WriteString("export default __glassbox_styles;\n")
		b.WriteString("export { __glassbox_css as css };\n")
	} else {
		b.WriteString("module.exports = __glassbox_styles;\n")
		b.WriteString("module.exports.default = __glassbox_styles;\n")
		b.WriteString("module.exports.css = __glassbox_css;\n")
	}
	return b.String(), nil
}

// fallbackCSS skips scoping entirely and exports an empty mapping with the
// raw sheet, so a stylesheet the parser cannot handle still loads.
func fallbackCSS(src, path string, esm bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "var __glassbox_css = %q;\n", src)
	b.WriteString("var __glassbox_styles = {};\n")
	fmt.Fprintf(&b, "if (typeof __glassbox_injectStyle === 'function') __glassbox_injectStyle(__glassbox_css, %q);\n", path)
	if esm {
		b.WriteString("export default __glassbox_styles;\n")
	} else {
		b.WriteString("module.exports = __glassbox_styles;\n")
	}
	return b.String()
}
