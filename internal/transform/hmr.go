package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

const hmrRegisterFn = "__glassbox_hot_register"

// instrumentHMR appends hot-reload registration calls for top-level
// declarations that look like UI components: a capitalized name plus a body
// that actually builds elements. Runs on require-convention source, after
// module-syntax normalization.
func instrumentHMR(src, path string, opts jsxOptions) (string, bool, error) {
	if strings.Contains(src, hmrRegisterFn+"(") {
		return src, false, nil // already instrumented
	}

	program, err := parser.ParseFile(nil, path, src, 0)
	if err != nil {
		return "", false, fmt.Errorf("parse for hot-reload instrumentation: %w", err)
	}

	var components []string
	for _, stmt := range program.Body {
		for _, name := range componentNames(stmt, src, opts) {
			components = append(components, name)
		}
	}
	if len(components) == 0 {
		return src, false, nil
	}
	return src + hmrFooter(path, components), true, nil
}

// componentNames inspects one top-level statement for component-shaped
// declarations.
func componentNames(stmt ast.Statement, src string, opts jsxOptions) []string {
	switch decl := stmt.(type) {
	case *ast.FunctionDeclaration:
		if decl.Function.Name == nil {
			return nil
		}
		name := decl.Function.Name.Name.String()
		if isComponentName(name) && buildsElements(nodeSource(src, decl.Function), opts) {
			return []string{name}
		}

	case *ast.ClassDeclaration:
		if decl.Class.Name == nil {
			return nil
		}
		name := decl.Class.Name.Name.String()
		if isComponentName(name) && buildsElements(nodeSource(src, decl.Class), opts) {
			return []string{name}
		}

	case *ast.LexicalDeclaration:
		return bindingComponents(decl.List, src, opts)

	case *ast.VariableStatement:
		return bindingComponents(decl.List, src, opts)
	}
	return nil
}

func bindingComponents(list []*ast.Binding, src string, opts jsxOptions) []string {
	var names []string
	for _, binding := range list {
		ident, ok := binding.Target.(*ast.Identifier)
		if !ok || binding.Initializer == nil {
			continue
		}
		switch binding.Initializer.(type) {
		case *ast.ArrowFunctionLiteral, *ast.FunctionLiteral:
		default:
			continue
		}
		name := ident.Name.String()
		if isComponentName(name) && buildsElements(nodeSource(src, binding.Initializer), opts) {
			names = append(names, name)
		}
	}
	return names
}

func isComponentName(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

// buildsElements checks the declaration's own source for element factory
// calls, so a capitalized helper that never renders is left alone.
func buildsElements(body string, opts jsxOptions) bool {
	pragma := opts.Pragma
	if idx := strings.LastIndex(pragma, "."); idx >= 0 {
		pragma = pragma[idx+1:]
	}
	return strings.Contains(body, pragma+"(")
}

// nodeSource slices the source text covered by a node (file.Idx is
// one-based).
func nodeSource(src string, node ast.Node) string {
	start, end := int(node.Idx0())-1, int(node.Idx1())-1
	if start < 0 || end > len(src) || start >= end {
		return ""
	}
	return src[start:end]
}

func hmrFooter(path string, components []string) string {
	var b strings.Builder
	b.WriteString("\nif (typeof " + hmrRegisterFn + " === 'function') {\n")
	for _, name := range components {
		fmt.Fprintf(&b, "  %s(module, %q, %s);\n", hmrRegisterFn, path+"#"+name, name)
	}
	b.WriteString("}\n")
	return b.String()
}

var (
	reTopFunction = regexp.MustCompile(`(?m)^(?:async\s+)?function\s+([A-Z][\w$]*)\s*\(`)
	reTopClass    = regexp.MustCompile(`(?m)^class\s+([A-Z][\w$]*)[\s{]`)
	reTopConstFn  = regexp.MustCompile(`(?m)^(?:const|let|var)\s+([A-Z][\w$]*)\s*=\s*(?:async\s*)?(?:function\b|\()`)
)

// fallbackHMR registers every top-level capitalized declaration when the
// file builds elements at all. Coarser than the structural pass but safe.
func fallbackHMR(src, path string, opts jsxOptions) (string, bool) {
	if strings.Contains(src, hmrRegisterFn+"(") {
		return src, false
	}
	if !buildsElements(src, opts) {
		return src, false
	}
	seen := make(map[string]bool)
	var components []string
	for _, re := range []*regexp.Regexp{reTopFunction, reTopClass, reTopConstFn} {
		for _, m := range re.FindAllStringSubmatch(src, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				components = append(components, m[1])
			}
		}
	}
	if len(components) == 0 {
		return src, false
	}
	return src + hmrFooter(path, components), true
}
