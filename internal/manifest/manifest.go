// Package manifest models package.json documents: entry-point fields,
// conditional export maps, browser overrides, declared binaries, scripts,
// and dependency ranges. It is shared by the module resolver, the package
// installer, and the script runner.
package manifest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
)

// Error identifies the offending manifest field, so a failed install can
// report exactly what was malformed.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("malformed manifest field %q: %s", e.Field, e.Reason)
}

// PackageJSON is a parsed manifest. Fields with polymorphic JSON shapes
// (browser, bin, exports) are kept raw and decoded through accessors.
type PackageJSON struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Main            string            `json:"main"`
	Module          string            `json:"module"`
	Type            string            `json:"type"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`

	Browser json.RawMessage `json:"browser,omitempty"`
	Bin     json.RawMessage `json:"bin,omitempty"`
	Exports json.RawMessage `json:"exports,omitempty"`
}

// Parse decodes a package.json document.
func Parse(data []byte) (*PackageJSON, error) {
	var p PackageJSON
	if err := sonic.Unmarshal(data, &p); err != nil {
		return nil, &Error{Field: "(document)", Reason: err.Error()}
	}
	return &p, nil
}

// Encode serializes a manifest with stable two-space indentation.
func (p *PackageJSON) Encode() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// IsESM reports whether the package declares "type": "module".
func (p *PackageJSON) IsESM() bool {
	return p.Type == "module"
}

// BrowserOverride resolves the browser field for a package-relative path.
// The string form overrides the main entry only (path "."); the object form
// maps individual files. The second return distinguishes "mapped to false"
// (ignore the module) from "no override".
func (p *PackageJSON) BrowserOverride(rel string) (target string, ignored bool, ok bool) {
	if len(p.Browser) == 0 {
		return "", false, false
	}

	var asString string
	if err := sonic.Unmarshal(p.Browser, &asString); err == nil {
		if rel == "." {
			return asString, false, true
		}
		return "", false, false
	}

	var asMap map[string]json.RawMessage
	if err := sonic.Unmarshal(p.Browser, &asMap); err != nil {
		return "", false, false
	}
	for _, key := range browserKeys(rel) {
		raw, present := asMap[key]
		if !present {
			continue
		}
		var replacement string
		if err := sonic.Unmarshal(raw, &replacement); err == nil {
			return replacement, false, true
		}
		var disabled bool
		if err := sonic.Unmarshal(raw, &disabled); err == nil && !disabled {
			return "", true, true
		}
	}
	return "", false, false
}

// browserKeys lists the spellings a browser-map key may use for one path.
func browserKeys(rel string) []string {
	if rel == "." {
		return []string{"."}
	}
	trimmed := strings.TrimPrefix(rel, "./")
	return []string{"./" + trimmed, trimmed}
}

// Binaries decodes the bin field. A bare string declares a single binary
// named after the package.
func (p *PackageJSON) Binaries() (map[string]string, error) {
	if len(p.Bin) == 0 {
		return nil, nil
	}

	var single string
	if err := sonic.Unmarshal(p.Bin, &single); err == nil {
		name := p.Name
		if idx := strings.LastIndex(name, "/"); idx >= 0 {
			name = name[idx+1:] // scoped packages use the unscoped name
		}
		return map[string]string{name: single}, nil
	}

	var many map[string]string
	if err := sonic.Unmarshal(p.Bin, &many); err != nil {
		return nil, &Error{Field: "bin", Reason: "expected string or object of strings"}
	}
	return many, nil
}

// DefaultConditions is the resolution condition order for the emulated
// browser-side runtime. "browser" wins ahead of module-system conditions;
// "default" is the last resort.
var DefaultConditions = []string{"browser", "import", "require", "default"}

// ResolveExport resolves a package subpath ("." or "./sub") through the
// exports field under the given conditions. Returns false when the exports
// field is absent or does not cover the subpath.
func (p *PackageJSON) ResolveExport(subpath string, conditions []string) (string, bool) {
	if len(p.Exports) == 0 {
		return "", false
	}
	if conditions == nil {
		conditions = DefaultConditions
	}

	var node interface{}
	if err := sonic.Unmarshal(p.Exports, &node); err != nil {
		return "", false
	}
	return resolveExportNode(node, normalizeSubpath(subpath), conditions)
}

func normalizeSubpath(subpath string) string {
	if subpath == "" || subpath == "." {
		return "."
	}
	if !strings.HasPrefix(subpath, "./") {
		return "./" + subpath
	}
	return subpath
}

// resolveExportNode walks one level of the exports tree. Objects whose keys
// start with "." are subpath maps; all other objects are condition maps.
// Arrays are ordered fallbacks.
func resolveExportNode(node interface{}, subpath string, conditions []string) (string, bool) {
	switch v := node.(type) {
	case string:
		if subpath == "." {
			return v, true
		}
		return "", false

	case []interface{}:
		for _, alt := range v {
			if target, ok := resolveExportNode(alt, subpath, conditions); ok {
				return target, true
			}
		}
		return "", false

	case map[string]interface{}:
		if isSubpathMap(v) {
			return resolveSubpathMap(v, subpath, conditions)
		}
		return resolveConditionMap(v, subpath, conditions)
	}
	return "", false
}

func isSubpathMap(m map[string]interface{}) bool {
	for key := range m {
		return strings.HasPrefix(key, ".")
	}
	return false
}

func resolveSubpathMap(m map[string]interface{}, subpath string, conditions []string) (string, bool) {
	if entry, ok := m[subpath]; ok {
		return resolveTarget(entry, conditions, "")
	}
	// Wildcard patterns: "./*" and prefixed forms like "./lib/*".
	for pattern, entry := range m {
		star := strings.Index(pattern, "*")
		if star < 0 {
			continue
		}
		prefix, suffix := pattern[:star], pattern[star+1:]
		if !strings.HasPrefix(subpath, prefix) || !strings.HasSuffix(subpath, suffix) {
			continue
		}
		matched := subpath[len(prefix) : len(subpath)-len(suffix)]
		if target, ok := resolveTarget(entry, conditions, matched); ok {
			return target, true
		}
	}
	return "", false
}

func resolveConditionMap(m map[string]interface{}, subpath string, conditions []string) (string, bool) {
	if subpath != "." {
		return "", false
	}
	return resolveTarget(m, conditions, "")
}

// resolveTarget resolves a target value (string, condition object, or array)
// substituting a wildcard match when present.
func resolveTarget(entry interface{}, conditions []string, wildcard string) (string, bool) {
	switch v := entry.(type) {
	case string:
		if wildcard != "" {
			return strings.Replace(v, "*", wildcard, 1), true
		}
		return v, true

	case []interface{}:
		for _, alt := range v {
			if target, ok := resolveTarget(alt, conditions, wildcard); ok {
				return target, true
			}
		}

	case map[string]interface{}:
		for _, cond := range conditions {
			if nested, ok := v[cond]; ok {
				if target, ok := resolveTarget(nested, conditions, wildcard); ok {
					return target, true
				}
			}
		}
	}
	return "", false
}

// ExportSubpaths lists the literal (non-wildcard) subpaths declared in the
// exports field, "." included when present. Packages exposing many
// independent entry points surface each of them here.
func (p *PackageJSON) ExportSubpaths() []string {
	if len(p.Exports) == 0 {
		return nil
	}
	var node interface{}
	if err := sonic.Unmarshal(p.Exports, &node); err != nil {
		return nil
	}
	m, ok := node.(map[string]interface{})
	if !ok || !isSubpathMap(m) {
		// A bare string or condition map declares only the root entry.
		return []string{"."}
	}
	subpaths := make([]string, 0, len(m))
	for key := range m {
		if strings.Contains(key, "*") {
			continue
		}
		subpaths = append(subpaths, key)
	}
	sort.Strings(subpaths)
	return subpaths
}

// EntryPoint determines the package's root entry under the engine's
// conditions: exports map first, then the browser override, then module and
// main, defaulting to index.js.
func (p *PackageJSON) EntryPoint() string {
	if target, ok := p.ResolveExport(".", nil); ok {
		return target
	}
	if target, ignored, ok := p.BrowserOverride("."); ok && !ignored {
		return target
	}
	if p.Module != "" {
		return p.Module
	}
	if p.Main != "" {
		return p.Main
	}
	return "index.js"
}
