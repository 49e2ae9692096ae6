package devserver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/transform"
	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// bundleModule is one module in a synthesized package bundle.
type bundleModule struct {
	path string
	code string
	deps map[string]string
}

// bundlePackage walks a package's module graph from its resolved entry and
// synthesizes a single browser-runnable module: every reachable file is
// embedded as a wrapped factory, with its specifiers pre-resolved so the
// embedded loader never touches the filesystem.
func (b *Bundler) bundlePackage(ctx context.Context, name, subpath string) ([]byte, error) {
	if b.resolve == nil {
		return nil, fmt.Errorf("no module resolver configured")
	}
	spec := name
	if subpath != "" {
		spec = name + "/" + subpath
	}
	entry, err := b.resolve.ResolveModule(b.root, spec)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", spec, err)
	}

	var order []bundleModule
	visited := map[string]bool{entry: true}
	queue := []string{entry}

	for len(queue) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		path := queue[0]
		queue = queue[1:]

		mod, err := b.loadBundleModule(path)
		if err != nil {
			return nil, err
		}
		order = append(order, mod)
		for _, resolved := range mod.deps {
			if !visited[resolved] {
				visited[resolved] = true
				queue = append(queue, resolved)
			}
		}
	}

	b.log.Debug("bundled package",
		zap.String("package", spec),
		zap.String("entry", entry),
		zap.Int("modules", len(order)))
	return renderBundle(spec, entry, order)
}

// loadBundleModule reads and lowers one file, then resolves every specifier
// it references. Unresolvable specifiers (node builtins, optional deps) are
// left unmapped and only fail if the code actually requires them.
func (b *Bundler) loadBundleModule(path string) (bundleModule, error) {
	src, err := b.fs.Read(path)
	if err != nil {
		return bundleModule{}, fmt.Errorf("read %s: %w", path, err)
	}

	var code string
	if vpath.Extname(path) == ".json" {
		code = "module.exports = " + string(src) + ";"
	} else {
		lowered, err := b.pipe.TransformModule(path, src)
		if err != nil {
			return bundleModule{}, fmt.Errorf("transform %s: %w", path, err)
		}
		code = string(lowered)
	}

	deps := make(map[string]string)
	dir := vpath.Dirname(path)
	for _, dep := range transform.Imports(code) {
		resolved, err := b.resolve.ResolveModule(dir, dep)
		if err != nil {
			b.log.Debug("unresolved bundle specifier",
				zap.String("path", path), zap.String("specifier", dep))
			continue
		}
		deps[dep] = resolved
	}
	return bundleModule{path: path, code: code, deps: deps}, nil
}

// renderBundle emits the bundle text: a module table, a tiny loader, and an
// ESM surface exporting the entry's exports.
func renderBundle(spec, entry string, modules []bundleModule) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString("/* bundled ")
	sb.WriteString(spec)
	sb.WriteString(" */\n")
	sb.WriteString("const __modules = {\n")
	for _, mod := range modules {
		depsJSON, err := sonic.Marshal(mod.deps)
		if err != nil {
			return nil, fmt.Errorf("encode deps for %s: %w", mod.path, err)
		}
		sb.WriteString(strconv.Quote(mod.path))
		sb.WriteString(": {deps: ")
		sb.Write(depsJSON)
		sb.WriteString(", fn: function(module, exports, require) {\n")
		sb.WriteString(mod.code)
		sb.WriteString("\n}},\n")
	}
	sb.WriteString("};\n")
	sb.WriteString(bundleLoaderSource)
	sb.WriteString("const __entry = __load(")
	sb.WriteString(strconv.Quote(entry))
	sb.WriteString(");\n")
	sb.WriteString("export default (__entry && __entry.__esModule ? __entry[\"default\"] : __entry);\n")
	sb.WriteString("export { __entry as __module };\n")
	return []byte(sb.String()), nil
}

const bundleLoaderSource = `const __cache = {};
function __load(path) {
  const cached = __cache[path];
  if (cached) return cached.exports;
  const mod = __modules[path];
  if (!mod) throw new Error("module not bundled: " + path);
  const module = {exports: {}};
  __cache[path] = module;
  mod.fn.call(module.exports, module, module.exports, function(spec) {
    const target = mod.deps[spec];
    if (target === undefined) throw new Error("cannot require " + spec + " from " + path);
    return __load(target);
  });
  return module.exports;
}
`
