package transform

import (
	"strings"

	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/infrastructure/monitoring"
	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// Options configures a Pipeline.
type Options struct {
	Logger      *logging.Logger
	Metrics     *monitoring.Metrics // optional
	JSXPragma   string
	JSXFragment string

	// RegistryBase is the registry proxy endpoint for import redirection
	// when serving to a browser context. Empty disables the pass.
	RegistryBase string

	// Dependencies supplies the project's declared dependency ranges, used
	// to pin redirected imports to a major version.
	Dependencies func() map[string]string

	// HotReload enables component registration instrumentation.
	HotReload bool
}

// Pipeline applies the source-rewriting passes. Each pass runs its
// structural strategy first and falls back to the conservative
// regular-expression rendition when parsing fails.
type Pipeline struct {
	log     *logging.Logger
	metrics *monitoring.Metrics
	jsx     jsxOptions
	base    string
	deps    func() map[string]string
	hot     bool
}

// New builds a pipeline.
func New(opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	jsx := defaultJSXOptions()
	if opts.JSXPragma != "" {
		jsx.Pragma = opts.JSXPragma
	}
	if opts.JSXFragment != "" {
		jsx.Fragment = opts.JSXFragment
	}
	return &Pipeline{
		log:     log.Named("transform"),
		metrics: opts.Metrics,
		jsx:     jsx,
		base:    opts.RegistryBase,
		deps:    opts.Dependencies,
		hot:     opts.HotReload,
	}
}

func (p *Pipeline) count(pass, strategy string) {
	if p.metrics != nil {
		p.metrics.TransformsTotal.WithLabelValues(pass, strategy).Inc()
	}
}

// runPass executes one pass with its strategy chain. Structural failure is
// recoverable by construction: the fallback result always applies.
func (p *Pipeline) runPass(pass, path, src string,
	structural func(string) (string, bool, error),
	fallback func(string) (string, bool)) string {

	out, changed, err := structural(src)
	if err == nil {
		if changed {
			p.count(pass, "structural")
		}
		return out
	}

	p.log.Debug("structural pass failed, using fallback",
		zap.String("pass", pass),
		zap.String("path", path),
		zap.Error(err))
	if p.metrics != nil {
		p.metrics.TransformFallback.Inc()
	}
	out, changed = fallback(src)
	if changed {
		p.count(pass, "fallback")
	}
	return out
}

// TransformModule rewrites source for execution in the module loader:
// templating syntax lowered, module syntax normalized to require/exports,
// stylesheets compiled to mapping modules, components registered for hot
// reload when enabled.
func (p *Pipeline) TransformModule(path string, src []byte) ([]byte, error) {
	ext := vpath.Extname(path)
	text := string(src)

	switch ext {
	case ".css":
		return []byte(p.transformCSS(path, text, false)), nil
	case ".json":
		return src, nil
	case ".js", ".mjs", ".cjs", ".ts", ".jsx", ".tsx":
	default:
		return src, nil
	}

	if ext == ".jsx" || ext == ".tsx" || strings.Contains(text, "<") {
		text = p.runPass("jsx", path, text,
			func(s string) (string, bool, error) { return convertJSX(s, p.jsx) },
			func(s string) (string, bool) { return fallbackJSX(s, p.jsx) })
	}

	text = p.runPass("esm", path, text,
		convertESM,
		fallbackESM)

	if p.hot {
		text = p.runPass("hmr", path, text,
			func(s string) (string, bool, error) { return instrumentHMR(s, path, p.jsx) },
			func(s string) (string, bool) { return fallbackHMR(s, path, p.jsx) })
	}
	return []byte(text), nil
}

// TransformServe rewrites source for delivery to a browser context: module
// syntax stays ESM, templating syntax is lowered, and bare import
// specifiers are redirected to the registry proxy.
func (p *Pipeline) TransformServe(path string, src []byte) ([]byte, error) {
	ext := vpath.Extname(path)
	text := string(src)

	switch ext {
	case ".css":
		return []byte(p.transformCSS(path, text, true)), nil
	case ".js", ".mjs", ".ts", ".jsx", ".tsx":
	default:
		return src, nil
	}

	if ext == ".jsx" || ext == ".tsx" {
		text = p.runPass("jsx", path, text,
			func(s string) (string, bool, error) { return convertJSX(s, p.jsx) },
			func(s string) (string, bool) { return fallbackJSX(s, p.jsx) })
	}

	if p.base != "" {
		deps := map[string]string{}
		if p.deps != nil {
			deps = p.deps()
		}
		text = p.runPass("redirect", path, text,
			func(s string) (string, bool, error) { return redirectImports(s, p.base, deps) },
			func(s string) (string, bool) { return fallbackRedirect(s, p.base, deps) })
	}
	return []byte(text), nil
}

func (p *Pipeline) transformCSS(path, text string, esm bool) string {
	return p.runPass("css", path, text,
		func(s string) (string, bool, error) {
			out, err := cssToModule(s, path, esm)
			if err != nil {
				return "", false, err
			}
			return out, true, nil
		},
		func(s string) (string, bool) { return fallbackCSS(s, path, esm), true })
}
