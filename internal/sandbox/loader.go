package sandbox

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// Module is one cached module record: the resolved path, its exports, and
// the modules that required it (used for transitive invalidation).
type Module struct {
	Path       string
	Exports    goja.Value
	loaded     bool
	dependents map[string]struct{}
}

// builtinFactory constructs a builtin module's exports once, on first use.
type builtinFactory func() (goja.Value, error)

// Loader implements the synchronous require/resolve pipeline.
//
// The cache map is mutated in place and never reassigned: shims and user
// closures hold references to records, and wholesale replacement would
// orphan them. mu guards the cache, dependency edges, and builtin cache;
// it is never held while module code runs, so filesystem watchers may
// invalidate records from other goroutines (or re-entrantly from a write
// made by executing module code).
type Loader struct {
	rt          *Runtime
	transformer Transformer

	mu           sync.Mutex
	cache        map[string]*Module
	builtins     map[string]builtinFactory
	builtinCache map[string]goja.Value

	// stack tracks the require chain to record dependency edges.
	stack []string
}

func newLoader(rt *Runtime, transformer Transformer) *Loader {
	l := &Loader{
		rt:           rt,
		transformer:  transformer,
		cache:        make(map[string]*Module),
		builtins:     make(map[string]builtinFactory),
		builtinCache: make(map[string]goja.Value),
	}
	l.registerBuiltins()
	return l
}

func (l *Loader) registerBuiltins() {
	l.builtins["path"] = l.rt.pathModule
	l.builtins["fs"] = l.rt.fsModule
	l.builtins["process"] = l.rt.processModule
	l.builtins["buffer"] = l.rt.bufferModule
	l.builtins["crypto"] = l.rt.cryptoModule
	l.builtins["assert"] = l.rt.assertModule
	l.builtins["os"] = l.rt.osModule
	l.builtins["events"] = func() (goja.Value, error) { return l.requireEmbedded("events", eventsSource) }
	l.builtins["stream"] = func() (goja.Value, error) { return l.requireEmbedded("stream", streamSource) }
	l.builtins["util"] = func() (goja.Value, error) { return l.requireEmbedded("util", utilSource) }
	l.builtins["worker_threads"] = func() (goja.Value, error) { return l.requireEmbedded("worker_threads", workerSource) }
}

// ResolveError reports an unresolvable specifier.
type ResolveError struct {
	Specifier string
	From      string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("cannot resolve module '%s' from '%s'", e.Specifier, e.From)
}

// Require resolves and executes a module, returning its exports. A module
// already executing (a require cycle) yields its partially populated
// exports object.
func (l *Loader) Require(fromDir, specifier string) (goja.Value, error) {
	if name, ok := l.builtinName(specifier); ok {
		return l.requireBuiltin(name)
	}

	resolved, err := l.Resolve(fromDir, specifier)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if len(l.stack) > 0 {
		importer := l.stack[len(l.stack)-1]
		if record, ok := l.cache[resolved]; ok {
			record.dependents[importer] = struct{}{}
		}
	}
	if record, ok := l.cache[resolved]; ok {
		exports := record.Exports
		l.mu.Unlock()
		return exports, nil
	}
	l.mu.Unlock()
	return l.execute(resolved)
}

func (l *Loader) builtinName(specifier string) (string, bool) {
	name := strings.TrimPrefix(specifier, "node:")
	_, ok := l.builtins[name]
	return name, ok
}

func (l *Loader) requireBuiltin(name string) (goja.Value, error) {
	l.mu.Lock()
	if cached, ok := l.builtinCache[name]; ok {
		l.mu.Unlock()
		return cached, nil
	}
	l.mu.Unlock()

	// Factories run module code, so the lock is released around them.
	exports, err := l.builtins[name]()
	if err != nil {
		return nil, fmt.Errorf("builtin %s: %w", name, err)
	}

	l.mu.Lock()
	l.builtinCache[name] = exports
	l.mu.Unlock()
	return exports, nil
}

// requireEmbedded executes an embedded JS builtin through the module
// wrapper so it can itself require other builtins.
func (l *Loader) requireEmbedded(name, source string) (goja.Value, error) {
	return l.runModuleBody("builtin:"+name, "/", []byte(source))
}

// execute loads, transforms, wraps, and runs the module body at path. The
// record enters the cache before execution so cycle partners observe the
// partially populated exports.
func (l *Loader) execute(path string) (goja.Value, error) {
	src, err := l.rt.fs.Read(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	record := &Module{
		Path:       path,
		Exports:    l.rt.vm.NewObject(),
		dependents: make(map[string]struct{}),
	}
	l.mu.Lock()
	l.cache[path] = record
	if len(l.stack) > 0 {
		record.dependents[l.stack[len(l.stack)-1]] = struct{}{}
	}
	l.mu.Unlock()

	if strings.HasSuffix(path, ".json") {
		val, err := l.rt.vm.RunScript(path, "("+string(src)+")")
		if err != nil {
			l.drop(path)
			return nil, fmt.Errorf("parse JSON module %s: %w", path, err)
		}
		l.mu.Lock()
		record.Exports = val
		record.loaded = true
		l.mu.Unlock()
		return val, nil
	}

	if l.transformer != nil {
		transformed, err := l.transformer.TransformModule(path, src)
		if err != nil {
			l.drop(path)
			return nil, fmt.Errorf("transform %s: %w", path, err)
		}
		src = transformed
	}

	l.mu.Lock()
	l.stack = append(l.stack, path)
	l.mu.Unlock()
	exports, err := l.runWrapped(path, src, record)
	l.mu.Lock()
	l.stack = l.stack[:len(l.stack)-1]
	if err != nil {
		delete(l.cache, path)
		l.mu.Unlock()
		return nil, err
	}
	record.Exports = exports
	record.loaded = true
	l.mu.Unlock()
	return exports, nil
}

func (l *Loader) drop(path string) {
	l.mu.Lock()
	delete(l.cache, path)
	l.mu.Unlock()
}

// runModuleBody executes source with the CommonJS wrapper but without
// entering the cache (embedded builtins).
func (l *Loader) runModuleBody(name, dir string, src []byte) (goja.Value, error) {
	record := &Module{Path: name, Exports: l.rt.vm.NewObject(), dependents: make(map[string]struct{})}
	return l.runWrappedIn(name, dir, src, record)
}

func (l *Loader) runWrapped(path string, src []byte, record *Module) (goja.Value, error) {
	return l.runWrappedIn(path, vpath.Dirname(path), src, record)
}

func (l *Loader) runWrappedIn(path, dir string, src []byte, record *Module) (goja.Value, error) {
	vm := l.rt.vm

	wrapped := "(function(exports, require, module, __filename, __dirname) {\n" + string(src) + "\n})"
	fnValue, err := vm.RunScript(path, wrapped)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, fmt.Errorf("compile %s: wrapper is not callable", path)
	}

	moduleObj := vm.NewObject()
	_ = moduleObj.Set("exports", record.Exports)
	_ = moduleObj.Set("id", path)

	requireFn := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		exports, err := l.Require(dir, spec)
		if err != nil {
			l.rt.throwError("MODULE_NOT_FOUND", err.Error())
		}
		return exports
	})

	_, err = fn(goja.Undefined(),
		record.Exports,
		requireFn,
		moduleObj,
		vm.ToValue(path),
		vm.ToValue(dir),
	)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", path, err)
	}

	// module.exports may have been reassigned.
	return moduleObj.Get("exports"), nil
}

// Invalidate removes the record for path and, transitively, every module
// that required it, forcing re-execution on next require. The cache object
// itself is preserved.
func (l *Loader) Invalidate(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidateLocked(path)
}

func (l *Loader) invalidateLocked(path string) {
	record, ok := l.cache[path]
	if !ok {
		return
	}
	delete(l.cache, path)
	for dependent := range record.dependents {
		l.invalidateLocked(dependent)
	}
}

// Cached reports whether a record currently exists for path.
func (l *Loader) Cached(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cache[path]
	return ok
}
