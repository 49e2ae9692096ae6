package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/glassboxhq/glassbox/internal/infrastructure/logging"
	"github.com/glassboxhq/glassbox/internal/vfs"
)

// Transformer rewrites module source before execution (module-syntax
// normalization and friends). Implemented by the transform pipeline;
// injected here to keep the dependency one-way.
type Transformer interface {
	TransformModule(path string, src []byte) ([]byte, error)
}

// Options configures a Runtime.
type Options struct {
	FS          *vfs.FS
	Logger      *logging.Logger
	Transformer Transformer // nil means sources run as written
	Env         map[string]string
	Argv        []string
	Cwd         string
}

// LogEntry is one captured console line.
type LogEntry struct {
	Level   string
	Message string
	Time    time.Time
}

// Runtime is one sandboxed runtime instance: a VM, its module loader, and
// its cooperative scheduler state. The VM is single-threaded; mu serializes
// the public entry points so multiple goroutines (HTTP handlers, dev
// servers) can share one instance. Interrupt stays lock-free so it can
// break a running script.
type Runtime struct {
	mu     sync.Mutex
	vm     *goja.Runtime
	fs     *vfs.FS
	log    *logging.Logger
	loader *Loader

	unsubscribe func()

	env      map[string]string
	argv     []string
	cwd      string
	exitCode int

	console    []LogEntry
	microtasks []func()
	timers     *timerQueue
	procObj    *goja.Object
}

// appendConsole records one captured output line.
func (r *Runtime) appendConsole(level, msg string) {
	r.console = append(r.console, LogEntry{Level: level, Message: msg, Time: time.Now()})
	r.log.Debug("console output", zap.String("level", level), zap.String("message", msg))
}

// New constructs a runtime over the given virtual filesystem.
func New(opts Options) (*Runtime, error) {
	if opts.FS == nil {
		return nil, fmt.Errorf("sandbox: filesystem is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	cwd := opts.Cwd
	if cwd == "" {
		cwd = "/"
	}
	env := make(map[string]string, len(opts.Env))
	for k, v := range opts.Env {
		env[k] = v
	}

	r := &Runtime{
		vm:     goja.New(),
		fs:     opts.FS,
		log:    log.Named("sandbox"),
		env:    env,
		argv:   append([]string(nil), opts.Argv...),
		cwd:    cwd,
		timers: newTimerQueue(),
	}
	r.loader = newLoader(r, opts.Transformer)

	if err := r.setupGlobals(); err != nil {
		return nil, err
	}

	// Source changes invalidate affected module records in place.
	r.unsubscribe = opts.FS.Subscribe(func(ev vfs.Event) {
		switch ev.Op {
		case vfs.OpWrite, vfs.OpRemove:
			r.loader.Invalidate(ev.Path)
		case vfs.OpRename:
			r.loader.Invalidate(ev.OldPath)
			r.loader.Invalidate(ev.Path)
		}
	})

	return r, nil
}

// VM exposes the underlying goja runtime for shims and embedders.
func (r *Runtime) VM() *goja.Runtime { return r.vm }

// FS returns the backing virtual filesystem.
func (r *Runtime) FS() *vfs.FS { return r.fs }

// Cwd returns the emulated working directory.
func (r *Runtime) Cwd() string { return r.cwd }

// Require loads a module by specifier relative to the working directory and
// returns its exports, draining microtasks afterwards.
func (r *Runtime) Require(specifier string) (goja.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exports, err := r.loader.Require(r.cwd, specifier)
	r.drainMicrotasks()
	if err != nil {
		return nil, err
	}
	return exports, nil
}

// ResolveModule resolves a specifier from a directory without executing
// anything, exposing the loader's resolution algorithm to embedders.
func (r *Runtime) ResolveModule(fromDir, specifier string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loader.Resolve(fromDir, specifier)
}

// RunScript executes source text directly (no module wrapper), draining
// microtasks afterwards.
func (r *Runtime) RunScript(name, src string) (goja.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	val, err := r.vm.RunScript(name, src)
	r.drainMicrotasks()
	return val, err
}

// EnqueueMicrotask schedules fn on the next-tick queue. Called from inside
// executing script (queueMicrotask, process.nextTick), so it must not take
// the runtime lock.
func (r *Runtime) EnqueueMicrotask(fn func()) {
	r.microtasks = append(r.microtasks, fn)
}

// drainMicrotasks runs queued callbacks, including ones enqueued while
// draining, until the queue is empty.
func (r *Runtime) drainMicrotasks() {
	for len(r.microtasks) > 0 {
		queue := r.microtasks
		r.microtasks = nil
		for _, fn := range queue {
			fn()
		}
	}
}

// Do runs fn while holding the execution lock, giving embedders a
// serialized window for direct VM work (building call arguments, reading
// results). fn must not call back into locking runtime methods.
func (r *Runtime) Do(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn()
}

// Call invokes a JS function under the execution lock, then settles pending
// microtasks and timers before returning the call's result.
func (r *Runtime) Call(ctx context.Context, fn goja.Callable, this goja.Value, args ...goja.Value) (goja.Value, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	val, err := fn(this, args...)
	if err != nil {
		return nil, err
	}
	if err := r.runEventLoopLocked(ctx); err != nil {
		return nil, err
	}
	return val, nil
}

// RunEventLoop drains timers and microtasks until both are exhausted or ctx
// is cancelled. Next-tick callbacks always run ahead of due timers.
func (r *Runtime) RunEventLoop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runEventLoopLocked(ctx)
}

func (r *Runtime) runEventLoopLocked(ctx context.Context) error {
	for {
		r.drainMicrotasks()
		t, ok := r.timers.next()
		if !ok {
			return nil
		}
		if wait := time.Until(t.due); wait > 0 {
			select {
			case <-ctx.Done():
				r.vm.Interrupt("context cancelled")
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		r.timers.pop(t.id)
		if t.repeat > 0 {
			t.due = time.Now().Add(t.repeat)
			r.timers.push(t)
		}
		if err := t.fire(); err != nil {
			return err
		}
		r.drainMicrotasks()
	}
}

// Interrupt aborts the currently executing script.
func (r *Runtime) Interrupt(reason string) {
	r.vm.Interrupt(reason)
}

// Console returns captured console output.
func (r *Runtime) Console() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(r.console))
	copy(out, r.console)
	return out
}

// ExitCode returns the value assigned to process.exitCode, default zero.
func (r *Runtime) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.procObj != nil {
		if v := r.procObj.Get("exitCode"); v != nil && !goja.IsUndefined(v) {
			return int(v.ToInteger())
		}
	}
	return r.exitCode
}

// Close detaches the runtime from filesystem notifications so discarded
// instances stop receiving invalidation events. The VM needs no teardown.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

// throwError panics with a JS Error carrying a short code property, the
// shape shimmed third-party code matches on.
func (r *Runtime) throwError(code, msg string) {
	obj, err := r.vm.New(r.vm.Get("Error"), r.vm.ToValue(msg))
	if err != nil {
		panic(r.vm.ToValue(msg))
	}
	_ = obj.Set("code", code)
	panic(obj)
}

// throwFSError converts a vfs error into a JS exception preserving its code.
func (r *Runtime) throwFSError(err error) {
	code := vfs.CodeOf(err)
	if code == "" {
		code = "EIO"
	}
	r.throwError(code, err.Error())
}

func (r *Runtime) setupGlobals() error {
	vm := r.vm

	// console
	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		level := level
		if err := console.Set(level, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = formatConsoleValue(arg)
			}
			r.appendConsole(level, strings.Join(parts, " "))
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	vm.Set("console", console)

	vm.Set("global", vm.GlobalObject())
	vm.Set("queueMicrotask", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			r.EnqueueMicrotask(func() { _, _ = fn(goja.Undefined()) })
		}
		return goja.Undefined()
	})

	r.setupTimerGlobals()

	// process and Buffer are both module builtins and globals; going through
	// the loader keeps a single instance for both access paths.
	proc, err := r.loader.requireBuiltin("process")
	if err != nil {
		return err
	}
	r.procObj = proc.ToObject(vm)
	vm.Set("process", proc)

	bufMod, err := r.loader.requireBuiltin("buffer")
	if err != nil {
		return err
	}
	vm.Set("Buffer", bufMod.ToObject(vm).Get("Buffer"))

	// Root-relative require for embedders driving the VM directly.
	vm.Set("require", func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		exports, err := r.loader.Require(r.cwd, spec)
		if err != nil {
			r.throwError("MODULE_NOT_FOUND", err.Error())
		}
		return exports
	})

	return nil
}

func formatConsoleValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	exported := v.Export()
	switch exported.(type) {
	case map[string]interface{}, []interface{}:
		return fmt.Sprintf("%v", exported)
	default:
		return v.String()
	}
}

// Env returns a sorted snapshot of the emulated environment, for diagnostics.
func (r *Runtime) Env() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.env))
	for k, v := range r.env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
