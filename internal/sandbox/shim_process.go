package sandbox

import (
	"github.com/dop251/goja"

	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// processModule builds the process builtin: environment, argv, working
// directory, next-tick scheduling, and capture-only stdio.
func (r *Runtime) processModule() (goja.Value, error) {
	vm := r.vm
	proc := vm.NewObject()

	env := vm.NewObject()
	for k, v := range r.env {
		if err := env.Set(k, v); err != nil {
			return nil, err
		}
	}

	argv := append([]string{"glassbox"}, r.argv...)

	err := firstErr(
		proc.Set("env", env),
		proc.Set("argv", argv),
		proc.Set("platform", "linux"),
		proc.Set("arch", "x64"),
		proc.Set("version", "v18.19.0"),
		proc.Set("browser", true),
		proc.Set("exitCode", 0),
		proc.Set("cwd", func(goja.FunctionCall) goja.Value {
			return vm.ToValue(r.cwd)
		}),
		proc.Set("chdir", func(call goja.FunctionCall) goja.Value {
			target := vpath.Resolve(r.cwd, call.Argument(0).String())
			info, err := r.fs.Stat(target)
			if err != nil || !info.IsDir {
				r.throwError("ENOENT", "no such directory: "+target)
			}
			r.cwd = target
			return goja.Undefined()
		}),
		proc.Set("nextTick", func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				r.throwError("ERR_INVALID_CALLBACK", "callback must be a function")
			}
			var rest []goja.Value
			if len(call.Arguments) > 1 {
				rest = append(rest, call.Arguments[1:]...)
			}
			r.EnqueueMicrotask(func() { _, _ = fn(goja.Undefined(), rest...) })
			return goja.Undefined()
		}),
		proc.Set("exit", func(call goja.FunctionCall) goja.Value {
			r.exitCode = int(call.Argument(0).ToInteger())
			_ = proc.Set("exitCode", r.exitCode)
			return goja.Undefined()
		}),
	)
	if err != nil {
		return nil, err
	}

	// stdout/stderr capture into the console buffer.
	for name, level := range map[string]string{"stdout": "log", "stderr": "error"} {
		stream := vm.NewObject()
		level := level
		if err := stream.Set("write", func(call goja.FunctionCall) goja.Value {
			r.appendConsole(level, call.Argument(0).String())
			return vm.ToValue(true)
		}); err != nil {
			return nil, err
		}
		if err := proc.Set(name, stream); err != nil {
			return nil, err
		}
	}

	return proc, nil
}
