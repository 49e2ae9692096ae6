package sandbox

import (
	"github.com/dop251/goja"

	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// pathModule builds the path builtin over the vpath package.
func (r *Runtime) pathModule() (goja.Value, error) {
	vm := r.vm
	mod := vm.NewObject()

	collect := func(call goja.FunctionCall) []string {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		return parts
	}

	err := firstErr(
		mod.Set("sep", "/"),
		mod.Set("delimiter", ":"),
		mod.Set("join", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(vpath.Join(collect(call)...))
		}),
		mod.Set("resolve", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(vpath.Resolve(r.cwd, collect(call)...))
		}),
		mod.Set("normalize", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(vpath.Normalize(call.Argument(0).String()))
		}),
		mod.Set("dirname", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(vpath.Dirname(call.Argument(0).String()))
		}),
		mod.Set("basename", func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) > 1 {
				return vm.ToValue(vpath.Basename(call.Argument(0).String(), call.Argument(1).String()))
			}
			return vm.ToValue(vpath.Basename(call.Argument(0).String()))
		}),
		mod.Set("extname", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(vpath.Extname(call.Argument(0).String()))
		}),
		mod.Set("relative", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(vpath.Relative(call.Argument(0).String(), call.Argument(1).String()))
		}),
		mod.Set("isAbsolute", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(vpath.IsAbsolute(call.Argument(0).String()))
		}),
	)
	if err != nil {
		return nil, err
	}

	// path.posix aliases the module itself; there is no win32 surface.
	if err := mod.Set("posix", mod); err != nil {
		return nil, err
	}
	return mod, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
