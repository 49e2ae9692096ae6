package sandbox

import "github.com/dop251/goja"

// osModule builds a minimal os builtin sufficient for tooling that probes
// the host environment.
func (r *Runtime) osModule() (goja.Value, error) {
	vm := r.vm
	mod := vm.NewObject()

	err := firstErr(
		mod.Set("EOL", "\n"),
		mod.Set("platform", func(goja.FunctionCall) goja.Value { return vm.ToValue("linux") }),
		mod.Set("arch", func(goja.FunctionCall) goja.Value { return vm.ToValue("x64") }),
		mod.Set("homedir", func(goja.FunctionCall) goja.Value { return vm.ToValue("/home/web") }),
		mod.Set("tmpdir", func(goja.FunctionCall) goja.Value { return vm.ToValue("/tmp") }),
		mod.Set("hostname", func(goja.FunctionCall) goja.Value { return vm.ToValue("glassbox") }),
		mod.Set("cpus", func(goja.FunctionCall) goja.Value { return vm.ToValue([]interface{}{}) }),
	)
	if err != nil {
		return nil, err
	}
	return mod, nil
}
