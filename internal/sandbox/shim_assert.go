package sandbox

import (
	"fmt"
	"reflect"

	"github.com/dop251/goja"
)

// assertModule builds the assert builtin. The exported value is itself
// callable (assert(value, message)) with the method surface attached.
func (r *Runtime) assertModule() (goja.Value, error) {
	vm := r.vm

	fail := func(msg string) {
		r.throwError("ERR_ASSERTION", msg)
	}

	root := func(call goja.FunctionCall) goja.Value {
		if !call.Argument(0).ToBoolean() {
			fail(messageOr(call.Argument(1), "assertion failed"))
		}
		return goja.Undefined()
	}

	fn := vm.ToValue(root).ToObject(vm)

	err := firstErr(
		fn.Set("ok", root),
		fn.Set("equal", func(call goja.FunctionCall) goja.Value {
			a, b := call.Argument(0), call.Argument(1)
			if !a.Equals(b) {
				fail(messageOr(call.Argument(2), fmt.Sprintf("%s == %s", a, b)))
			}
			return goja.Undefined()
		}),
		fn.Set("notEqual", func(call goja.FunctionCall) goja.Value {
			a, b := call.Argument(0), call.Argument(1)
			if a.Equals(b) {
				fail(messageOr(call.Argument(2), fmt.Sprintf("%s != %s", a, b)))
			}
			return goja.Undefined()
		}),
		fn.Set("strictEqual", func(call goja.FunctionCall) goja.Value {
			a, b := call.Argument(0), call.Argument(1)
			if !a.StrictEquals(b) {
				fail(messageOr(call.Argument(2), fmt.Sprintf("%s === %s", a, b)))
			}
			return goja.Undefined()
		}),
		fn.Set("deepEqual", deepEqualFn(r, fail, false)),
		fn.Set("deepStrictEqual", deepEqualFn(r, fail, true)),
		fn.Set("throws", func(call goja.FunctionCall) goja.Value {
			callee, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				r.throwError("ERR_INVALID_ARG_TYPE", "expected a function")
			}
			if _, err := callee(goja.Undefined()); err == nil {
				fail(messageOr(call.Argument(1), "missing expected exception"))
			}
			return goja.Undefined()
		}),
		fn.Set("fail", func(call goja.FunctionCall) goja.Value {
			fail(messageOr(call.Argument(0), "failed"))
			return goja.Undefined()
		}),
	)
	if err != nil {
		return nil, err
	}

	// assert.strict aliases the module, as callers expect.
	if err := fn.Set("strict", fn); err != nil {
		return nil, err
	}
	return fn, nil
}

func deepEqualFn(r *Runtime, fail func(string), strict bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		a, b := call.Argument(0).Export(), call.Argument(1).Export()
		if !reflect.DeepEqual(a, b) {
			kind := "deepEqual"
			if strict {
				kind = "deepStrictEqual"
			}
			fail(messageOr(call.Argument(2), fmt.Sprintf("%s: %v != %v", kind, a, b)))
		}
		return goja.Undefined()
	}
}

func messageOr(v goja.Value, fallback string) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return fallback
	}
	return v.String()
}
