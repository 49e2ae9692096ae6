package sandbox

import (
	"github.com/dop251/goja"

	"github.com/glassboxhq/glassbox/internal/sandbox/bufenc"
	"github.com/glassboxhq/glassbox/internal/vfs"
	"github.com/glassboxhq/glassbox/internal/vfs/vpath"
)

// fsModule builds the fs builtin over the virtual filesystem. Only the
// synchronous surface is emulated; the callback forms delegate to it and
// complete on the next tick.
func (r *Runtime) fsModule() (goja.Value, error) {
	vm := r.vm
	mod := vm.NewObject()

	abs := func(p string) string { return vpath.Resolve(r.cwd, p) }

	readFileSync := func(call goja.FunctionCall) goja.Value {
		path := abs(call.Argument(0).String())
		data, err := r.fs.Read(path)
		if err != nil {
			r.throwFSError(err)
		}
		encoding := optionEncoding(call.Argument(1))
		if encoding == "" {
			return r.newBuffer(data)
		}
		out, encErr := bufenc.Encode(data, encoding)
		if encErr != nil {
			r.throwError("ERR_UNKNOWN_ENCODING", encErr.Error())
		}
		return vm.ToValue(out)
	}

	writeFileSync := func(call goja.FunctionCall) goja.Value {
		path := abs(call.Argument(0).String())
		data := r.valueToBytes(call.Argument(1))
		if err := r.fs.Write(path, data, vfs.WriteOptions{}); err != nil {
			r.throwFSError(err)
		}
		return goja.Undefined()
	}

	err := firstErr(
		mod.Set("readFileSync", readFileSync),
		mod.Set("writeFileSync", writeFileSync),
		mod.Set("existsSync", func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(r.fs.Exists(abs(call.Argument(0).String())))
		}),
		mod.Set("mkdirSync", func(call goja.FunctionCall) goja.Value {
			recursive := boolOption(call.Argument(1), "recursive")
			if err := r.fs.Mkdir(abs(call.Argument(0).String()), recursive); err != nil {
				if !(recursive && vfs.IsExists(err)) {
					r.throwFSError(err)
				}
			}
			return goja.Undefined()
		}),
		mod.Set("readdirSync", func(call goja.FunctionCall) goja.Value {
			entries, err := r.fs.Readdir(abs(call.Argument(0).String()))
			if err != nil {
				r.throwFSError(err)
			}
			names := make([]string, len(entries))
			for i, e := range entries {
				names[i] = e.Name
			}
			return vm.ToValue(names)
		}),
		mod.Set("statSync", func(call goja.FunctionCall) goja.Value {
			info, err := r.fs.Stat(abs(call.Argument(0).String()))
			if err != nil {
				r.throwFSError(err)
			}
			return r.statObject(info)
		}),
		mod.Set("lstatSync", func(call goja.FunctionCall) goja.Value {
			info, err := r.fs.Lstat(abs(call.Argument(0).String()))
			if err != nil {
				r.throwFSError(err)
			}
			return r.statObject(info)
		}),
		mod.Set("rmSync", func(call goja.FunctionCall) goja.Value {
			opts := vfs.RemoveOptions{
				Recursive: boolOption(call.Argument(1), "recursive"),
				Force:     boolOption(call.Argument(1), "force"),
			}
			if err := r.fs.Rm(abs(call.Argument(0).String()), opts); err != nil {
				r.throwFSError(err)
			}
			return goja.Undefined()
		}),
		mod.Set("unlinkSync", func(call goja.FunctionCall) goja.Value {
			if err := r.fs.Rm(abs(call.Argument(0).String()), vfs.RemoveOptions{}); err != nil {
				r.throwFSError(err)
			}
			return goja.Undefined()
		}),
		mod.Set("renameSync", func(call goja.FunctionCall) goja.Value {
			if err := r.fs.Rename(abs(call.Argument(0).String()), abs(call.Argument(1).String())); err != nil {
				r.throwFSError(err)
			}
			return goja.Undefined()
		}),
	)
	if err != nil {
		return nil, err
	}

	// Callback forms complete on the next tick with (err, result).
	for sync, async := range map[string]string{
		"readFileSync":  "readFile",
		"writeFileSync": "writeFile",
		"mkdirSync":     "mkdir",
		"readdirSync":   "readdir",
		"statSync":      "stat",
		"rmSync":        "rm",
		"unlinkSync":    "unlink",
		"renameSync":    "rename",
	} {
		if err := r.asyncWrap(mod, sync, async); err != nil {
			return nil, err
		}
	}

	return mod, nil
}

// asyncWrap installs a callback-style method delegating to its sync twin.
func (r *Runtime) asyncWrap(mod *goja.Object, syncName, asyncName string) error {
	vm := r.vm
	syncFn, ok := goja.AssertFunction(mod.Get(syncName))
	if !ok {
		return nil
	}
	return mod.Set(asyncName, func(call goja.FunctionCall) goja.Value {
		args := call.Arguments
		if len(args) == 0 {
			return goja.Undefined()
		}
		cb, ok := goja.AssertFunction(args[len(args)-1])
		if !ok {
			r.throwError("ERR_INVALID_CALLBACK", "callback must be a function")
		}
		rest := append([]goja.Value(nil), args[:len(args)-1]...)
		r.EnqueueMicrotask(func() {
			result, err := syncFn(goja.Undefined(), rest...)
			if err != nil {
				_, _ = cb(goja.Undefined(), errorValue(vm, err))
				return
			}
			_, _ = cb(goja.Undefined(), goja.Null(), result)
		})
		return goja.Undefined()
	})
}

func errorValue(vm *goja.Runtime, err error) goja.Value {
	if exc, ok := err.(*goja.Exception); ok {
		return exc.Value()
	}
	return vm.ToValue(err.Error())
}

func (r *Runtime) statObject(info vfs.Info) goja.Value {
	vm := r.vm
	obj := vm.NewObject()
	_ = obj.Set("size", info.Size)
	_ = obj.Set("mtimeMs", info.ModTime.UnixMilli())
	_ = obj.Set("isDirectory", func() bool { return info.IsDir })
	_ = obj.Set("isFile", func() bool { return info.Kind == vfs.KindFile })
	_ = obj.Set("isSymbolicLink", func() bool { return info.Kind == vfs.KindAlias })
	return obj
}

// optionEncoding extracts an encoding from a string or {encoding} option.
func optionEncoding(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	if obj, ok := v.(*goja.Object); ok {
		enc := obj.Get("encoding")
		if enc == nil || goja.IsUndefined(enc) || goja.IsNull(enc) {
			return ""
		}
		return enc.String()
	}
	return v.String()
}

func boolOption(v goja.Value, key string) bool {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.ToBoolean()
	}
	opt := obj.Get(key)
	return opt != nil && opt.ToBoolean()
}
