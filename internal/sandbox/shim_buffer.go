package sandbox

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/glassboxhq/glassbox/internal/sandbox/bufenc"
)

// bufferSource implements Buffer on top of Uint8Array; the byte/string
// codecs live in Go (bufenc) and are reached through the injected codec.
const bufferSource = `
const codec = __glassbox_codec;

class Buffer extends Uint8Array {
  toString(encoding) {
    return codec.encode(this.buffer, this.byteOffset, this.byteLength, encoding || 'utf8');
  }
  equals(other) {
    if (!(other instanceof Uint8Array) || other.length !== this.length) return false;
    for (let i = 0; i < this.length; i++) {
      if (this[i] !== other[i]) return false;
    }
    return true;
  }
  slice(start, end) {
    return Buffer.from(this.subarray(start, end));
  }
  toJSON() {
    return { type: 'Buffer', data: Array.from(this) };
  }
}

Buffer.from = function(value, encoding) {
  if (typeof value === 'string') {
    return new Buffer(codec.decode(value, encoding || 'utf8'));
  }
  if (value instanceof ArrayBuffer) {
    return new Buffer(value.slice(0));
  }
  if (value instanceof Uint8Array || Array.isArray(value)) {
    const out = new Buffer(value.length);
    out.set(value);
    return out;
  }
  throw new TypeError('unsupported Buffer source');
};

Buffer.alloc = function(size, fill) {
  const out = new Buffer(size);
  if (fill !== undefined) out.fill(fill);
  return out;
};

Buffer.allocUnsafe = Buffer.alloc;

Buffer.isBuffer = function(value) {
  return value instanceof Buffer;
};

Buffer.byteLength = function(value, encoding) {
  if (typeof value === 'string') return Buffer.from(value, encoding).length;
  return value.length;
};

Buffer.concat = function(list, totalLength) {
  let total = 0;
  for (const item of list) total += item.length;
  if (totalLength !== undefined) total = totalLength;
  const out = new Buffer(total);
  let offset = 0;
  for (const item of list) {
    if (offset >= total) break;
    out.set(item.subarray(0, Math.min(item.length, total - offset)), offset);
    offset += item.length;
  }
  return out;
};

module.exports = { Buffer: Buffer };
`

// bufferModule builds the buffer builtin, injecting the Go codec before the
// embedded source runs.
func (r *Runtime) bufferModule() (goja.Value, error) {
	vm := r.vm

	codec := vm.NewObject()
	err := firstErr(
		codec.Set("encode", func(call goja.FunctionCall) goja.Value {
			ab, ok := call.Argument(0).Export().(goja.ArrayBuffer)
			if !ok {
				r.throwError("ERR_INVALID_ARG_TYPE", "expected ArrayBuffer")
			}
			offset := int(call.Argument(1).ToInteger())
			length := int(call.Argument(2).ToInteger())
			encoding := call.Argument(3).String()
			data := ab.Bytes()
			if offset < 0 || length < 0 || offset+length > len(data) {
				r.throwError("ERR_OUT_OF_RANGE", "view exceeds buffer bounds")
			}
			out, encErr := bufenc.Encode(data[offset:offset+length], encoding)
			if encErr != nil {
				r.throwError("ERR_UNKNOWN_ENCODING", encErr.Error())
			}
			return vm.ToValue(out)
		}),
		codec.Set("decode", func(call goja.FunctionCall) goja.Value {
			decoded, decErr := bufenc.Decode(call.Argument(0).String(), call.Argument(1).String())
			if decErr != nil {
				r.throwError("ERR_UNKNOWN_ENCODING", decErr.Error())
			}
			return vm.ToValue(vm.NewArrayBuffer(decoded))
		}),
	)
	if err != nil {
		return nil, err
	}

	vm.Set("__glassbox_codec", codec)
	exports, err := r.loader.runModuleBody("builtin:buffer", "/", []byte(bufferSource))
	vm.Set("__glassbox_codec", goja.Undefined())
	if err != nil {
		return nil, err
	}
	return exports, nil
}

// newBuffer wraps raw bytes in a Buffer instance.
func (r *Runtime) newBuffer(data []byte) goja.Value {
	bufMod, err := r.loader.requireBuiltin("buffer")
	if err != nil {
		r.throwError("ERR_INTERNAL", err.Error())
	}
	from, ok := goja.AssertFunction(bufMod.ToObject(r.vm).Get("Buffer").ToObject(r.vm).Get("from"))
	if !ok {
		r.throwError("ERR_INTERNAL", "Buffer.from unavailable")
	}
	out, err := from(goja.Undefined(), r.vm.ToValue(r.vm.NewArrayBuffer(data)))
	if err != nil {
		r.throwError("ERR_INTERNAL", err.Error())
	}
	return out
}

// valueToBytes extracts raw bytes from a string, Buffer, typed array, or
// ArrayBuffer argument.
func (r *Runtime) valueToBytes(v goja.Value) []byte {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch exported := v.Export().(type) {
	case string:
		return []byte(exported)
	case goja.ArrayBuffer:
		out := make([]byte, len(exported.Bytes()))
		copy(out, exported.Bytes())
		return out
	case []byte:
		out := make([]byte, len(exported))
		copy(out, exported)
		return out
	}

	// Typed-array view: read through buffer/byteOffset/byteLength.
	if obj, ok := v.(*goja.Object); ok {
		if ab, ok := obj.Get("buffer").Export().(goja.ArrayBuffer); ok {
			offset := int(obj.Get("byteOffset").ToInteger())
			length := int(obj.Get("byteLength").ToInteger())
			data := ab.Bytes()
			if offset >= 0 && length >= 0 && offset+length <= len(data) {
				out := make([]byte, length)
				copy(out, data[offset:offset+length])
				return out
			}
		}
	}
	r.throwError("ERR_INVALID_ARG_TYPE", fmt.Sprintf("cannot read bytes from %s", v))
	return nil
}
