package sandbox

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"

	"github.com/glassboxhq/glassbox/internal/sandbox/bufenc"
)

func hashConstructor(algorithm string) (func() hash.Hash, bool) {
	switch algorithm {
	case "sha256":
		return sha256.New, true
	case "sha1":
		return sha1.New, true
	case "sha512":
		return sha512.New, true
	case "md5":
		return md5.New, true
	default:
		return nil, false
	}
}

// cryptoModule builds the crypto builtin: hashing, HMAC, random bytes, and
// PBKDF2 key derivation.
func (r *Runtime) cryptoModule() (goja.Value, error) {
	vm := r.vm
	mod := vm.NewObject()

	newDigestObject := func(h hash.Hash) *goja.Object {
		obj := vm.NewObject()
		_ = obj.Set("update", func(call goja.FunctionCall) goja.Value {
			data := r.valueToBytes(call.Argument(0))
			if enc := optionEncoding(call.Argument(1)); enc != "" {
				if _, ok := call.Argument(0).Export().(string); ok {
					decoded, err := bufenc.Decode(call.Argument(0).String(), enc)
					if err != nil {
						r.throwError("ERR_UNKNOWN_ENCODING", err.Error())
					}
					data = decoded
				}
			}
			_, _ = h.Write(data)
			return obj
		})
		_ = obj.Set("digest", func(call goja.FunctionCall) goja.Value {
			sum := h.Sum(nil)
			if len(call.Arguments) == 0 {
				return r.newBuffer(sum)
			}
			out, err := bufenc.Encode(sum, call.Argument(0).String())
			if err != nil {
				r.throwError("ERR_UNKNOWN_ENCODING", err.Error())
			}
			return vm.ToValue(out)
		})
		return obj
	}

	err := firstErr(
		mod.Set("createHash", func(call goja.FunctionCall) goja.Value {
			ctor, ok := hashConstructor(call.Argument(0).String())
			if !ok {
				r.throwError("ERR_CRYPTO_INVALID_DIGEST", "unsupported algorithm: "+call.Argument(0).String())
			}
			return newDigestObject(ctor())
		}),
		mod.Set("createHmac", func(call goja.FunctionCall) goja.Value {
			ctor, ok := hashConstructor(call.Argument(0).String())
			if !ok {
				r.throwError("ERR_CRYPTO_INVALID_DIGEST", "unsupported algorithm: "+call.Argument(0).String())
			}
			key := r.valueToBytes(call.Argument(1))
			return newDigestObject(hmac.New(ctor, key))
		}),
		mod.Set("randomBytes", func(call goja.FunctionCall) goja.Value {
			n := int(call.Argument(0).ToInteger())
			if n < 0 {
				r.throwError("ERR_OUT_OF_RANGE", "size must be non-negative")
			}
			out := make([]byte, n)
			if _, err := rand.Read(out); err != nil {
				r.throwError("ERR_CRYPTO_OPERATION_FAILED", err.Error())
			}
			return r.newBuffer(out)
		}),
		mod.Set("randomUUID", func(goja.FunctionCall) goja.Value {
			return vm.ToValue(uuid.NewString())
		}),
		mod.Set("pbkdf2Sync", func(call goja.FunctionCall) goja.Value {
			password := r.valueToBytes(call.Argument(0))
			salt := r.valueToBytes(call.Argument(1))
			iterations := int(call.Argument(2).ToInteger())
			keyLen := int(call.Argument(3).ToInteger())
			ctor, ok := hashConstructor(call.Argument(4).String())
			if !ok {
				r.throwError("ERR_CRYPTO_INVALID_DIGEST", "unsupported digest: "+call.Argument(4).String())
			}
			if iterations <= 0 || keyLen < 0 {
				r.throwError("ERR_OUT_OF_RANGE", "invalid pbkdf2 parameters")
			}
			return r.newBuffer(pbkdf2.Key(password, salt, iterations, keyLen, ctor))
		}),
	)
	if err != nil {
		return nil, err
	}
	return mod, nil
}
