package native

// #cgo linux LDFLAGS: -ldl
// #include <dlfcn.h>
// #include <stdlib.h>
//
// typedef struct { void *data; long long len; long long cap; } GoSlice;
// typedef struct { void *r0; long long r1; } LibReturn;
//
// typedef LibReturn (*lib_fn)(GoSlice);
// typedef unsigned char (*verify_fn)(GoSlice);
// typedef unsigned char (*init_fn)(unsigned char, GoSlice, GoSlice);
// typedef void (*free_fn)(void *);
//
// static GoSlice slice(void *data, long long len) {
// 	GoSlice s = { data, len, len };
// 	return s;
// }
//
// static LibReturn call_lib(void *fn, void *data, long long len) {
// 	return ((lib_fn)fn)(slice(data, len));
// }
//
// static unsigned char call_verify(void *fn, void *data, long long len) {
// 	return ((verify_fn)fn)(slice(data, len));
// }
//
// static unsigned char call_init(void *fn, unsigned char id, void *pk, long long pk_len, void *r1cs, long long r1cs_len) {
// 	return ((init_fn)fn)(id, slice(pk, pk_len), slice(r1cs, r1cs_len));
// }
//
// static void call_free(void *fn, void *p) {
// 	((free_fn)fn)(p);
// }
import "C"

import (
	"errors"
	"fmt"
	"unsafe"
)

// dl is a dlopen'ed shared library. Libraries are never closed: a Go
// c-shared library can't be unloaded from a running process.
type dl struct {
	path   string
	handle unsafe.Pointer
}

func dlopen(path string) (*dl, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	handle := C.dlopen(cpath, C.RTLD_NOW|C.RTLD_LOCAL)
	if handle == nil {
		return nil, errors.New(C.GoString(C.dlerror()))
	}
	return &dl{path: path, handle: handle}, nil
}

func (l *dl) symbol(name string) (unsafe.Pointer, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	C.dlerror()
	sym := C.dlsym(l.handle, cname)
	if sym == nil {
		return nil, fmt.Errorf("symbol %s not found in %s", name, l.path)
	}
	return sym, nil
}

type symbols struct {
	prove, verify, init, free, vfree            unsafe.Pointer
	thresholdKeys, evaluate, request, finalize unsafe.Pointer
}

// dlLibrary calls into the prover and verifier libraries.
type dlLibrary struct {
	sym symbols
}

func openLibrary(provePath, verifyPath string) (*dlLibrary, error) {
	verify, err := dlopen(verifyPath)
	if err != nil {
		return nil, err
	}
	prove, err := dlopen(provePath)
	if err != nil {
		return nil, err
	}

	lib := &dlLibrary{}
	for _, s := range []struct {
		lib  *dl
		name string
		dst  *unsafe.Pointer
	}{
		{verify, "Verify", &lib.sym.verify},
		{verify, "VFree", &lib.sym.vfree},
		{verify, "GenerateThresholdKeys", &lib.sym.thresholdKeys},
		{verify, "OPRFEvaluate", &lib.sym.evaluate},
		{prove, "Free", &lib.sym.free},
		{prove, "Prove", &lib.sym.prove},
		{prove, "InitAlgorithm", &lib.sym.init},
		{prove, "GenerateOPRFRequestData", &lib.sym.request},
		{prove, "TOPRFFinalize", &lib.sym.finalize},
	} {
		if *s.dst, err = s.lib.symbol(s.name); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// call passes input to fn and copies the returned buffer, which is then
// released with freeFn.
func call(fn, freeFn unsafe.Pointer, input []byte) ([]byte, error) {
	cInput := C.CBytes(input)
	defer C.free(cInput)

	res := C.call_lib(fn, cInput, C.longlong(len(input)))
	if res.r0 == nil {
		return nil, errors.New("library returned no result")
	}
	defer C.call_free(freeFn, res.r0)
	if res.r1 <= 0 {
		return nil, errors.New("library returned an empty result")
	}
	return C.GoBytes(res.r0, C.int(res.r1)), nil
}

func (l *dlLibrary) Prove(witness []byte) ([]byte, error) {
	return call(l.sym.prove, l.sym.free, witness)
}

func (l *dlLibrary) Verify(params []byte) bool {
	cParams := C.CBytes(params)
	defer C.free(cParams)
	return C.call_verify(l.sym.verify, cParams, C.longlong(len(params))) == 1
}

func (l *dlLibrary) InitAlgorithm(id uint8, pk, r1cs []byte) bool {
	cPK := C.CBytes(pk)
	defer C.free(cPK)
	cR1CS := C.CBytes(r1cs)
	defer C.free(cR1CS)
	return C.call_init(l.sym.init, C.uchar(id), cPK, C.longlong(len(pk)), cR1CS, C.longlong(len(r1cs))) == 1
}

func (l *dlLibrary) GenerateThresholdKeys(params []byte) ([]byte, error) {
	return call(l.sym.thresholdKeys, l.sym.vfree, params)
}

func (l *dlLibrary) OPRFEvaluate(params []byte) ([]byte, error) {
	return call(l.sym.evaluate, l.sym.vfree, params)
}

func (l *dlLibrary) GenerateOPRFRequestData(params []byte) ([]byte, error) {
	return call(l.sym.request, l.sym.free, params)
}

func (l *dlLibrary) TOPRFFinalize(params []byte) ([]byte, error) {
	return call(l.sym.finalize, l.sym.free, params)
}
