package expander

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/spacemeshos/zksym/shared"
)

const (
	bytesPerPage = 65536

	// bindgenModule is the import module of the wasm-bindgen glue.
	bindgenModule = "wbg"
)

// Module is a compiled prover module.
type Module struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	logger   *zap.Logger
}

var _ Engine = (*Module)(nil)

// Compile compiles the prover module. Functions the module imports from the
// wasm-bindgen glue are provided as no-ops, except __wbindgen_throw, which
// fails the running call with the thrown message.
func Compile(ctx context.Context, wasm []byte, logger *zap.Logger) (*Module, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Calls stop when their context is done, so workers can be terminated
	// mid-proof.
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	compiled, err := r.CompileModule(ctx, wasm)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("compile module: %w", err)
	}

	if err := instantiateGlue(ctx, r, compiled, logger); err != nil {
		r.Close(ctx)
		return nil, err
	}
	logger.Debug("expander module compiled", shared.Size("size", len(wasm)))
	return &Module{runtime: r, compiled: compiled, logger: logger}, nil
}

func instantiateGlue(ctx context.Context, r wazero.Runtime, compiled wazero.CompiledModule, logger *zap.Logger) error {
	var builder wazero.HostModuleBuilder
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		if module != bindgenModule {
			continue
		}
		if builder == nil {
			builder = r.NewHostModuleBuilder(bindgenModule)
		}

		fn := api.GoModuleFunc(func(context.Context, api.Module, []uint64) {})
		if name == "__wbindgen_throw" {
			fn = throw
		} else {
			logger.Debug("stubbing module import", zap.String("name", name))
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(fn, def.ParamTypes(), def.ResultTypes()).
			Export(name)
	}
	if builder == nil {
		return nil
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiate %s imports: %w", bindgenModule, err)
	}
	return nil
}

func throw(_ context.Context, mod api.Module, stack []uint64) {
	ptr, size := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	msg, ok := mod.Memory().Read(ptr, size)
	if !ok {
		panic(errors.New("module threw an error out of memory bounds"))
	}
	panic(errors.New(string(msg)))
}

// Instantiate returns an instance with fresh memory.
func (m *Module) Instantiate(ctx context.Context) (Instance, error) {
	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("instantiate module: %w", err)
	}
	inst := &wasmInstance{mod: mod}
	if start := mod.ExportedFunction("__wbindgen_start"); start != nil {
		if _, err := start.Call(ctx); err != nil {
			mod.Close(ctx)
			return nil, fmt.Errorf("start module: %w", err)
		}
	}
	return inst, nil
}

// Close releases the runtime and every instance created from it.
func (m *Module) Close(ctx context.Context) error {
	return m.runtime.Close(ctx)
}

type wasmInstance struct {
	mod api.Module
}

func (w *wasmInstance) call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := w.mod.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("module doesn't export %s", name)
	}
	res, err := fn.Call(ctx, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

// pass copies data into memory allocated by the module.
func (w *wasmInstance) pass(ctx context.Context, data []byte) (ptr, size uint64, err error) {
	res, err := w.call(ctx, "__wbindgen_malloc", uint64(len(data)), 1)
	if err != nil {
		return 0, 0, err
	}
	if !w.mod.Memory().Write(uint32(res[0]), data) {
		return 0, 0, fmt.Errorf("write %d bytes at %d: out of memory bounds", len(data), res[0])
	}
	return res[0], uint64(len(data)), nil
}

// failed reports a Result error returned by wasm-bindgen: the last result
// is set when the call failed.
func failed(name string, res []uint64, okResults int) error {
	if len(res) > okResults && res[len(res)-1] != 0 {
		return fmt.Errorf("%s failed", name)
	}
	return nil
}

func (w *wasmInstance) load(ctx context.Context, name string, id uint8, data []byte) error {
	ptr, size, err := w.pass(ctx, data)
	if err != nil {
		return err
	}
	res, err := w.call(ctx, name, uint64(id), ptr, size)
	if err != nil {
		return err
	}
	return failed(name, res, 0)
}

func (w *wasmInstance) loaded(ctx context.Context, name string, id uint8) (bool, error) {
	res, err := w.call(ctx, name, uint64(id))
	if err != nil {
		return false, err
	}
	if len(res) == 0 {
		return false, fmt.Errorf("%s returned no result", name)
	}
	return res[0] != 0, nil
}

func (w *wasmInstance) LoadCircuit(ctx context.Context, id uint8, data []byte) error {
	return w.load(ctx, "load_circuit", id, data)
}

func (w *wasmInstance) LoadSolver(ctx context.Context, id uint8, data []byte) error {
	return w.load(ctx, "load_solver", id, data)
}

func (w *wasmInstance) CircuitLoaded(ctx context.Context, id uint8) (bool, error) {
	return w.loaded(ctx, "is_circuit_loaded", id)
}

func (w *wasmInstance) SolverLoaded(ctx context.Context, id uint8) (bool, error) {
	return w.loaded(ctx, "is_solver_loaded", id)
}

func (w *wasmInstance) Prove(ctx context.Context, id uint8, privBits, pubBits []byte) ([]byte, error) {
	privPtr, privLen, err := w.pass(ctx, privBits)
	if err != nil {
		return nil, err
	}
	pubPtr, pubLen, err := w.pass(ctx, pubBits)
	if err != nil {
		return nil, err
	}
	res, err := w.call(ctx, "prove", uint64(id), privPtr, privLen, pubPtr, pubLen)
	if err != nil {
		return nil, err
	}

	var ptr, size uint32
	switch {
	case len(res) == 1:
		// A slice packed into a single i64.
		ptr, size = uint32(res[0]), uint32(res[0]>>32)
	case len(res) >= 2:
		if err := failed("prove", res, 2); err != nil {
			return nil, err
		}
		ptr, size = uint32(res[0]), uint32(res[1])
	default:
		return nil, errors.New("prove returned no result")
	}

	view, ok := w.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("read proof of %d bytes at %d: out of memory bounds", size, ptr)
	}
	proof := append([]byte(nil), view...)
	if _, err := w.call(ctx, "__wbindgen_free", uint64(ptr), uint64(size), 1); err != nil {
		return nil, err
	}
	return proof, nil
}

func (w *wasmInstance) Verify(ctx context.Context, id uint8, pubBits, proof []byte) (bool, error) {
	pubPtr, pubLen, err := w.pass(ctx, pubBits)
	if err != nil {
		return false, err
	}
	proofPtr, proofLen, err := w.pass(ctx, proof)
	if err != nil {
		return false, err
	}
	res, err := w.call(ctx, "verify", uint64(id), pubPtr, pubLen, proofPtr, proofLen)
	if err != nil {
		return false, err
	}
	if len(res) == 0 {
		return false, errors.New("verify returned no result")
	}
	if err := failed("verify", res, 1); err != nil {
		return false, err
	}
	return res[0] != 0, nil
}

func (w *wasmInstance) Snapshot() ([]byte, error) {
	mem := w.mod.Memory()
	if mem == nil {
		return nil, errors.New("module has no memory")
	}
	view, ok := mem.Read(0, mem.Size())
	if !ok {
		return nil, errors.New("read memory")
	}
	return append([]byte(nil), view...), nil
}

func (w *wasmInstance) Restore(snapshot []byte) error {
	mem := w.mod.Memory()
	if mem == nil {
		return errors.New("module has no memory")
	}
	if len(snapshot)%bytesPerPage != 0 {
		return fmt.Errorf("%w: snapshot of %d bytes isn't a whole number of pages", shared.ErrInvalidLength, len(snapshot))
	}
	if size := int(mem.Size()); len(snapshot) > size {
		pages := (len(snapshot) - size) / bytesPerPage
		if _, ok := mem.Grow(uint32(pages)); !ok {
			return fmt.Errorf("grow memory by %d pages", pages)
		}
	}
	if !mem.Write(0, snapshot) {
		return errors.New("write snapshot: out of memory bounds")
	}
	return nil
}

func (w *wasmInstance) Close(ctx context.Context) error {
	return w.mod.Close(ctx)
}
