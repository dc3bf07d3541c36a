package expander

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/fetch"
	"github.com/spacemeshos/zksym/metrics"
	"github.com/spacemeshos/zksym/proving"
	"github.com/spacemeshos/zksym/rpc"
	"github.com/spacemeshos/zksym/shared"
	"github.com/spacemeshos/zksym/workers"
)

const (
	engineName = "expander"

	proveRequest = "prove"
)

// mainInstance is the instance circuits are loaded into and that proves
// when there is no worker pool. Workers start from a copy of its memory.
type mainInstance struct {
	engine Engine

	mu   sync.Mutex
	inst Instance
}

var (
	modules   proving.Loader[*Module]
	instances proving.Loader[*mainInstance]
	loaded    proving.Loader[struct{}]
)

// Operator implements proving.Operator with the expander prover.
type Operator struct {
	alg     config.EncryptionAlgorithm
	cfg     config.AlgorithmConfig
	fetcher fetch.Fetcher
	engine  Engine
	pool    *workers.Pool
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ proving.Operator = (*Operator)(nil)

// NewOperator returns an operator running the module fetched as
// ModuleName. The module is compiled once per process.
func NewOperator(alg config.EncryptionAlgorithm, fetcher fetch.Fetcher, opts ...proving.OptionFunc) (*Operator, error) {
	return newOperator(alg, fetcher, nil, opts...)
}

// NewOperatorWithEngine returns an operator running instances of engine.
func NewOperatorWithEngine(alg config.EncryptionAlgorithm, fetcher fetch.Fetcher, engine Engine, opts ...proving.OptionFunc) (*Operator, error) {
	if engine == nil {
		return nil, errors.New("`engine` is nil")
	}
	return newOperator(alg, fetcher, engine, opts...)
}

func newOperator(alg config.EncryptionAlgorithm, fetcher fetch.Fetcher, engine Engine, opts ...proving.OptionFunc) (*Operator, error) {
	cfg, err := config.Lookup(alg)
	if err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, errors.New("`fetcher` is required")
	}
	options, err := proving.NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	o := &Operator{
		alg:     alg,
		cfg:     cfg,
		fetcher: fetcher,
		engine:  engine,
		logger:  options.Logger.With(zap.String("engine", engineName), zap.String("algorithm", string(alg))),
		metrics: options.Metrics,
	}
	if options.MaxWorkers > 0 {
		o.pool, err = workers.NewPool(options.MaxWorkers, o.startWorker,
			workers.WithLogger(o.logger),
			workers.WithHooks(
				func() { o.metrics.WorkerStarted(engineName) },
				func(n int) { o.metrics.WorkersStopped(engineName, n) },
			),
		)
		if err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Operator) loadEngine(ctx context.Context) (Engine, error) {
	if o.engine != nil {
		return o.engine, nil
	}
	return modules.Load(ctx, ModuleName, func(ctx context.Context) (*Module, error) {
		wasm, err := o.fetcher.Fetch(ctx, Namespace, ModuleName)
		if err != nil {
			return nil, err
		}
		return Compile(ctx, wasm, o.logger)
	})
}

func (o *Operator) main(ctx context.Context) (*mainInstance, error) {
	engine, err := o.loadEngine(ctx)
	if err != nil {
		return nil, fmt.Errorf("load expander: %w", err)
	}
	return instances.Load(ctx, fmt.Sprintf("%p", engine), func(ctx context.Context) (*mainInstance, error) {
		inst, err := engine.Instantiate(ctx)
		if err != nil {
			return nil, err
		}
		return &mainInstance{engine: engine, inst: inst}, nil
	})
}

// loadCircuit loads the verifier circuit into the main instance.
func (o *Operator) loadCircuit(ctx context.Context, m *mainInstance) error {
	return o.loadArtifact(ctx, m, "circuit", CircuitName(o.alg), Instance.CircuitLoaded, Instance.LoadCircuit)
}

// loadProver loads the witness solver and the circuit into the main instance.
func (o *Operator) loadProver(ctx context.Context, m *mainInstance) error {
	if err := o.loadArtifact(ctx, m, "solver", SolverName(o.alg), Instance.SolverLoaded, Instance.LoadSolver); err != nil {
		return err
	}
	return o.loadCircuit(ctx, m)
}

func (o *Operator) loadArtifact(
	ctx context.Context,
	m *mainInstance,
	kind, filename string,
	isLoaded func(Instance, context.Context, uint8) (bool, error),
	load func(Instance, context.Context, uint8, []byte) error,
) error {
	id := o.cfg.BackendIndex
	key := fmt.Sprintf("%p/%s/%d", m, kind, id)
	_, err := loaded.Load(ctx, key, func(ctx context.Context) (struct{}, error) {
		m.mu.Lock()
		ok, err := isLoaded(m.inst, ctx, id)
		m.mu.Unlock()
		if err != nil || ok {
			return struct{}{}, err
		}

		o.logger.Debug("fetching "+kind, zap.String("filename", filename))
		data, err := o.fetcher.Fetch(ctx, Namespace, filename)
		if err != nil {
			return struct{}{}, err
		}
		o.logger.Debug(kind+" fetched, loading", shared.Size("size", len(data)))

		m.mu.Lock()
		defer m.mu.Unlock()
		if err := load(m.inst, ctx, id, data); err != nil {
			return struct{}{}, err
		}
		o.logger.Debug(kind + " loaded")
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("load %s %s: %w", o.alg, kind, err)
	}
	return nil
}

func (o *Operator) GenerateWitness(_ context.Context, input *shared.ProofInput) (shared.Witness, error) {
	if input.TOPRF != nil {
		return nil, errors.New("expander circuits don't prove toprf outputs")
	}
	return Witness(o.alg, input)
}

func (o *Operator) Groth16Prove(ctx context.Context, wtns shared.Witness) (res *shared.ProofResult, err error) {
	start := time.Now()
	defer func() { o.metrics.ObserveProof(engineName, string(o.alg), start, err) }()

	pubBits, privBits, err := SplitWitness(o.alg, wtns)
	if err != nil {
		return nil, err
	}
	public, err := DecodePublicBits(o.alg, pubBits)
	if err != nil {
		return nil, err
	}

	m, err := o.main(ctx)
	if err != nil {
		return nil, err
	}
	if err := o.loadProver(ctx, m); err != nil {
		return nil, err
	}

	var proof []byte
	if o.pool == nil {
		m.mu.Lock()
		proof, err = m.inst.Prove(ctx, o.cfg.BackendIndex, privBits, pubBits)
		m.mu.Unlock()
	} else {
		proof, err = o.proveOnWorker(ctx, privBits, pubBits)
	}
	if err != nil {
		o.logger.Error("proof generation failed", zap.Error(err))
		return nil, fmt.Errorf("prove: %w", err)
	}
	o.logger.Debug("proof generated", zap.Duration("duration", time.Since(start)), shared.Size("size", len(proof)))
	return &shared.ProofResult{Proof: proof, PublicSignals: public}, nil
}

func (o *Operator) proveOnWorker(ctx context.Context, privBits, pubBits []byte) ([]byte, error) {
	w, err := o.pool.Next(ctx)
	if err != nil {
		return nil, err
	}
	res, err := w.Call(ctx, proveRequest, o.cfg.BackendIndex, privBits, pubBits)
	if err != nil {
		return nil, err
	}
	proof, ok := res.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected prove result %T", res)
	}
	return proof, nil
}

// startWorker starts an instance from a snapshot of the main instance's
// memory, taken after the prover was loaded into it.
func (o *Operator) startWorker(ctx context.Context) (*workers.Worker, error) {
	m, err := o.main(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	snapshot, err := m.inst.Snapshot()
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("snapshot memory: %w", err)
	}

	return workers.Start(ctx, func(ctx context.Context, ep *rpc.Endpoint) error {
		inst, err := m.engine.Instantiate(ctx)
		if err != nil {
			return err
		}
		defer inst.Close(context.WithoutCancel(ctx))

		if err := inst.Restore(snapshot); err != nil {
			return fmt.Errorf("restore memory: %w", err)
		}
		o.logger.Debug("worker initialized with memory", shared.Size("memory", len(snapshot)))

		return rpc.Serve(ctx, ep, map[string]rpc.Handler{
			proveRequest: func(ctx context.Context, args []any) (any, error) {
				if len(args) != 3 {
					return nil, fmt.Errorf("prove expects 3 arguments, given: %d", len(args))
				}
				id, ok1 := args[0].(uint8)
				priv, ok2 := args[1].([]byte)
				pub, ok3 := args[2].([]byte)
				if !ok1 || !ok2 || !ok3 {
					return nil, errors.New("prove arguments: expected (uint8, []byte, []byte)")
				}
				return inst.Prove(ctx, id, priv, pub)
			},
		}, o.logger)
	}, o.logger)
}

func (o *Operator) Groth16Verify(ctx context.Context, signals *shared.PublicSignals, proof shared.Proof) (valid bool, err error) {
	defer func() { o.metrics.ObserveVerification(engineName, string(o.alg), valid, err) }()

	if len(proof) == 0 {
		return false, &shared.VerificationError{Reason: "expected binary proof"}
	}
	pubBits, err := PublicBits(o.alg, signals)
	if err != nil {
		return false, err
	}

	m, err := o.main(ctx)
	if err != nil {
		return false, err
	}
	if err := o.loadCircuit(ctx, m); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inst.Verify(ctx, o.cfg.BackendIndex, pubBits, proof)
}

// Release terminates the operator's workers. Calls in flight on them fail
// with shared.ErrPoolTeardown; later proofs start new workers. The main
// instance is shared by the process and stays loaded.
func (o *Operator) Release() error {
	if o.pool == nil {
		return nil
	}
	return o.pool.Release()
}
