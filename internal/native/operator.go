package native

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/spacemeshos/zksym/bitstream"
	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/fetch"
	"github.com/spacemeshos/zksym/internal/gnark"
	"github.com/spacemeshos/zksym/metrics"
	"github.com/spacemeshos/zksym/proving"
	"github.com/spacemeshos/zksym/shared"
)

const (
	engine = "native"

	// TOPRF circuits are registered after the plain ones.
	oprfIDOffset = 3
)

// initialized holds the libraries each circuit was registered with, keyed
// by library and circuit id.
var initialized proving.Loader[Library]

// Operator implements proving.Operator over the shared libraries. The
// libraries and the circuits registered in them live for the whole process.
type Operator struct {
	alg     config.EncryptionAlgorithm
	id      uint8
	ext     string
	oprf    bool
	fetcher fetch.Fetcher
	libDir  string
	lib     Library
	sem     *semaphore.Weighted
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ proving.Operator = (*Operator)(nil)

// NewOperator returns an operator proving with the libraries found in the
// proving.WithLibDir directory. The libraries are opened on first use.
func NewOperator(alg config.EncryptionAlgorithm, fetcher fetch.Fetcher, opts ...proving.OptionFunc) (*Operator, error) {
	return newOperator(alg, fetcher, nil, false, opts...)
}

// NewOperatorWithLibrary returns an operator calling into lib.
func NewOperatorWithLibrary(alg config.EncryptionAlgorithm, fetcher fetch.Fetcher, lib Library, opts ...proving.OptionFunc) (*Operator, error) {
	if lib == nil {
		return nil, errors.New("`lib` is nil")
	}
	return newOperator(alg, fetcher, lib, false, opts...)
}

func newOperator(alg config.EncryptionAlgorithm, fetcher fetch.Fetcher, lib Library, oprf bool, opts ...proving.OptionFunc) (*Operator, error) {
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

	id := cfg.BackendIndex
	if oprf {
		id += oprfIDOffset
	}
	return &Operator{
		alg:     alg,
		id:      id,
		ext:     gnark.Extension(alg, oprf),
		oprf:    oprf,
		fetcher: fetcher,
		libDir:  options.LibDir,
		lib:     lib,
		sem:     semaphore.NewWeighted(int64(options.MaxProofConcurrency)),
		logger:  options.Logger.With(zap.String("engine", engine), zap.String("algorithm", string(alg))),
		metrics: options.Metrics,
	}, nil
}

func (o *Operator) library(ctx context.Context) (Library, error) {
	if o.lib != nil {
		return o.lib, nil
	}
	return Load(ctx, o.libDir, o.logger)
}

// initAlgorithm registers the circuit and proving key with the prover
// library, once per library and algorithm.
func (o *Operator) initAlgorithm(ctx context.Context, lib Library) error {
	key := fmt.Sprintf("%p/%d", lib, o.id)
	_, err := initialized.Load(ctx, key, func(ctx context.Context) (Library, error) {
		pk, err := o.fetcher.Fetch(ctx, gnark.Namespace, "pk."+o.ext)
		if err != nil {
			return nil, err
		}
		r1cs, err := o.fetcher.Fetch(ctx, gnark.Namespace, "r1cs."+o.ext)
		if err != nil {
			return nil, err
		}
		if !lib.InitAlgorithm(o.id, pk, r1cs) {
			return nil, fmt.Errorf("library rejected %s circuit (id %d)", o.ext, o.id)
		}
		o.logger.Info("algorithm initialized",
			zap.Uint8("id", o.id),
			shared.Size("pk", len(pk)),
			shared.Size("r1cs", len(r1cs)),
		)
		return lib, nil
	})
	return err
}

func (o *Operator) GenerateWitness(_ context.Context, input *shared.ProofInput) (shared.Witness, error) {
	if o.oprf != (input.TOPRF != nil) {
		return nil, fmt.Errorf("toprf block required: %v, given: %v", o.oprf, input.TOPRF != nil)
	}
	return proving.EncodeWitness(o.alg, input)
}

func (o *Operator) Groth16Prove(ctx context.Context, wtns shared.Witness) (res *shared.ProofResult, err error) {
	start := time.Now()
	defer func() { o.metrics.ObserveProof(engine, string(o.alg), start, err) }()

	lib, err := o.library(ctx)
	if err != nil {
		return nil, err
	}
	if err := o.initAlgorithm(ctx, lib); err != nil {
		return nil, fmt.Errorf("init %s: %w", o.ext, err)
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	out, err := lib.Prove(wtns)
	o.sem.Release(1)
	if err != nil {
		return nil, fmt.Errorf("prove: %w", err)
	}

	var result ProveResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("decode prove result: %w", err)
	}
	if result.Proof.ProofJSON == "" {
		return nil, errors.New("prove result has no proof")
	}
	o.logger.Debug("proof generated", zap.Duration("duration", time.Since(start)))
	return &shared.ProofResult{
		Proof:         shared.Proof(result.Proof.ProofJSON),
		PublicSignals: result.PublicSignals,
	}, nil
}

// PublicSignals returns the public signals document the verifier library
// checks a proof against.
func PublicSignals(alg config.EncryptionAlgorithm, signals *shared.PublicSignals) ([]byte, error) {
	if signals.TOPRF != nil {
		return proving.EncodePublicSignals(alg, signals)
	}
	counter, err := bitstream.CounterBytes(alg, signals.Counter)
	if err != nil {
		return nil, err
	}
	return append(append(append(append([]byte(nil), signals.Out...), signals.Nonce...), counter...), signals.In...), nil
}

func (o *Operator) Groth16Verify(ctx context.Context, signals *shared.PublicSignals, proof shared.Proof) (valid bool, err error) {
	defer func() { o.metrics.ObserveVerification(engine, string(o.alg), valid, err) }()

	if (signals.TOPRF != nil) != o.oprf {
		return false, fmt.Errorf("toprf signals required: %v, given: %v", o.oprf, signals.TOPRF != nil)
	}
	if len(proof) == 0 {
		return false, &shared.VerificationError{Reason: "empty proof"}
	}
	if _, err := base64.StdEncoding.DecodeString(string(proof)); err != nil {
		return false, &shared.VerificationError{Reason: fmt.Sprintf("expected base64 proof: %v", err)}
	}

	pub, err := PublicSignals(o.alg, signals)
	if err != nil {
		return false, err
	}
	cipher := string(o.alg)
	if o.oprf {
		cipher += "-toprf"
	}
	params, err := json.Marshal(VerifyParams{
		Cipher:        cipher,
		Proof:         string(proof),
		PublicSignals: pub,
	})
	if err != nil {
		return false, err
	}

	lib, err := o.library(ctx)
	if err != nil {
		return false, err
	}
	return lib.Verify(params), nil
}

// Release is a no-op: the libraries stay loaded for the process.
func (o *Operator) Release() error {
	return nil
}
