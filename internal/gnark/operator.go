// Package gnark proves and verifies in-process with gnark's Groth16 over
// BN254. Circuits, proving and verifying keys are loaded once per process
// through a fetcher.
package gnark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/fetch"
	"github.com/spacemeshos/zksym/metrics"
	"github.com/spacemeshos/zksym/proving"
	"github.com/spacemeshos/zksym/shared"
)

const (
	// Namespace is the fetcher namespace of the artifacts.
	Namespace = "gnark"

	engine = "gnark"
)

var extensions = map[config.EncryptionAlgorithm]string{
	config.ChaCha20:  "chacha20",
	config.AES128CTR: "aes128",
	config.AES256CTR: "aes256",
}

// Extension returns the artifact file extension of alg.
func Extension(alg config.EncryptionAlgorithm, oprf bool) string {
	ext := extensions[alg]
	if oprf {
		ext += "_oprf"
	}
	return ext
}

type prover struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
}

var (
	provers   proving.Loader[*prover]
	verifiers proving.Loader[groth16.VerifyingKey]
)

// Reset forgets every loaded circuit and key. Subsequent proofs and
// verifications fetch them again.
func Reset() {
	provers.Reset()
	verifiers.Reset()
}

// Document is the JSON form of a proof.
type Document struct {
	Proof []byte `json:"proof"`
}

// Operator implements proving.Operator.
type Operator struct {
	alg     config.EncryptionAlgorithm
	ext     string
	oprf    bool
	fetcher fetch.Fetcher
	sem     *semaphore.Weighted
	logger  *zap.Logger
	metrics *metrics.Metrics
}

var _ proving.Operator = (*Operator)(nil)

func NewOperator(alg config.EncryptionAlgorithm, fetcher fetch.Fetcher, opts ...proving.OptionFunc) (*Operator, error) {
	return newOperator(alg, fetcher, false, opts...)
}

func newOperator(alg config.EncryptionAlgorithm, fetcher fetch.Fetcher, oprf bool, opts ...proving.OptionFunc) (*Operator, error) {
	if _, err := config.Lookup(alg); err != nil {
		return nil, err
	}
	if fetcher == nil {
		return nil, fmt.Errorf("`fetcher` is required")
	}
	options, err := proving.NewOptions(opts...)
	if err != nil {
		return nil, err
	}
	return &Operator{
		alg:     alg,
		ext:     Extension(alg, oprf),
		oprf:    oprf,
		fetcher: fetcher,
		sem:     semaphore.NewWeighted(int64(options.MaxProofConcurrency)),
		logger:  options.Logger.With(zap.String("engine", engine), zap.String("algorithm", string(alg))),
		metrics: options.Metrics,
	}, nil
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

	alg, input, err := proving.DecodeWitness(wtns)
	if err != nil {
		return nil, err
	}
	if alg != o.alg || (input.TOPRF != nil) != o.oprf {
		return nil, fmt.Errorf("witness for %s (toprf: %v) given to %s operator", alg, input.TOPRF != nil, o.ext)
	}

	public, err := PublicInputs(o.alg, input.Public())
	if err != nil {
		return nil, err
	}
	secret, err := SecretInputs(o.alg, input)
	if err != nil {
		return nil, err
	}
	full, err := newWitness(public, secret)
	if err != nil {
		return nil, err
	}

	p, err := provers.Load(ctx, o.ext, o.loadProver)
	if err != nil {
		return nil, fmt.Errorf("load %s prover: %w", o.ext, err)
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.sem.Release(1)

	proof, err := groth16.Prove(p.ccs, p.pk, full)
	if err != nil {
		o.logger.Error("proof generation failed", zap.Error(err))
		return nil, fmt.Errorf("prove: %w", err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize proof: %w", err)
	}
	doc, err := json.Marshal(Document{Proof: buf.Bytes()})
	if err != nil {
		return nil, err
	}
	o.logger.Debug("proof generated", zap.Duration("duration", time.Since(start)))
	return &shared.ProofResult{Proof: doc}, nil
}

func (o *Operator) Groth16Verify(ctx context.Context, signals *shared.PublicSignals, proof shared.Proof) (valid bool, err error) {
	defer func() { o.metrics.ObserveVerification(engine, string(o.alg), valid, err) }()

	if (signals.TOPRF != nil) != o.oprf {
		return false, fmt.Errorf("toprf signals required: %v, given: %v", o.oprf, signals.TOPRF != nil)
	}
	var doc Document
	if err := json.Unmarshal(proof, &doc); err != nil {
		return false, &shared.VerificationError{Reason: fmt.Sprintf("expected JSON proof document: %v", err)}
	}
	if len(doc.Proof) == 0 {
		return false, &shared.VerificationError{Reason: "empty proof"}
	}
	p := groth16.NewProof(ecc.BN254)
	if _, err := p.ReadFrom(bytes.NewReader(doc.Proof)); err != nil {
		return false, &shared.VerificationError{Reason: fmt.Sprintf("decode proof: %v", err)}
	}

	public, err := PublicInputs(o.alg, signals)
	if err != nil {
		return false, err
	}

	vk, err := verifiers.Load(ctx, o.ext, o.loadVerifier)
	if err != nil {
		return false, fmt.Errorf("load %s verifying key: %w", o.ext, err)
	}
	if n := vk.NbPublicWitness(); n != len(public) {
		return false, fmt.Errorf("%w: expected %d public inputs, given: %d", shared.ErrInvalidLength, n, len(public))
	}

	w, err := newWitness(public, nil)
	if err != nil {
		return false, err
	}
	if err := groth16.Verify(p, vk, w); err != nil {
		o.logger.Debug("proof did not verify", zap.Error(err))
		return false, nil
	}
	return true, nil
}

// Release is a no-op: loaded circuits and keys are shared by all operators
// of the process.
func (o *Operator) Release() error {
	return nil
}

func (o *Operator) loadProver(ctx context.Context) (*prover, error) {
	ccs := groth16.NewCS(ecc.BN254)
	if err := o.read(ctx, "r1cs."+o.ext, ccs); err != nil {
		return nil, err
	}
	pk := groth16.NewProvingKey(ecc.BN254)
	if err := o.read(ctx, "pk."+o.ext, pk); err != nil {
		return nil, err
	}
	return &prover{ccs: ccs, pk: pk}, nil
}

func (o *Operator) loadVerifier(ctx context.Context) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if err := o.read(ctx, "vk."+o.ext, vk); err != nil {
		return nil, err
	}
	return vk, nil
}

type readerFrom interface {
	ReadFrom(r io.Reader) (int64, error)
}

func (o *Operator) read(ctx context.Context, filename string, dst readerFrom) error {
	o.logger.Debug("fetching artifact", zap.String("filename", filename))
	data, err := o.fetcher.Fetch(ctx, Namespace, filename)
	if err != nil {
		return err
	}
	if _, err := dst.ReadFrom(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("decode %s: %w", filename, err)
	}
	o.logger.Debug("artifact loaded", zap.String("filename", filename), shared.Size("size", len(data)))
	return nil
}

func newWitness(public, secret []any) (witness.Witness, error) {
	w, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}
	values := make(chan any, len(public)+len(secret))
	for _, v := range public {
		values <- v
	}
	for _, v := range secret {
		values <- v
	}
	close(values)
	if err := w.Fill(len(public), len(secret), values); err != nil {
		return nil, fmt.Errorf("fill witness: %w", err)
	}
	return w, nil
}
