// Package zksym generates and verifies zero-knowledge proofs that a
// ciphertext chunk is the stream-cipher encryption of a plaintext, and
// optionally that a nullifier is the TOPRF output over part of it.
package zksym

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/oracle"
	"github.com/spacemeshos/zksym/proving"
	"github.com/spacemeshos/zksym/shared"
)

// Proof is sent from the prover to the verifier along with the public input.
type Proof struct {
	Algorithm config.EncryptionAlgorithm
	ProofData shared.Proof
	// Plaintext is the decrypted chunk, padded to the chunk size.
	Plaintext []byte
}

type GenerateOpts struct {
	Algorithm    config.EncryptionAlgorithm
	PrivateInput shared.PrivateInput
	PublicInput  shared.PublicInput
	Operator     proving.Operator

	// TOPRF binds a nullifier to an attribute of the plaintext. Requires an
	// OPRF operator and the request's Mask.
	TOPRF *shared.TOPRFPublicSignals
	Mask  []byte

	Logger *zap.Logger
}

type VerifyOpts struct {
	Proof       *Proof
	PublicInput shared.PublicInput
	Operator    proving.Operator
	TOPRF       *shared.TOPRFPublicSignals

	Logger *zap.Logger
}

// chunk returns the block counter of the chunk and its ciphertext padded
// with zeros to the chunk size.
func chunk(cfg config.AlgorithmConfig, in shared.PublicInput) (uint32, []byte, error) {
	if len(in.IV) != cfg.IVSizeBytes {
		return 0, nil, shared.LengthError("iv", cfg.IVSizeBytes, len(in.IV))
	}
	size := cfg.ChunkSizeBytes()
	if len(in.Ciphertext) > size {
		return 0, nil, fmt.Errorf("%w: ciphertext of %d bytes exceeds the chunk size %d", shared.ErrInvalidLength, len(in.Ciphertext), size)
	}
	padded := make([]byte, size)
	copy(padded, in.Ciphertext)
	return cfg.CounterForChunk(in.Offset), padded, nil
}

func checkTOPRF(toprf *shared.TOPRFPublicSignals, size int) error {
	if toprf == nil {
		return nil
	}
	if toprf.Pos < 0 || toprf.Len < 1 || toprf.Pos+toprf.Len > size {
		return fmt.Errorf("%w: toprf attribute at %d of %d bytes is outside the %d byte chunk", shared.ErrInvalidLength, toprf.Pos, toprf.Len, size)
	}
	return nil
}

// GenerateProof proves that the ciphertext of the public input decrypts
// under the private key.
func GenerateProof(ctx context.Context, opts GenerateOpts) (*Proof, error) {
	if opts.Operator == nil {
		return nil, errors.New("`Operator` is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := config.Lookup(opts.Algorithm)
	if err != nil {
		return nil, err
	}
	if len(opts.PrivateInput.Key) != cfg.KeySizeBytes {
		return nil, shared.LengthError("key", cfg.KeySizeBytes, len(opts.PrivateInput.Key))
	}
	counter, ciphertext, err := chunk(cfg, opts.PublicInput)
	if err != nil {
		return nil, err
	}
	if err := checkTOPRF(opts.TOPRF, len(ciphertext)); err != nil {
		return nil, err
	}

	plaintext, err := oracle.XORKeyStream(opts.Algorithm, opts.PrivateInput.Key, opts.PublicInput.IV, counter, ciphertext)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	wtns, err := opts.Operator.GenerateWitness(ctx, &shared.ProofInput{
		Key:     opts.PrivateInput.Key,
		Nonce:   opts.PublicInput.IV,
		Counter: counter,
		In:      ciphertext,
		Out:     plaintext,
		TOPRF:   opts.TOPRF,
		Mask:    opts.Mask,
	})
	if err != nil {
		return nil, fmt.Errorf("generate witness: %w", err)
	}
	res, err := opts.Operator.Groth16Prove(ctx, wtns)
	if err != nil {
		return nil, fmt.Errorf("generate proof: %w", err)
	}
	logger.Debug("proof generated",
		zap.String("algorithm", string(opts.Algorithm)),
		zap.Uint32("offset", opts.PublicInput.Offset),
		zap.Uint32("counter", counter),
		zap.Bool("toprf", opts.TOPRF != nil),
		zap.Duration("duration", time.Since(start)),
	)

	return &Proof{
		Algorithm: opts.Algorithm,
		ProofData: res.Proof,
		Plaintext: plaintext,
	}, nil
}

// VerifyProof checks the proof against the public input. A proof that
// doesn't verify fails with shared.ErrInvalidProof.
func VerifyProof(ctx context.Context, opts VerifyOpts) error {
	if opts.Operator == nil {
		return errors.New("`Operator` is required")
	}
	if opts.Proof == nil {
		return errors.New("`Proof` is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := config.Lookup(opts.Proof.Algorithm)
	if err != nil {
		return err
	}
	counter, ciphertext, err := chunk(cfg, opts.PublicInput)
	if err != nil {
		return err
	}
	if len(opts.Proof.Plaintext) != len(ciphertext) {
		return shared.LengthError("plaintext", len(ciphertext), len(opts.Proof.Plaintext))
	}
	if err := checkTOPRF(opts.TOPRF, len(ciphertext)); err != nil {
		return err
	}

	valid, err := opts.Operator.Groth16Verify(ctx, &shared.PublicSignals{
		Nonce:   opts.PublicInput.IV,
		Counter: counter,
		In:      ciphertext,
		Out:     opts.Proof.Plaintext,
		TOPRF:   opts.TOPRF,
	}, opts.Proof.ProofData)
	var verr *shared.VerificationError
	switch {
	case errors.As(err, &verr):
		return fmt.Errorf("%w: %w", shared.ErrInvalidProof, err)
	case err != nil:
		return fmt.Errorf("verify proof: %w", err)
	case !valid:
		logger.Debug("proof is invalid",
			zap.String("algorithm", string(opts.Proof.Algorithm)),
			zap.Uint32("offset", opts.PublicInput.Offset),
		)
		return shared.ErrInvalidProof
	}
	return nil
}
