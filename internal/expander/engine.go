// Package expander proves with the expander prover compiled to WebAssembly.
// Proving can be spread over a pool of worker instances, each started from
// a copy of the main instance's memory.
package expander

import (
	"context"
	"fmt"

	"github.com/spacemeshos/zksym/bitstream"
	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/shared"
)

// Namespace is the fetcher namespace of the module and circuits.
const Namespace = "expander"

const (
	// ModuleName is the file name of the prover module.
	ModuleName = "release.wasm"

	// WitnessVersion is the first byte of every witness.
	WitnessVersion = 1
)

// Engine creates instances of the prover module.
type Engine interface {
	// Instantiate returns an instance with its own memory.
	Instantiate(ctx context.Context) (Instance, error)
}

// Instance is an instantiated prover module. It is not safe for concurrent
// use.
type Instance interface {
	LoadCircuit(ctx context.Context, id uint8, data []byte) error
	LoadSolver(ctx context.Context, id uint8, data []byte) error
	CircuitLoaded(ctx context.Context, id uint8) (bool, error)
	SolverLoaded(ctx context.Context, id uint8) (bool, error)
	Prove(ctx context.Context, id uint8, privBits, pubBits []byte) ([]byte, error)
	Verify(ctx context.Context, id uint8, pubBits, proof []byte) (bool, error)

	// Snapshot returns a copy of the instance's memory.
	Snapshot() ([]byte, error)
	// Restore replaces the instance's memory with snapshot, growing it as needed.
	Restore(snapshot []byte) error
	Close(ctx context.Context) error
}

// CircuitName returns the file name of the verifier circuit of alg.
func CircuitName(alg config.EncryptionAlgorithm) string {
	return string(alg) + ".txt"
}

// SolverName returns the file name of the witness solver of alg.
func SolverName(alg config.EncryptionAlgorithm) string {
	return string(alg) + "-solver.txt"
}

// Witness returns the version byte followed by the bits of the counter,
// nonce, ciphertext, plaintext and key.
func Witness(alg config.EncryptionAlgorithm, input *shared.ProofInput) ([]byte, error) {
	bits, err := bitstream.Serialize(alg,
		bitstream.Counter(input.Counter),
		bitstream.Nonce(input.Nonce),
		bitstream.Ciphertext(input.In),
		bitstream.Plaintext(input.Out),
		bitstream.Key(input.Key),
	)
	if err != nil {
		return nil, err
	}
	return append([]byte{WitnessVersion}, bits...), nil
}

// SplitWitness returns the public and private bits of a witness. The private
// bits are the trailing key bits.
func SplitWitness(alg config.EncryptionAlgorithm, witness []byte) (pubBits, privBits []byte, err error) {
	cfg, err := config.Lookup(alg)
	if err != nil {
		return nil, nil, err
	}
	if len(witness) == 0 {
		return nil, nil, fmt.Errorf("%w: empty witness", shared.ErrInvalidLength)
	}
	if witness[0] != WitnessVersion {
		return nil, nil, fmt.Errorf("%w: %d", shared.ErrUnsupportedVersion, witness[0])
	}

	bits := witness[1:]
	expected := (4 + cfg.IVSizeBytes + 2*cfg.ChunkSizeBytes() + cfg.KeySizeBytes) * 8
	if len(bits) != expected {
		return nil, nil, fmt.Errorf("%w: witness expected %d bits, given: %d", shared.ErrInvalidLength, expected, len(bits))
	}
	split := len(bits) - cfg.KeySizeBytes*8
	return bits[:split], bits[split:], nil
}

// PublicBits returns the bits a proof is verified against.
func PublicBits(alg config.EncryptionAlgorithm, signals *shared.PublicSignals) ([]byte, error) {
	return bitstream.Serialize(alg,
		bitstream.Counter(signals.Counter),
		bitstream.Nonce(signals.Nonce),
		bitstream.Ciphertext(signals.In),
		bitstream.Plaintext(signals.Out),
	)
}

// DecodePublicBits returns the counter, nonce, ciphertext and plaintext
// bytes carried by the public bits of a witness.
func DecodePublicBits(alg config.EncryptionAlgorithm, pubBits []byte) ([]byte, error) {
	return bitstream.Deserialize(alg, pubBits)
}
