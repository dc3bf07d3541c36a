// Package proving defines the capability every proving backend implements,
// and the pieces the backends share: the gnark witness document, the
// memoized artifact loader and backend options.
package proving

import (
	"context"

	"github.com/spacemeshos/zksym/shared"
)

// Operator proves and verifies the encryption of one chunk for a single algorithm.
type Operator interface {
	// GenerateWitness encodes the input for the backend. It does not modify input.
	GenerateWitness(ctx context.Context, input *shared.ProofInput) (shared.Witness, error)
	// Groth16Prove proves a witness created by the same backend. The first call
	// loads the backend's artifacts.
	Groth16Prove(ctx context.Context, witness shared.Witness) (*shared.ProofResult, error)
	// Groth16Verify returns false if a well-formed proof doesn't verify, and a
	// *shared.VerificationError if the proof is malformed.
	Groth16Verify(ctx context.Context, signals *shared.PublicSignals, proof shared.Proof) (bool, error)
	// Release frees the backend's loaded state. It can be called any number of times.
	Release() error
}

// OPRFOperator is an Operator whose circuits also prove a TOPRF output, and
// which implements the OPRF protocol steps.
type OPRFOperator interface {
	Operator

	GenerateThresholdKeys(ctx context.Context, total, threshold int) (*shared.ThresholdKeys, error)
	GenerateOPRFRequest(ctx context.Context, data []byte, domainSeparator string) (*shared.OPRFRequest, error)
	EvaluateOPRF(ctx context.Context, privateKey, maskedData []byte) (*shared.OPRFResponse, error)
	FinaliseOPRF(ctx context.Context, serverPublicKey []byte, request *shared.OPRFRequest, responses []shared.TOPRFResponse) ([]byte, error)
}
