package gnark

import (
	"fmt"
	"math/big"

	"github.com/spacemeshos/zksym/bitstream"
	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/shared"
	"github.com/spacemeshos/zksym/toprf"
)

// Circuits take their public inputs as the bits of the plaintext, nonce,
// counter and ciphertext, in this order, followed for TOPRF circuits by
// the field elements
//
//	pos, len, domain separator, output,
//	then for every response: index, share x, share y, evaluated x, evaluated y, c, r
//
// The secret inputs are the key bits, followed for TOPRF circuits by the mask.

const (
	toprfHeaderElements   = 4
	toprfResponseElements = 7
)

// Layout returns the number of public and secret inputs of a circuit for
// alg. responses is the number of TOPRF responses; -1 for plain circuits.
func Layout(alg config.EncryptionAlgorithm, responses int) (nbPublic, nbSecret int, err error) {
	cfg, err := config.Lookup(alg)
	if err != nil {
		return 0, 0, err
	}
	nbPublic = (2*cfg.ChunkSizeBytes() + cfg.IVSizeBytes + 4) * 8
	nbSecret = cfg.KeySizeBytes * 8
	if responses >= 0 {
		nbPublic += toprfHeaderElements + responses*toprfResponseElements
		nbSecret++
	}
	return nbPublic, nbSecret, nil
}

// PublicInputs returns the public input vector of signals.
func PublicInputs(alg config.EncryptionAlgorithm, signals *shared.PublicSignals) ([]any, error) {
	bits, err := bitstream.Serialize(alg,
		bitstream.Plaintext(signals.Out),
		bitstream.Nonce(signals.Nonce),
		bitstream.Counter(signals.Counter),
		bitstream.Ciphertext(signals.In),
	)
	if err != nil {
		return nil, err
	}

	values := make([]any, 0, len(bits)+toprfHeaderElements)
	for _, b := range bits {
		values = append(values, uint64(b))
	}
	if signals.TOPRF == nil {
		return values, nil
	}

	elems, err := toprfElements(signals.TOPRF)
	if err != nil {
		return nil, err
	}
	return append(values, elems...), nil
}

// SecretInputs returns the secret input vector of input.
func SecretInputs(alg config.EncryptionAlgorithm, input *shared.ProofInput) ([]any, error) {
	bits, err := bitstream.Serialize(alg, bitstream.Key(input.Key))
	if err != nil {
		return nil, err
	}
	values := make([]any, 0, len(bits)+1)
	for _, b := range bits {
		values = append(values, uint64(b))
	}
	if input.TOPRF != nil {
		if len(input.Mask) == 0 {
			return nil, fmt.Errorf("%w: toprf witness without mask", shared.ErrInvalidLength)
		}
		values = append(values, new(big.Int).SetBytes(input.Mask))
	}
	return values, nil
}

func toprfElements(t *shared.TOPRFPublicSignals) ([]any, error) {
	if len(t.DomainSeparator) > toprf.MaxDomainSeparatorSize {
		return nil, fmt.Errorf("%w: domain separator expected at most %d bytes, given: %d", shared.ErrInvalidLength, toprf.MaxDomainSeparatorSize, len(t.DomainSeparator))
	}

	values := []any{
		big.NewInt(int64(t.Pos)),
		big.NewInt(int64(t.Len)),
		new(big.Int).SetBytes([]byte(t.DomainSeparator)),
		new(big.Int).SetBytes(t.Output),
	}
	for _, r := range t.Responses {
		shareX, shareY, err := toprf.Coordinates(r.PublicKeyShare)
		if err != nil {
			return nil, fmt.Errorf("response %d public key share: %w", r.Index, err)
		}
		evalX, evalY, err := toprf.Coordinates(r.Evaluated)
		if err != nil {
			return nil, fmt.Errorf("response %d evaluation: %w", r.Index, err)
		}
		values = append(values,
			big.NewInt(int64(r.Index)),
			shareX, shareY,
			evalX, evalY,
			new(big.Int).SetBytes(r.C),
			new(big.Int).SetBytes(r.R),
		)
	}
	return values, nil
}
