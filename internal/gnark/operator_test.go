package gnark_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/fetch"
	"github.com/spacemeshos/zksym/internal/gnark"
	"github.com/spacemeshos/zksym/internal/gnark/gnarktest"
	"github.com/spacemeshos/zksym/metrics"
	"github.com/spacemeshos/zksym/oracle"
	"github.com/spacemeshos/zksym/proving"
	"github.com/spacemeshos/zksym/shared"
	"github.com/spacemeshos/zksym/toprf"
)

func randomBytes(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func newInput(t *testing.T, alg config.EncryptionAlgorithm) *shared.ProofInput {
	cfg := config.MustLookup(alg)
	key := randomBytes(t, cfg.KeySizeBytes)
	nonce := randomBytes(t, cfg.IVSizeBytes)
	plaintext := randomBytes(t, cfg.ChunkSizeBytes())
	ciphertext, err := oracle.XORKeyStream(alg, key, nonce, cfg.StartCounter, plaintext)
	require.NoError(t, err)
	return &shared.ProofInput{
		Key:     key,
		Nonce:   nonce,
		Counter: cfg.StartCounter,
		In:      ciphertext,
		Out:     plaintext,
	}
}

func TestProveVerify(t *testing.T) {
	reg := prometheus.NewRegistry()
	ctx := context.Background()
	fetcher := gnarktest.Artifacts(t, config.ChaCha20, -1)

	op, err := gnark.NewOperator(config.ChaCha20, fetcher,
		proving.WithLogger(zaptest.NewLogger(t)),
		proving.WithMetrics(metrics.New(reg)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, op.Release()) })

	input := newInput(t, config.ChaCha20)
	wtns, err := op.GenerateWitness(ctx, input)
	require.NoError(t, err)
	require.NotContains(t, string(wtns), "toprf")

	res, err := op.Groth16Prove(ctx, wtns)
	require.NoError(t, err)

	var doc gnark.Document
	require.NoError(t, json.Unmarshal(res.Proof, &doc))
	require.NotEmpty(t, doc.Proof)

	valid, err := op.Groth16Verify(ctx, input.Public(), res.Proof)
	require.NoError(t, err)
	require.True(t, valid)

	// A different plaintext doesn't verify.
	signals := input.Public()
	signals.Out = bytes.Clone(signals.Out)
	signals.Out[0] ^= 1
	valid, err = op.Groth16Verify(ctx, signals, res.Proof)
	require.NoError(t, err)
	require.False(t, valid)

	signals = input.Public()
	signals.Counter++
	valid, err = op.Groth16Verify(ctx, signals, res.Proof)
	require.NoError(t, err)
	require.False(t, valid)

	n, err := testutil.GatherAndCount(reg, "zksym_proving_proofs_total", "zksym_verifying_results_total")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestVerifyMalformedProof(t *testing.T) {
	ctx := context.Background()
	op, err := gnark.NewOperator(config.ChaCha20, gnarktest.Artifacts(t, config.ChaCha20, -1))
	require.NoError(t, err)
	input := newInput(t, config.ChaCha20)

	for _, proof := range []shared.Proof{
		nil,
		[]byte("not json"),
		[]byte(`{"proof": ""}`),
		[]byte(`{"proof": "AAEC"}`),
	} {
		valid, err := op.Groth16Verify(ctx, input.Public(), proof)
		require.False(t, valid)
		var verr *shared.VerificationError
		require.ErrorAs(t, err, &verr, "proof %q", proof)
	}
}

func TestProveRejectsForeignWitness(t *testing.T) {
	ctx := context.Background()
	op, err := gnark.NewOperator(config.ChaCha20, fetch.NewMemory())
	require.NoError(t, err)

	aes, err := gnark.NewOperator(config.AES128CTR, fetch.NewMemory())
	require.NoError(t, err)
	wtns, err := aes.GenerateWitness(ctx, newInput(t, config.AES128CTR))
	require.NoError(t, err)

	_, err = op.Groth16Prove(ctx, wtns)
	require.ErrorContains(t, err, "given to chacha20 operator")

	_, err = op.Groth16Prove(ctx, []byte("{"))
	require.Error(t, err)
}

func TestMissingArtifacts(t *testing.T) {
	gnark.Reset()
	t.Cleanup(gnark.Reset)

	ctx := context.Background()
	op, err := gnark.NewOperator(config.AES256CTR, fetch.NewMemory())
	require.NoError(t, err)

	input := newInput(t, config.AES256CTR)
	wtns, err := op.GenerateWitness(ctx, input)
	require.NoError(t, err)
	_, err = op.Groth16Prove(ctx, wtns)
	require.ErrorIs(t, err, fetch.ErrNotFound)

	// Failures aren't cached.
	op, err = gnark.NewOperator(config.AES256CTR, gnarktest.Artifacts(t, config.AES256CTR, -1))
	require.NoError(t, err)
	res, err := op.Groth16Prove(ctx, wtns)
	require.NoError(t, err)
	valid, err := op.Groth16Verify(ctx, input.Public(), res.Proof)
	require.NoError(t, err)
	require.True(t, valid)
}

func TestConcurrentProofs(t *testing.T) {
	ctx := context.Background()
	op, err := gnark.NewOperator(config.ChaCha20, gnarktest.Artifacts(t, config.ChaCha20, -1),
		proving.WithMaxProofConcurrency(1),
	)
	require.NoError(t, err)

	var eg errgroup.Group
	for _, input := range []*shared.ProofInput{
		newInput(t, config.ChaCha20),
		newInput(t, config.ChaCha20),
		newInput(t, config.ChaCha20),
	} {
		input := input
		eg.Go(func() error {
			wtns, err := op.GenerateWitness(ctx, input)
			if err != nil {
				return err
			}
			res, err := op.Groth16Prove(ctx, wtns)
			if err != nil {
				return err
			}
			valid, err := op.Groth16Verify(ctx, input.Public(), res.Proof)
			if err != nil {
				return err
			}
			if !valid {
				return errors.New("proof doesn't verify")
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
}

func TestOPRFProveVerify(t *testing.T) {
	ctx := context.Background()
	op, err := gnark.NewOPRFOperator(config.ChaCha20, gnarktest.Artifacts(t, config.ChaCha20, 2),
		proving.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)

	keys, err := op.GenerateThresholdKeys(ctx, 3, 2)
	require.NoError(t, err)

	input := newInput(t, config.ChaCha20)
	data := input.Out[4:18]
	req, err := op.GenerateOPRFRequest(ctx, data, "reclaim")
	require.NoError(t, err)

	var responses []shared.TOPRFResponse
	for _, share := range keys.Shares[1:] {
		resp, err := op.EvaluateOPRF(ctx, share.PrivateKey, req.MaskedData)
		require.NoError(t, err)
		responses = append(responses, shared.TOPRFResponse{
			Index:          share.Index,
			PublicKeyShare: share.PublicKey,
			OPRFResponse:   *resp,
		})
	}
	output, err := op.FinaliseOPRF(ctx, keys.PublicKey, req, responses)
	require.NoError(t, err)

	input.TOPRF = &shared.TOPRFPublicSignals{
		Pos:             4,
		Len:             len(data),
		DomainSeparator: "reclaim",
		Output:          output,
		Responses:       responses,
	}
	input.Mask = req.Mask

	wtns, err := op.GenerateWitness(ctx, input)
	require.NoError(t, err)
	res, err := op.Groth16Prove(ctx, wtns)
	require.NoError(t, err)

	valid, err := op.Groth16Verify(ctx, input.Public(), res.Proof)
	require.NoError(t, err)
	require.True(t, valid)

	// Another nullifier doesn't verify.
	other, err := toprf.NewRequest(data, "other", nil)
	require.NoError(t, err)
	signals := input.Public()
	tampered := *signals.TOPRF
	tampered.Output = other.SecretElements[0]
	signals.TOPRF = &tampered
	valid, err = op.Groth16Verify(ctx, signals, res.Proof)
	require.NoError(t, err)
	require.False(t, valid)

	// Plain signals are rejected by the TOPRF operator.
	plain := input.Public()
	plain.TOPRF = nil
	_, err = op.Groth16Verify(ctx, plain, res.Proof)
	require.Error(t, err)

	// A response count the circuit wasn't built for.
	signals = input.Public()
	fewer := *signals.TOPRF
	fewer.Responses = fewer.Responses[:1]
	signals.TOPRF = &fewer
	_, err = op.Groth16Verify(ctx, signals, res.Proof)
	require.ErrorIs(t, err, shared.ErrInvalidLength)
}
