package threshold_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/spacemeshos/zksym/proving"
	"github.com/spacemeshos/zksym/shared"
	"github.com/spacemeshos/zksym/threshold"
	"github.com/spacemeshos/zksym/toprf"
)

// oprfOperator runs the OPRF steps locally; proving is not used here.
type oprfOperator struct {
	proving.Operator
	finalized atomic.Int32
}

func (o *oprfOperator) GenerateThresholdKeys(_ context.Context, total, threshold int) (*shared.ThresholdKeys, error) {
	return toprf.GenerateKeys(total, threshold, nil)
}

func (o *oprfOperator) GenerateOPRFRequest(_ context.Context, data []byte, domainSeparator string) (*shared.OPRFRequest, error) {
	return toprf.NewRequest(data, domainSeparator, nil)
}

func (o *oprfOperator) EvaluateOPRF(_ context.Context, privateKey, maskedData []byte) (*shared.OPRFResponse, error) {
	return toprf.Evaluate(privateKey, maskedData, nil)
}

func (o *oprfOperator) FinaliseOPRF(_ context.Context, serverPublicKey []byte, request *shared.OPRFRequest, responses []shared.TOPRFResponse) ([]byte, error) {
	o.finalized.Add(1)
	return toprf.Finalize(serverPublicKey, request, responses)
}

func newSession(t *testing.T, op proving.OPRFOperator, opts ...threshold.OptionFunc) *threshold.Session {
	s, err := threshold.NewSession(op, append(opts, threshold.WithLogger(zaptest.NewLogger(t)))...)
	require.NoError(t, err)
	return s
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	op := &oprfOperator{}
	s := newSession(t, op)
	require.Equal(t, threshold.PhaseKeyGen, s.Phase())

	keys, err := s.GenerateKeys(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, keys.Shares, 3)
	require.Equal(t, threshold.PhaseRequest, s.Phase())

	data := []byte("test@email.com")
	_, err = s.NewRequest(ctx, data, "reclaim")
	require.NoError(t, err)

	// Evaluations run concurrently and in any order.
	var eg errgroup.Group
	for _, i := range []int{2, 0} {
		i := i
		eg.Go(func() error {
			_, err := s.Evaluate(ctx, i)
			return err
		})
	}
	require.NoError(t, eg.Wait())

	nullifier, err := s.Finalize(ctx)
	require.NoError(t, err)
	require.Len(t, nullifier, 32)
	require.Equal(t, threshold.PhaseDone, s.Phase())

	signals, err := s.PublicSignals(4, len(data))
	require.NoError(t, err)
	require.Equal(t, nullifier, signals.Output)
	require.Equal(t, "reclaim", signals.DomainSeparator)
	require.Len(t, signals.Responses, 2)
	require.Equal(t, 0, signals.Responses[0].Index)
	require.Equal(t, 2, signals.Responses[1].Index)

	_, err = s.PublicSignals(4, len(data)+1)
	require.ErrorIs(t, err, shared.ErrInvalidLength)
}

func TestSurplusResponsesYieldSameNullifier(t *testing.T) {
	ctx := context.Background()
	op := &oprfOperator{}
	keys, err := toprf.GenerateKeys(3, 2, nil)
	require.NoError(t, err)

	run := func(indices ...int) []byte {
		s := newSession(t, op, threshold.WithKeys(keys))
		_, err := s.NewRequest(ctx, []byte("attribute"), "domain")
		require.NoError(t, err)
		for _, i := range indices {
			_, err := s.Evaluate(ctx, i)
			require.NoError(t, err)
		}
		out, err := s.Finalize(ctx)
		require.NoError(t, err)
		return out
	}

	exact := run(0, 1)
	require.Equal(t, exact, run(0, 1, 2))
	require.Equal(t, exact, run(1, 2))
}

func TestUndersupplyFails(t *testing.T) {
	ctx := context.Background()
	op := &oprfOperator{}
	s := newSession(t, op)
	_, err := s.GenerateKeys(ctx, 3, 2)
	require.NoError(t, err)
	_, err = s.NewRequest(ctx, []byte("data"), "ds")
	require.NoError(t, err)
	_, err = s.Evaluate(ctx, 1)
	require.NoError(t, err)

	_, err = s.Finalize(ctx)
	require.ErrorIs(t, err, shared.ErrThresholdViolation)
	require.Equal(t, int32(0), op.finalized.Load())
	require.Equal(t, threshold.PhaseEvaluate, s.Phase())

	// The session can still complete once enough responses arrive.
	_, err = s.Evaluate(ctx, 0)
	require.NoError(t, err)
	_, err = s.Finalize(ctx)
	require.NoError(t, err)
}

func TestPhasesOnlyMoveForward(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, &oprfOperator{})

	_, err := s.NewRequest(ctx, []byte("data"), "ds")
	require.ErrorIs(t, err, threshold.ErrPhase)
	_, err = s.Finalize(ctx)
	require.ErrorIs(t, err, threshold.ErrPhase)

	_, err = s.GenerateKeys(ctx, 2, 3)
	require.Error(t, err)
	_, err = s.GenerateKeys(ctx, 0, 0)
	require.Error(t, err)
	require.Equal(t, threshold.PhaseKeyGen, s.Phase())

	_, err = s.GenerateKeys(ctx, 2, 2)
	require.NoError(t, err)
	_, err = s.GenerateKeys(ctx, 2, 2)
	require.ErrorIs(t, err, threshold.ErrPhase)

	_, err = s.NewRequest(ctx, []byte("data"), "ds")
	require.NoError(t, err)
	_, err = s.NewRequest(ctx, []byte("data"), "ds")
	require.ErrorIs(t, err, threshold.ErrPhase)

	_, err = s.PublicSignals(0, 4)
	require.ErrorIs(t, err, threshold.ErrPhase)
}

func TestResponsesAreTrackedByIndex(t *testing.T) {
	ctx := context.Background()
	keys, err := toprf.GenerateKeys(3, 2, nil)
	require.NoError(t, err)
	s := newSession(t, &oprfOperator{}, threshold.WithKeys(keys))
	req, err := s.NewRequest(ctx, []byte("data"), "ds")
	require.NoError(t, err)

	resp, err := s.Evaluate(ctx, 1)
	require.NoError(t, err)

	require.ErrorContains(t, s.AddResponse(*resp), "duplicate")
	_, err = s.Evaluate(ctx, 7)
	require.Error(t, err)

	// A response claiming another share's key is rejected.
	external, err := toprf.Evaluate(keys.Shares[2].PrivateKey, req.MaskedData, nil)
	require.NoError(t, err)
	require.Error(t, s.AddResponse(shared.TOPRFResponse{
		Index:          2,
		PublicKeyShare: keys.Shares[0].PublicKey,
		OPRFResponse:   *external,
	}))
	require.NoError(t, s.AddResponse(shared.TOPRFResponse{
		Index:          2,
		PublicKeyShare: keys.Shares[2].PublicKey,
		OPRFResponse:   *external,
	}))

	_, err = s.Finalize(ctx)
	require.NoError(t, err)
}

func TestWithKeysValidation(t *testing.T) {
	_, err := threshold.NewSession(&oprfOperator{}, threshold.WithKeys(nil))
	require.Error(t, err)

	_, err = threshold.NewSession(&oprfOperator{}, threshold.WithKeys(&shared.ThresholdKeys{
		PublicKey: []byte{1},
		Threshold: 2,
		Shares:    []shared.KeyShare{{Index: 0}},
	}))
	require.Error(t, err)
}

func TestResumeRequest(t *testing.T) {
	ctx := context.Background()
	op := &oprfOperator{}
	keys, err := toprf.GenerateKeys(3, 2, nil)
	require.NoError(t, err)
	data := []byte("attribute")

	first := newSession(t, op, threshold.WithKeys(keys))
	req, err := first.NewRequest(ctx, data, "domain")
	require.NoError(t, err)
	for _, i := range []int{0, 1} {
		_, err := first.Evaluate(ctx, i)
		require.NoError(t, err)
	}
	expected, err := first.Finalize(ctx)
	require.NoError(t, err)

	// Responses collected elsewhere finalize in a resumed session.
	s := newSession(t, op, threshold.WithKeys(keys), threshold.WithRequest(req, len(data), "domain"))
	require.Equal(t, threshold.PhaseEvaluate, s.Phase())
	signals, err := first.PublicSignals(0, len(data))
	require.NoError(t, err)
	for _, r := range signals.Responses {
		require.NoError(t, s.AddResponse(r))
	}
	out, err := s.Finalize(ctx)
	require.NoError(t, err)
	require.Equal(t, expected, out)

	resumed, err := s.PublicSignals(0, len(data))
	require.NoError(t, err)
	require.Equal(t, signals, resumed)

	_, err = threshold.NewSession(op, threshold.WithRequest(req, len(data), "domain"))
	require.ErrorContains(t, err, "requires keys")
	_, err = threshold.NewSession(op, threshold.WithKeys(keys), threshold.WithRequest(req, 0, "domain"))
	require.Error(t, err)
}
