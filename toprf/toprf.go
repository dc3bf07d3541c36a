// Package toprf implements a threshold oblivious PRF over the BabyJubJub
// curve of BN254's scalar field.
//
// The group key is split into Shamir shares; share i sits at x = i+1. A
// requester hashes its data to a curve point and masks it with a random
// scalar. Each share holder multiplies the masked point by its share and
// proves with a Chaum-Pedersen DLEQ proof that it used the key behind its
// public share. The requester checks the proofs, interpolates the
// evaluations at 0, removes the mask and hashes the result into the output.
package toprf

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards"

	"github.com/spacemeshos/zksym/shared"
)

const (
	// MaxDataSize is the largest input, split into two field elements.
	MaxDataSize = 2 * elementSize
	// MaxDomainSeparatorSize is the longest domain separator.
	MaxDomainSeparatorSize = elementSize

	// elementSize is the number of bytes that always fit into a field element.
	elementSize = 31
	scalarSize  = 32
	// hashAttempts bounds the try-and-increment search for a curve point.
	hashAttempts = 256
)

var (
	// ErrInvalidPoint is returned for bytes that don't encode a point of the prime order subgroup.
	ErrInvalidPoint = errors.New("invalid curve point")
	// ErrInvalidScalar is returned for scalars out of range.
	ErrInvalidScalar = errors.New("invalid scalar")
	// ErrInvalidEvaluation is returned when an evaluation's DLEQ proof doesn't verify.
	ErrInvalidEvaluation = errors.New("invalid evaluation proof")
)

var curve = twistededwards.GetEdwardsCurve()

// order returns the order of the prime subgroup.
func order() *big.Int {
	return new(big.Int).Set(&curve.Order)
}

func base() *twistededwards.PointAffine {
	p := curve.Base
	return &p
}

func identity() *twistededwards.PointAffine {
	var p twistededwards.PointAffine
	p.X.SetZero()
	p.Y.SetOne()
	return &p
}

func mul(p *twistededwards.PointAffine, s *big.Int) *twistededwards.PointAffine {
	var r twistededwards.PointAffine
	r.ScalarMultiplication(p, s)
	return &r
}

func add(p, q *twistededwards.PointAffine) *twistededwards.PointAffine {
	var r twistededwards.PointAffine
	r.Add(p, q)
	return &r
}

// DecodePoint parses a compressed point and checks it is a non-identity
// element of the prime order subgroup.
func DecodePoint(b []byte) (*twistededwards.PointAffine, error) {
	if len(b) != scalarSize {
		return nil, fmt.Errorf("%w: expected %d bytes, given: %d", ErrInvalidPoint, scalarSize, len(b))
	}
	var p twistededwards.PointAffine
	if err := p.Unmarshal(b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPoint, err)
	}
	if !p.IsOnCurve() || p.Equal(identity()) || !mul(&p, order()).Equal(identity()) {
		return nil, ErrInvalidPoint
	}
	return &p, nil
}

// Coordinates returns the affine coordinates of a compressed point.
func Coordinates(b []byte) (x, y *big.Int, err error) {
	p, err := DecodePoint(b)
	if err != nil {
		return nil, nil, err
	}
	return p.X.BigInt(new(big.Int)), p.Y.BigInt(new(big.Int)), nil
}

func encodePoint(p *twistededwards.PointAffine) []byte {
	return p.Marshal()
}

func encodeScalar(s *big.Int) []byte {
	return s.FillBytes(make([]byte, scalarSize))
}

func decodeScalar(b []byte) (*big.Int, error) {
	if len(b) != scalarSize {
		return nil, fmt.Errorf("%w: expected %d bytes, given: %d", ErrInvalidScalar, scalarSize, len(b))
	}
	s := new(big.Int).SetBytes(b)
	if s.Cmp(&curve.Order) >= 0 {
		return nil, fmt.Errorf("%w: not reduced", ErrInvalidScalar)
	}
	return s, nil
}

// randomScalar returns a uniformly random scalar in [1, order).
func randomScalar(r io.Reader) (*big.Int, error) {
	upper := new(big.Int).Sub(&curve.Order, big.NewInt(1))
	s, err := rand.Int(r, upper)
	if err != nil {
		return nil, fmt.Errorf("random scalar: %w", err)
	}
	return s.Add(s, big.NewInt(1)), nil
}

// hashElements hashes field elements with MiMC.
func hashElements(elems ...*fr.Element) *fr.Element {
	h := mimc.NewMiMC()
	for _, e := range elems {
		b := e.Bytes()
		h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return &out
}

func element(b []byte) *fr.Element {
	var e fr.Element
	e.SetBytes(b)
	return &e
}

// hashToPoint maps the secret elements and domain separator to a point of
// the prime order subgroup by try-and-increment: x = MiMC(se0, se1, ds, i)
// for the first i for which x is on the curve.
func hashToPoint(secret [2]*fr.Element, ds *fr.Element) (*twistededwards.PointAffine, error) {
	var one, x2, num, den, y2, counter fr.Element
	one.SetOne()
	cofactor := curve.Cofactor.BigInt(new(big.Int))

	for i := 0; i < hashAttempts; i++ {
		counter.SetUint64(uint64(i))
		x := hashElements(secret[0], secret[1], ds, &counter)

		// a*x^2 + y^2 = 1 + d*x^2*y^2  =>  y^2 = (1 - a*x^2) / (1 - d*x^2)
		x2.Square(x)
		num.Mul(&curve.A, &x2)
		num.Sub(&one, &num)
		den.Mul(&curve.D, &x2)
		den.Sub(&one, &den)
		if den.IsZero() {
			continue
		}
		den.Inverse(&den)
		y2.Mul(&num, &den)

		var y fr.Element
		if y.Sqrt(&y2) == nil {
			continue
		}

		p := twistededwards.PointAffine{X: *x, Y: y}
		if !p.IsOnCurve() {
			continue
		}
		p = *mul(&p, cofactor)
		if p.Equal(identity()) {
			continue
		}
		return &p, nil
	}
	return nil, errors.New("no curve point found for data")
}

// splitData splits data into two field elements of up to 31 bytes each.
func splitData(data []byte) ([2]*fr.Element, error) {
	if len(data) > MaxDataSize {
		return [2]*fr.Element{}, fmt.Errorf("%w: data expected at most %d bytes, given: %d", shared.ErrInvalidLength, MaxDataSize, len(data))
	}
	split := min(len(data), elementSize)
	return [2]*fr.Element{element(data[:split]), element(data[split:])}, nil
}

// GenerateKeys creates a random group key split into total shares, any
// threshold of which can evaluate the PRF.
func GenerateKeys(total, threshold int, random io.Reader) (*shared.ThresholdKeys, error) {
	if total < 1 || threshold < 1 {
		return nil, fmt.Errorf("invalid threshold parameters; expected positive values, given: total %d, threshold %d", total, threshold)
	}
	if threshold > total {
		return nil, fmt.Errorf("invalid threshold parameters; threshold %d exceeds total %d", threshold, total)
	}
	if random == nil {
		random = rand.Reader
	}

	// f(x) = a0 + a1*x + ... + a(t-1)*x^(t-1), a0 is the group key.
	coeffs := make([]*big.Int, threshold)
	for i := range coeffs {
		c, err := randomScalar(random)
		if err != nil {
			return nil, err
		}
		coeffs[i] = c
	}

	sk := coeffs[0]
	keys := &shared.ThresholdKeys{
		PrivateKey: encodeScalar(sk),
		PublicKey:  encodePoint(mul(base(), sk)),
		Threshold:  threshold,
		Shares:     make([]shared.KeyShare, 0, total),
	}
	q := order()
	for i := 0; i < total; i++ {
		x := big.NewInt(int64(i + 1))
		share := new(big.Int)
		for j := len(coeffs) - 1; j >= 0; j-- {
			share.Mul(share, x)
			share.Add(share, coeffs[j])
			share.Mod(share, q)
		}
		keys.Shares = append(keys.Shares, shared.KeyShare{
			Index:      i,
			PrivateKey: encodeScalar(share),
			PublicKey:  encodePoint(mul(base(), share)),
		})
	}
	return keys, nil
}

// NewRequest hashes data under the domain separator to a point and masks it.
func NewRequest(data []byte, domainSeparator string, random io.Reader) (*shared.OPRFRequest, error) {
	if len(domainSeparator) > MaxDomainSeparatorSize {
		return nil, fmt.Errorf("%w: domain separator expected at most %d bytes, given: %d", shared.ErrInvalidLength, MaxDomainSeparatorSize, len(domainSeparator))
	}
	secret, err := splitData(data)
	if err != nil {
		return nil, err
	}
	if random == nil {
		random = rand.Reader
	}

	h, err := hashToPoint(secret, element([]byte(domainSeparator)))
	if err != nil {
		return nil, err
	}
	mask, err := randomScalar(random)
	if err != nil {
		return nil, err
	}

	se0, se1 := secret[0].Bytes(), secret[1].Bytes()
	return &shared.OPRFRequest{
		Mask:           encodeScalar(mask),
		MaskedData:     encodePoint(mul(h, mask)),
		SecretElements: [2][]byte{se0[:], se1[:]},
	}, nil
}

// Evaluate multiplies the masked point by a share key and proves it did.
func Evaluate(privateKey, maskedData []byte, random io.Reader) (*shared.OPRFResponse, error) {
	sk, err := decodeScalar(privateKey)
	if err != nil {
		return nil, err
	}
	m, err := DecodePoint(maskedData)
	if err != nil {
		return nil, err
	}
	if random == nil {
		random = rand.Reader
	}

	pk := mul(base(), sk)
	e := mul(m, sk)

	k, err := randomScalar(random)
	if err != nil {
		return nil, err
	}
	c := challenge(pk, m, e, mul(base(), k), mul(m, k))

	// r = k - c*sk mod q
	q := order()
	r := new(big.Int).Mul(c, sk)
	r.Sub(k, r)
	r.Mod(r, q)

	return &shared.OPRFResponse{
		Evaluated: encodePoint(e),
		C:         encodeScalar(c),
		R:         encodeScalar(r),
	}, nil
}

// VerifyEvaluation checks the DLEQ proof of an evaluation of maskedData with
// the key behind publicKeyShare.
func VerifyEvaluation(publicKeyShare, maskedData []byte, resp *shared.OPRFResponse) error {
	pk, err := DecodePoint(publicKeyShare)
	if err != nil {
		return fmt.Errorf("public key share: %w", err)
	}
	m, err := DecodePoint(maskedData)
	if err != nil {
		return fmt.Errorf("masked data: %w", err)
	}
	e, err := DecodePoint(resp.Evaluated)
	if err != nil {
		return fmt.Errorf("evaluated: %w", err)
	}
	c, err := decodeScalar(resp.C)
	if err != nil {
		return fmt.Errorf("c: %w", err)
	}
	r, err := decodeScalar(resp.R)
	if err != nil {
		return fmt.Errorf("r: %w", err)
	}

	// r*G + c*pk = k*G and r*M + c*E = k*M for an honest evaluator.
	t1 := add(mul(base(), r), mul(pk, c))
	t2 := add(mul(m, r), mul(e, c))
	if challenge(pk, m, e, t1, t2).Cmp(c) != 0 {
		return ErrInvalidEvaluation
	}
	return nil
}

// challenge is the Fiat-Shamir challenge of the DLEQ proof, reduced to a scalar.
func challenge(pk, m, e, t1, t2 *twistededwards.PointAffine) *big.Int {
	g := base()
	h := hashElements(&g.X, &g.Y, &pk.X, &pk.Y, &m.X, &m.Y, &e.X, &e.Y, &t1.X, &t1.Y, &t2.X, &t2.Y)
	c := h.BigInt(new(big.Int))
	return c.Mod(c, &curve.Order)
}

// Finalize verifies every response, combines them into an evaluation with
// the group key, removes the mask and returns the 32 byte PRF output.
//
// The responses must come from distinct shares. The combination is checked
// against serverPublicKey: fewer responses than the threshold fail with
// shared.ErrThresholdViolation. Responses beyond the threshold yield the
// same output.
func Finalize(serverPublicKey []byte, request *shared.OPRFRequest, responses []shared.TOPRFResponse) ([]byte, error) {
	groupKey, err := DecodePoint(serverPublicKey)
	if err != nil {
		return nil, fmt.Errorf("server public key: %w", err)
	}
	mask, err := decodeScalar(request.Mask)
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	if mask.Sign() == 0 {
		return nil, fmt.Errorf("mask: %w: zero", ErrInvalidScalar)
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("%w: no responses", shared.ErrThresholdViolation)
	}

	xs := make([]*big.Int, len(responses))
	seen := make(map[int]struct{}, len(responses))
	for i, resp := range responses {
		if resp.Index < 0 {
			return nil, fmt.Errorf("response %d: invalid share index %d", i, resp.Index)
		}
		if _, ok := seen[resp.Index]; ok {
			return nil, fmt.Errorf("response %d: duplicate share index %d", i, resp.Index)
		}
		seen[resp.Index] = struct{}{}
		if err := VerifyEvaluation(resp.PublicKeyShare, request.MaskedData, &resp.OPRFResponse); err != nil {
			return nil, fmt.Errorf("response for share %d: %w", resp.Index, err)
		}
		xs[i] = big.NewInt(int64(resp.Index + 1))
	}

	combinedKey := identity()
	combined := identity()
	for i, resp := range responses {
		l := lagrangeAtZero(xs, i)
		pk, _ := DecodePoint(resp.PublicKeyShare)
		e, _ := DecodePoint(resp.Evaluated)
		combinedKey = add(combinedKey, mul(pk, l))
		combined = add(combined, mul(e, l))
	}
	if !combinedKey.Equal(groupKey) {
		return nil, fmt.Errorf("%w: %d responses don't reconstruct the group key", shared.ErrThresholdViolation, len(responses))
	}

	unmasked := mul(combined, new(big.Int).ModInverse(mask, &curve.Order))
	se0 := element(request.SecretElements[0])
	se1 := element(request.SecretElements[1])
	out := hashElements(&unmasked.X, &unmasked.Y, se0, se1).Bytes()
	return out[:], nil
}

// lagrangeAtZero returns the Lagrange basis polynomial of xs[i] evaluated at 0.
func lagrangeAtZero(xs []*big.Int, i int) *big.Int {
	q := order()
	num := big.NewInt(1)
	den := big.NewInt(1)
	for j, x := range xs {
		if j == i {
			continue
		}
		num.Mul(num, x)
		num.Mod(num, q)
		d := new(big.Int).Sub(x, xs[i])
		den.Mul(den, d)
		den.Mod(den, q)
	}
	return num.Mul(num, den.ModInverse(den, q)).Mod(num, q)
}
