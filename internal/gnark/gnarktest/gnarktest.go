// Package gnarktest builds stand-in circuits with the input layout of the
// real ones, and their keys. The circuits only constrain the shape of their
// inputs: bits are boolean and field elements are in range.
package gnarktest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/fetch"
	"github.com/spacemeshos/zksym/internal/gnark"
)

type layoutCircuit struct {
	Public []frontend.Variable `gnark:",public"`
	Secret []frontend.Variable

	bits       int
	secretBits int
}

func (c *layoutCircuit) Define(api frontend.API) error {
	for i, v := range c.Public {
		if i < c.bits {
			api.AssertIsBoolean(v)
		} else {
			api.ToBinary(v)
		}
	}
	for i, v := range c.Secret {
		if i < c.secretBits {
			api.AssertIsBoolean(v)
		} else {
			api.AssertIsDifferent(v, 0)
		}
	}
	return nil
}

type artifacts map[string][]byte

var (
	mu    sync.Mutex
	cache = make(map[string]artifacts)
)

// Artifacts returns a fetcher serving the circuit and keys of alg. responses
// is the number of TOPRF responses the circuit takes, -1 for the plain
// circuit. Artifacts are generated once per process.
func Artifacts(tb testing.TB, alg config.EncryptionAlgorithm, responses int) *fetch.Memory {
	tb.Helper()
	m := fetch.NewMemory()
	Put(tb, m, alg, responses)
	return m
}

// Put adds the artifacts of alg to m.
func Put(tb testing.TB, m *fetch.Memory, alg config.EncryptionAlgorithm, responses int) {
	tb.Helper()
	for name, data := range files(tb, alg, responses) {
		m.Put(gnark.Namespace, name, data)
	}
}

// WriteDir writes the artifacts of alg to the layout fetch.Local reads
// from dir.
func WriteDir(tb testing.TB, dir string, alg config.EncryptionAlgorithm, responses int) {
	tb.Helper()
	require.NoError(tb, os.MkdirAll(filepath.Join(dir, gnark.Namespace), 0o700))
	for name, data := range files(tb, alg, responses) {
		require.NoError(tb, os.WriteFile(filepath.Join(dir, gnark.Namespace, name), data, 0o600))
	}
}

// files returns the artifacts of alg by file name.
func files(tb testing.TB, alg config.EncryptionAlgorithm, responses int) map[string][]byte {
	ext := gnark.Extension(alg, responses >= 0)
	key := fmt.Sprintf("%s/%d", ext, responses)

	mu.Lock()
	defer mu.Unlock()
	generated, ok := cache[key]
	if !ok {
		var err error
		generated, err = generate(alg, responses)
		require.NoError(tb, err)
		cache[key] = generated
	}
	named := make(map[string][]byte, len(generated))
	for name, data := range generated {
		named[name+"."+ext] = data
	}
	return named
}

func generate(alg config.EncryptionAlgorithm, responses int) (artifacts, error) {
	nbPublic, nbSecret, err := gnark.Layout(alg, responses)
	if err != nil {
		return nil, err
	}
	cfg := config.MustLookup(alg)

	circuit := &layoutCircuit{
		Public:     make([]frontend.Variable, nbPublic),
		Secret:     make([]frontend.Variable, nbSecret),
		bits:       (2*cfg.ChunkSizeBytes() + cfg.IVSizeBytes + 4) * 8,
		secretBits: cfg.KeySizeBytes * 8,
	}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	files := make(artifacts)
	for name, w := range map[string]io.WriterTo{"r1cs": ccs, "pk": pk, "vk": vk} {
		var buf bytes.Buffer
		if _, err := w.WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		files[name] = buf.Bytes()
	}
	return files, nil
}
