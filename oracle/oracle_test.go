package oracle_test

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/oracle"
	"github.com/spacemeshos/zksym/shared"
)

func mustHex(t *testing.T, s string) []byte {
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// RFC 8439, section 2.4.2.
func TestChaCha20Vector(t *testing.T) {
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	nonce := mustHex(t, "000000000000004a00000000")
	plaintext := []byte("Ladies and Gentlemen of the class of '99: If I could offer you only one tip for the future, sunscreen would be it.")

	ciphertext, err := oracle.XORKeyStream(config.ChaCha20, key, nonce, 1, plaintext)
	require.NoError(t, err)
	require.Equal(t, mustHex(t, "6e2e359a2568f98041ba0728dd0d6981e97e7aec1d4360c20a27afccfd9fae0b"), ciphertext[:32])

	decrypted, err := oracle.XORKeyStream(config.ChaCha20, key, nonce, 1, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestCounterSeeksIntoStream(t *testing.T) {
	t.Parallel()

	for _, alg := range config.Algorithms() {
		alg := alg
		cfg := config.MustLookup(alg)
		t.Run(string(alg), func(t *testing.T) {
			t.Parallel()

			key := bytes.Repeat([]byte{0x42}, cfg.KeySizeBytes)
			nonce := make([]byte, cfg.IVSizeBytes)
			for i := range nonce {
				nonce[i] = byte(i)
			}

			full, err := oracle.Keystream(alg, key, nonce, cfg.StartCounter, 3*cfg.ChunkSizeBytes())
			require.NoError(t, err)

			chunk, err := oracle.Keystream(alg, key, nonce, cfg.CounterForChunk(2), cfg.ChunkSizeBytes())
			require.NoError(t, err)
			require.Equal(t, full[2*cfg.ChunkSizeBytes():], chunk)
		})
	}
}

func TestInvalidSizes(t *testing.T) {
	_, err := oracle.Keystream(config.AES128CTR, make([]byte, 32), make([]byte, 12), 0, 16)
	require.ErrorIs(t, err, shared.ErrInvalidLength)

	_, err = oracle.Keystream(config.ChaCha20, make([]byte, 32), make([]byte, 8), 0, 16)
	require.ErrorIs(t, err, shared.ErrInvalidLength)

	_, err = oracle.Keystream("rc4", nil, nil, 0, 16)
	require.Error(t, err)
}
