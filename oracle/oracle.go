// Package oracle produces the keystream of the supported stream ciphers, the
// reference the circuits' plaintext output is checked against.
package oracle

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/shared"
)

// NewStream returns a keystream positioned at the block counter.
//
// ChaCha20 uses the 32-bit block counter of RFC 8439. AES-CTR uses a 16 byte
// counter block of the 12 byte nonce followed by the big-endian counter.
func NewStream(alg config.EncryptionAlgorithm, key, nonce []byte, counter uint32) (cipher.Stream, error) {
	cfg, err := config.Lookup(alg)
	if err != nil {
		return nil, err
	}
	if len(key) != cfg.KeySizeBytes {
		return nil, shared.LengthError("key", cfg.KeySizeBytes, len(key))
	}
	if len(nonce) != cfg.IVSizeBytes {
		return nil, shared.LengthError("nonce", cfg.IVSizeBytes, len(nonce))
	}

	switch alg {
	case config.ChaCha20:
		stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
		if err != nil {
			return nil, fmt.Errorf("creating chacha20 cipher: %w", err)
		}
		stream.SetCounter(counter)
		return stream, nil
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("creating aes cipher: %w", err)
		}
		iv := make([]byte, aes.BlockSize)
		copy(iv, nonce)
		binary.BigEndian.PutUint32(iv[len(nonce):], counter)
		return cipher.NewCTR(block, iv), nil
	}
}

// XORKeyStream returns src XOR'ed with the keystream starting at counter.
// The same call encrypts and decrypts.
func XORKeyStream(alg config.EncryptionAlgorithm, key, nonce []byte, counter uint32, src []byte) ([]byte, error) {
	stream, err := NewStream(alg, key, nonce, counter)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	stream.XORKeyStream(dst, src)
	return dst, nil
}

// Keystream returns n bytes of keystream starting at counter.
func Keystream(alg config.EncryptionAlgorithm, key, nonce []byte, counter uint32, n int) ([]byte, error) {
	return XORKeyStream(alg, key, nonce, counter, make([]byte, n))
}
