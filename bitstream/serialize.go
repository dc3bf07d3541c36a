package bitstream

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/spacemeshos/zksym/config"
	"github.com/spacemeshos/zksym/shared"
)

// Value is a typed cryptographic value that can be serialized for an algorithm.
type Value interface {
	name() string
	bytes(cfg config.AlgorithmConfig) ([]byte, error)
}

type (
	// Key is the symmetric key.
	Key []byte
	// Nonce is the IV the keystream is derived from.
	Nonce []byte
	// Counter is the block counter of the chunk's first block.
	Counter uint32
	// Ciphertext is a chunk of encrypted data, padded to the chunk size.
	Ciphertext []byte
	// Plaintext is a chunk of decrypted data, padded to the chunk size.
	Plaintext []byte
)

func (Key) name() string        { return "key" }
func (Nonce) name() string      { return "nonce" }
func (Counter) name() string    { return "counter" }
func (Ciphertext) name() string { return "ciphertext" }
func (Plaintext) name() string  { return "plaintext" }

func (v Key) bytes(cfg config.AlgorithmConfig) ([]byte, error) {
	return sized(v, cfg.KeySizeBytes, v)
}

func (v Nonce) bytes(cfg config.AlgorithmConfig) ([]byte, error) {
	return sized(v, cfg.IVSizeBytes, v)
}

func (v Counter) bytes(cfg config.AlgorithmConfig) ([]byte, error) {
	return counterBytes(cfg, uint32(v)), nil
}

func (v Ciphertext) bytes(cfg config.AlgorithmConfig) ([]byte, error) {
	return sized(v, cfg.ChunkSizeBytes(), v)
}

func (v Plaintext) bytes(cfg config.AlgorithmConfig) ([]byte, error) {
	return sized(v, cfg.ChunkSizeBytes(), v)
}

func sized(v Value, size int, data []byte) ([]byte, error) {
	if len(data) != size {
		return nil, shared.LengthError(v.name(), size, len(data))
	}
	return data, nil
}

// Serialize returns the bits of values, concatenated in argument order.
// Each value is split into words of the algorithm's width, assembled in the
// algorithm's byte order, and every word is emitted most-significant bit
// first. Fails with shared.ErrInvalidLength if a value is not sized for alg.
func Serialize(alg config.EncryptionAlgorithm, values ...Value) ([]byte, error) {
	cfg, err := config.Lookup(alg)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, v := range values {
		data, err := v.bytes(cfg)
		if err != nil {
			return nil, err
		}
		if err := writeWords(w, cfg, data); err != nil {
			return nil, fmt.Errorf("serializing %s: %w", v.name(), err)
		}
	}
	return buf.Bytes(), nil
}

// Deserialize is the inverse of Serialize for a single value: it reads
// len(bits)/8 bytes of words from bits in the algorithm's layout.
func Deserialize(alg config.EncryptionAlgorithm, bits []byte) ([]byte, error) {
	cfg, err := config.Lookup(alg)
	if err != nil {
		return nil, err
	}
	if len(bits)%cfg.BitsPerWord != 0 {
		return nil, fmt.Errorf("%w: %d bits is not a multiple of the %d bit word", shared.ErrInvalidLength, len(bits), cfg.BitsPerWord)
	}

	r := NewReader(bytes.NewReader(bits))
	size := cfg.WordSizeBytes()
	data := make([]byte, 0, len(bits)/8)
	word := make([]byte, 8)
	for w, n := 0, len(bits)/cfg.BitsPerWord; w < n; w++ {
		val, err := r.ReadUint64(cfg.BitsPerWord)
		if err != nil {
			return nil, err
		}
		if cfg.LittleEndian {
			binary.LittleEndian.PutUint64(word, val)
			data = append(data, word[:size]...)
		} else {
			binary.BigEndian.PutUint64(word, val)
			data = append(data, word[8-size:]...)
		}
	}
	return data, nil
}

// CounterBytes encodes a block counter as 4 bytes in the algorithm's byte order.
func CounterBytes(alg config.EncryptionAlgorithm, counter uint32) ([]byte, error) {
	cfg, err := config.Lookup(alg)
	if err != nil {
		return nil, err
	}
	return counterBytes(cfg, counter), nil
}

func counterBytes(cfg config.AlgorithmConfig, counter uint32) []byte {
	b := make([]byte, 4)
	if cfg.LittleEndian {
		binary.LittleEndian.PutUint32(b, counter)
	} else {
		binary.BigEndian.PutUint32(b, counter)
	}
	return b
}

func writeWords(w *BitWriter, cfg config.AlgorithmConfig, data []byte) error {
	size := cfg.WordSizeBytes()
	if len(data)%size != 0 {
		return fmt.Errorf("%w: %d bytes is not a multiple of the %d byte word", shared.ErrInvalidLength, len(data), size)
	}

	word := make([]byte, 8)
	for i := 0; i < len(data); i += size {
		clear(word)
		var val uint64
		if cfg.LittleEndian {
			copy(word, data[i:i+size])
			val = binary.LittleEndian.Uint64(word)
		} else {
			copy(word[8-size:], data[i:i+size])
			val = binary.BigEndian.Uint64(word)
		}
		if err := w.WriteUint64(val, cfg.BitsPerWord); err != nil {
			return err
		}
	}
	return nil
}
