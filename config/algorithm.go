package config

import (
	"fmt"
	"sort"
)

// EncryptionAlgorithm names a stream cipher a proof can be generated for.
type EncryptionAlgorithm string

const (
	ChaCha20  EncryptionAlgorithm = "chacha20"
	AES128CTR EncryptionAlgorithm = "aes-128-ctr"
	AES256CTR EncryptionAlgorithm = "aes-256-ctr"
)

// AlgorithmConfig holds the circuit parameters of an algorithm. The values are
// part of the circuits' input layout and never change at runtime.
type AlgorithmConfig struct {
	// KeySizeBytes is the length of the symmetric key.
	KeySizeBytes int
	// IVSizeBytes is the length of the nonce.
	IVSizeBytes int
	// ChunkSize is the number of words proven at once.
	ChunkSize int
	// BitsPerWord is the width of a word in bits.
	BitsPerWord int
	// BackendIndex is the numeric id the native and WASM backends use for the algorithm.
	BackendIndex uint8
	// StartCounter is the block counter of the first chunk.
	StartCounter uint32
	// BlocksPerChunk is the number of cipher blocks in a chunk.
	BlocksPerChunk uint32
	// LittleEndian reports whether words are assembled from bytes in little-endian order.
	LittleEndian bool
}

// ChunkSizeBytes returns the size of a proof chunk in bytes.
func (c AlgorithmConfig) ChunkSizeBytes() int {
	return c.ChunkSize * c.BitsPerWord / 8
}

// WordSizeBytes returns the size of a word in bytes.
func (c AlgorithmConfig) WordSizeBytes() int {
	return c.BitsPerWord / 8
}

// CounterForChunk returns the block counter of the chunk at offset.
func (c AlgorithmConfig) CounterForChunk(offset uint32) uint32 {
	return c.StartCounter + offset*c.BlocksPerChunk
}

var algorithms = map[EncryptionAlgorithm]AlgorithmConfig{
	ChaCha20: {
		KeySizeBytes:   32,
		IVSizeBytes:    12,
		ChunkSize:      16,
		BitsPerWord:    32,
		BackendIndex:   0,
		StartCounter:   1,
		BlocksPerChunk: 1,
		LittleEndian:   true,
	},
	AES128CTR: {
		KeySizeBytes:   16,
		IVSizeBytes:    12,
		ChunkSize:      80,
		BitsPerWord:    8,
		BackendIndex:   1,
		StartCounter:   2,
		BlocksPerChunk: 5,
	},
	AES256CTR: {
		KeySizeBytes:   32,
		IVSizeBytes:    12,
		ChunkSize:      80,
		BitsPerWord:    8,
		BackendIndex:   2,
		StartCounter:   2,
		BlocksPerChunk: 5,
	},
}

// Lookup returns the configuration of alg.
func Lookup(alg EncryptionAlgorithm) (AlgorithmConfig, error) {
	cfg, ok := algorithms[alg]
	if !ok {
		return AlgorithmConfig{}, fmt.Errorf("unsupported algorithm: %q", alg)
	}
	return cfg, nil
}

// MustLookup is like Lookup but panics for unknown algorithms.
func MustLookup(alg EncryptionAlgorithm) AlgorithmConfig {
	cfg, err := Lookup(alg)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Algorithms returns all supported algorithms in lexical order.
func Algorithms() []EncryptionAlgorithm {
	algs := make([]EncryptionAlgorithm, 0, len(algorithms))
	for alg := range algorithms {
		algs = append(algs, alg)
	}
	sort.Slice(algs, func(i, j int) bool { return algs[i] < algs[j] })
	return algs
}
