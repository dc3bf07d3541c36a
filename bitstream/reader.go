package bitstream

import (
	"fmt"
	"io"
)

// BitReader reads unpacked bits from an io.Reader.
type BitReader struct {
	stream io.Reader
	buf    []byte
}

// NewReader returns a new instance of BitReader.
func NewReader(r io.Reader) *BitReader {
	return &BitReader{
		stream: r,
		buf:    make([]byte, 64),
	}
}

// ReadUint64 reads the next numBits bits, most-significant first.
func (br *BitReader) ReadUint64(numBits int) (uint64, error) {
	if numBits > len(br.buf) {
		return 0, fmt.Errorf("cannot read %d bits into uint64", numBits)
	}
	if _, err := io.ReadFull(br.stream, br.buf[:numBits]); err != nil {
		return 0, err
	}

	var val uint64
	for _, bit := range br.buf[:numBits] {
		if bit > One {
			return 0, fmt.Errorf("invalid bit value: %d", bit)
		}
		val = val<<1 | uint64(bit)
	}
	return val, nil
}
