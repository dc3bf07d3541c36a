package bitstream

import (
	"io"
)

// BitWriter writes unpacked bits to an io.Writer.
type BitWriter struct {
	stream io.Writer
	buf    []byte
}

// NewWriter returns a new instance of BitWriter.
func NewWriter(w io.Writer) *BitWriter {
	return &BitWriter{
		stream: w,
		buf:    make([]byte, 64),
	}
}

// WriteUint64 writes the numBits least-significant bits of val, most-significant first.
func (bw *BitWriter) WriteUint64(val uint64, numBits int) error {
	if numBits > len(bw.buf) {
		numBits = len(bw.buf)
	}
	for i := 0; i < numBits; i++ {
		bw.buf[i] = byte(val>>(numBits-1-i)) & 1
	}
	_, err := bw.stream.Write(bw.buf[:numBits])
	return err
}
