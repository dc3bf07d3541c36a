// Package bitstream converts cryptographic values into the unpacked bit
// vectors proving circuits take as input, and back. Every bit occupies one
// byte holding 0 or 1, and the bits of a word are laid out most-significant
// first.
package bitstream

const (
	Zero byte = 0
	One  byte = 1
)
