package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLength is returned when a value's size disagrees with the
	// algorithm's configured size.
	ErrInvalidLength = errors.New("invalid length")
	// ErrUnsupportedVersion is returned when a witness was encoded with a
	// format version the reader doesn't understand.
	ErrUnsupportedVersion = errors.New("unsupported witness version")
	// ErrInvalidProof is returned when a well-formed proof fails verification.
	ErrInvalidProof = errors.New("invalid proof")
	// ErrBackendUnavailable is returned when a proving backend can't be loaded
	// on this platform.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrThresholdViolation is returned when fewer TOPRF responses than the
	// threshold are supplied, or they don't reconstruct the group key.
	ErrThresholdViolation = errors.New("threshold violation")
	// ErrPoolTeardown is returned for requests outstanding when a worker pool
	// is released.
	ErrPoolTeardown = errors.New("worker pool released")
)

// VerificationError reports a structurally malformed proof. It is distinct
// from a well-formed proof that doesn't verify.
type VerificationError struct {
	Reason string
}

func (err *VerificationError) Error() string {
	return fmt.Sprintf("malformed proof: %s", err.Reason)
}

// LengthError returns an error wrapping ErrInvalidLength.
func LengthError(param string, expected, given int) error {
	return fmt.Errorf("%w: `%s` expected: %d bytes, given: %d", ErrInvalidLength, param, expected, given)
}
