package shared

import (
	"encoding/hex"

	"code.cloudfoundry.org/bytefmt"
	"go.uber.org/zap"
)

// HexEncoded logs bytes as hex with zap.Stringer.
type HexEncoded []byte

func (h HexEncoded) String() string {
	return hex.EncodeToString(h)
}

// Size returns a zap field with a human readable byte size.
func Size(key string, n int) zap.Field {
	return zap.String(key, bytefmt.ByteSize(uint64(n)))
}
