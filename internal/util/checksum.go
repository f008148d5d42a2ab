package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentChecksum returns the hex SHA-256 of data.
// Media assets are de-duplicated per game system on this value.
func ContentChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
