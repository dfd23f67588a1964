package registry

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint computes a SHA-256 hash of the registry document bytes, used to
// log whether an explicit reload actually changed anything.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
