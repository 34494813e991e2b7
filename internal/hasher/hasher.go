// Package hasher computes content addresses for uploaded bytes.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the lower-case hex SHA-256 of b. Filenames and container
// metadata do not participate.
func Sum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
