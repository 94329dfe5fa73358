package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// CacheKey hashes a namespace and its parts into a fixed-length cache key.
// Parts are separated so that ("ab", "c") and ("a", "bc") differ.
func CacheKey(namespace string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}
