package util

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateToken returns a 32-char hex token with 128 bits of entropy.
func GenerateToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
