package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// RandomToken returns a 32-hex-char cryptographically random token.
func RandomToken() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
