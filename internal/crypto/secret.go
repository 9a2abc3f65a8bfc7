// Package crypto implements server-side hashing of connection token secrets.
package crypto

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// RandSecret returns a hex encoded random secret of n bytes of entropy.
func RandSecret(n int) (string, error) {
	b, err := RandBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashSecret returns SHA-512(salt || user || secret).
func HashSecret(salt, user, secret string) []byte {
	h := sha512.New()
	h.Write([]byte(salt))
	h.Write([]byte(user))
	h.Write([]byte(secret))
	return h.Sum(nil)
}

// EqualHash compares two secret hashes in constant time.
func EqualHash(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
