// Package crypto implements session sealing and operator password hashing.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/argon2"
)

// SessionIDLen is the session id entropy in bytes (128 bits).
const SessionIDLen = 16

// Argon2id parameters for operator passwords.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// SaltLen is the per-operator salt size.
	SaltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// NewSessionID returns a fresh 128-bit random id in hex.
func NewSessionID() (string, error) {
	b, err := RandBytes(SessionIDLen)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Seal returns hex SHA-256 of sessionID || issuedAtMs || secret.
// The timestamp is written in decimal, matching what QR payloads carry.
func Seal(sessionID string, issuedAtMs int64, secret []byte) string {
	h := sha256.New()
	h.Write([]byte(sessionID))
	h.Write([]byte(strconv.FormatInt(issuedAtMs, 10)))
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySeal recomputes the seal and compares it in constant time.
func VerifySeal(sessionID string, issuedAtMs int64, secret []byte, hash string) bool {
	want := Seal(sessionID, issuedAtMs, secret)
	return subtle.ConstantTimeCompare([]byte(want), []byte(hash)) == 1
}

// HashPassword returns the Argon2id hash of an operator password.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyPassword checks an operator password against the stored hash.
func VerifyPassword(password, salt, expected []byte) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}
