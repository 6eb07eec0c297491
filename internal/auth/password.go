package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SaltLength is the size of the per-user random salt in bytes.
const SaltLength = 16

// Params tunes the argon2id key derivation.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultParams follows the OWASP argon2id baseline.
var DefaultParams = Params{
	Time:    3,
	Memory:  64 * 1024,
	Threads: 2,
	KeyLen:  32,
}

// Hasher derives password hashes from a per-user salt and a server-wide pepper.
type Hasher struct {
	pepper []byte
	params Params
}

// NewHasher creates a hasher. An empty pepper is allowed but weakens offline attacks.
func NewHasher(pepper []byte, params Params) *Hasher {
	return &Hasher{pepper: pepper, params: params}
}

// NewSalt returns a fresh random salt.
func (h *Hasher) NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Hash derives the stored hash for password and salt.
func (h *Hasher) Hash(password string, salt []byte) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(password))
	peppered := mac.Sum(nil)

	return argon2.IDKey(peppered, salt, h.params.Time, h.params.Memory, h.params.Threads, h.params.KeyLen)
}

// Compare recomputes the hash and compares it in constant time.
func (h *Hasher) Compare(password string, salt, hash []byte) bool {
	if len(hash) == 0 {
		return false
	}
	computed := h.Hash(password, salt)
	return subtle.ConstantTimeCompare(computed, hash) == 1
}
