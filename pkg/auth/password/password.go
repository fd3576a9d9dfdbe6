// Package password derives and verifies salted scrypt hashes for local
// credentials.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	// SaltBytes is the length of a freshly generated salt.
	SaltBytes = 16

	// KeyBytes is the length of the derived hash.
	KeyBytes = 64

	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

// Credential is the persisted form of a hashed password.
type Credential struct {
	Salt string
	Hash string
}

// Hash derives a hash for password. When salt is nil a fresh random salt
// is generated.
func Hash(password string, salt []byte) (Credential, error) {
	if salt == nil {
		salt = make([]byte, SaltBytes)
		if _, err := rand.Read(salt); err != nil {
			return Credential{}, fmt.Errorf("generating salt: %w", err)
		}
	}

	key, err := derive(password, salt)
	if err != nil {
		return Credential{}, err
	}

	return Credential{
		Salt: hex.EncodeToString(salt),
		Hash: hex.EncodeToString(key),
	}, nil
}

// Verify reports whether password matches the stored salt and hash.
// Malformed inputs never match.
func Verify(password, saltHex, hashHex string) bool {
	salt, err := hex.DecodeString(saltHex)
	if err != nil || len(salt) == 0 {
		return false
	}

	expected, err := hex.DecodeString(hashHex)
	if err != nil || len(expected) != KeyBytes {
		return false
	}

	key, err := derive(password, salt)
	if err != nil {
		return false
	}

	return subtle.ConstantTimeCompare(key, expected) == 1
}

func derive(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, KeyBytes)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	return key, nil
}
