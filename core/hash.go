package core

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashScheme selects how new admin credentials are stored.
type HashScheme string

const (
	// SchemeLegacySHA256 stores hex(sha256(password + salt)). Compatible with
	// credentials written by the existing portal.
	SchemeLegacySHA256 HashScheme = "sha256"
	// SchemeBcrypt stores bcrypt(hex(sha256(password + salt))).
	SchemeBcrypt HashScheme = "bcrypt"
)

// adminSaltBytes is the amount of entropy in a generated salt (hex encoded to 32 chars).
const adminSaltBytes = 16

// Valid reports whether s is a supported scheme.
func (s HashScheme) Valid() bool {
	return s == SchemeLegacySHA256 || s == SchemeBcrypt
}

// HashAdminSecret computes the legacy admin credential digest: lowercase hex of
// SHA-256 over password concatenated with salt. The function is pure and
// always returns 64 characters.
func HashAdminSecret(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return hex.EncodeToString(sum[:])
}

// GenerateAdminSalt returns a fresh random salt.
func GenerateAdminSalt() (string, error) {
	b := make([]byte, adminSaltBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// encodeAdminSecret produces the stored hash for password and salt under scheme.
func encodeAdminSecret(scheme HashScheme, password, salt string) (string, error) {
	digest := HashAdminSecret(password, salt)
	switch scheme {
	case SchemeLegacySHA256:
		return digest, nil
	case SchemeBcrypt:
		return wrapDigest(digest)
	default:
		return "", fmt.Errorf("unsupported admin hash scheme: %s", scheme)
	}
}

func wrapDigest(digest string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(digest), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash admin secret: %w", err)
	}
	return string(hash), nil
}

// DetectHashScheme reports the scheme a stored hash was written with.
func DetectHashScheme(stored string) (HashScheme, bool) {
	switch {
	case strings.HasPrefix(stored, "$2"):
		return SchemeBcrypt, true
	case len(stored) == sha256.Size*2:
		if _, err := hex.DecodeString(stored); err == nil {
			return SchemeLegacySHA256, true
		}
	}
	return "", false
}

// matchAdminSecret checks password against a stored hash of either scheme.
func matchAdminSecret(stored, password, salt string) bool {
	scheme, ok := DetectHashScheme(stored)
	if !ok {
		return false
	}

	digest := HashAdminSecret(password, salt)
	switch scheme {
	case SchemeLegacySHA256:
		return subtle.ConstantTimeCompare([]byte(strings.ToLower(stored)), []byte(digest)) == 1
	case SchemeBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(digest)) == nil
	}
	return false
}

// UpgradeLegacyHash wraps a legacy digest in bcrypt. The result verifies
// against the same password and salt, so no plaintext is needed to migrate.
func UpgradeLegacyHash(stored string) (string, error) {
	scheme, ok := DetectHashScheme(stored)
	if !ok || scheme != SchemeLegacySHA256 {
		return "", fmt.Errorf("not a legacy admin hash")
	}
	return wrapDigest(strings.ToLower(stored))
}
