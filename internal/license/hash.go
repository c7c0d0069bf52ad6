package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// KeyIDLength is the number of hash characters shown as a license's display id.
	KeyIDLength = 12

	keyAlphabet   = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	keyGroups     = 4
	keyGroupWidth = 4
)

// HashKey returns the stored identity of a plaintext license key: the
// hex-encoded SHA-256 digest. The empty string hashes like any other input.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// ShortID truncates a key hash to its display identifier.
func ShortID(keyHash string) string {
	if len(keyHash) <= KeyIDLength {
		return keyHash
	}
	return keyHash[:KeyIDLength]
}

// GenerateKey returns a random key of the form XXXX-XXXX-XXXX-XXXX drawn from
// an alphabet without ambiguous characters.
func GenerateKey() (string, error) {
	buf := make([]byte, keyGroups*keyGroupWidth)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	var sb strings.Builder
	for i, b := range buf {
		if i > 0 && i%keyGroupWidth == 0 {
			sb.WriteByte('-')
		}
		// 256 is a multiple of len(keyAlphabet), so the modulo is unbiased.
		sb.WriteByte(keyAlphabet[int(b)%len(keyAlphabet)])
	}
	return sb.String(), nil
}
