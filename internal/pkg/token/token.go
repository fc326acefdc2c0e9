package token

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewJTI returns a random (v4, crypto/rand backed) identifier for a refresh token.
// It is unrelated to the storage primary key so the two cannot be correlated.
func NewJTI() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate jti: %w", err)
	}
	return id.String(), nil
}

// Hash returns the hex SHA-256 of a signed token. Only this value is persisted.
func Hash(signed string) string {
	sum := sha256.Sum256([]byte(signed))
	return hex.EncodeToString(sum[:])
}
