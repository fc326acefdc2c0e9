package otpcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// DefaultLength is the number of digits in a generated code.
const DefaultLength = 6

// Engine generates and verifies short numeric one-time codes. It is stateless;
// the caller persists the hash and expiry. Hashes use bcrypt because the code
// space is small enough to brute-force against a fast digest.
type Engine struct {
	cost int
}

// NewEngine returns an Engine hashing at the given bcrypt cost.
// A zero cost selects bcrypt.DefaultCost.
func NewEngine(cost int) *Engine {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Engine{cost: cost}
}

// Generate returns a uniformly random numeric code of exactly length digits,
// zero-padded on the left.
func (e *Engine) Generate(length int) (string, error) {
	if length <= 0 || length > 18 {
		return "", fmt.Errorf("otp length must be between 1 and 18, got %d", length)
	}
	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n.Int64()), nil
}

// Hash returns the bcrypt hash of code.
func (e *Engine) Hash(code string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(code), e.cost)
	if err != nil {
		return "", fmt.Errorf("hash otp: %w", err)
	}
	return string(h), nil
}

// Verify reports whether code produced hash. Malformed hashes verify false.
func (e *Engine) Verify(code, hash string) bool {
	if code == "" || hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))
	return err == nil
}

// Valid reports whether a code expiring at expiresAt may still be used at now.
// Callers check this before Verify so expired codes cost no hashing work.
func Valid(expiresAt, now time.Time) bool {
	return now.Before(expiresAt)
}
