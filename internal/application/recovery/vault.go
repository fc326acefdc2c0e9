package recovery

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/go-establishment-auth/internal/domain"
)

// Alphabet omits characters that are easy to misread (0/O, 1/I).
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultCount  = 10
	DefaultLength = 10
)

// AccountStore is the subset of the user repository the vault writes through.
type AccountStore interface {
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
	UpdateRecoveryCodes(ctx context.Context, userID string, expected, next []string) error
}

// Hasher is the slow hash shared with one-time codes.
type Hasher interface {
	Hash(code string) (string, error)
	Verify(code, hash string) bool
}

type VaultDeps struct {
	Store  AccountStore
	Hasher Hasher
	Count  int
	Length int
}

// Vault issues and consumes single-use recovery codes.
type Vault struct {
	store  AccountStore
	hasher Hasher
	count  int
	length int
}

func NewVault(deps VaultDeps) *Vault {
	v := &Vault{store: deps.Store, hasher: deps.Hasher, count: deps.Count, length: deps.Length}
	if v.count <= 0 {
		v.count = DefaultCount
	}
	if v.length <= 0 {
		v.length = DefaultLength
	}
	return v
}

// Generate replaces the account's recovery codes with a fresh set and returns
// the plaintext codes. They are not retrievable afterwards.
func (v *Vault) Generate(ctx context.Context, accountID string) ([]string, error) {
	codes := make([]string, v.count)
	hashes := make([]string, v.count)
	for i := range codes {
		code, err := randomCode(v.length)
		if err != nil {
			return nil, err
		}
		h, err := v.hasher.Hash(code)
		if err != nil {
			return nil, err
		}
		codes[i] = code
		hashes[i] = h
	}
	if err := v.store.Update(ctx, accountID, map[string]interface{}{
		domain.FieldRecoveryCodeHashes: hashes,
	}); err != nil {
		return nil, domain.WithCause(domain.ErrStorageFailure, fmt.Errorf("store recovery codes: %w", err))
	}
	return codes, nil
}

// VerifyAndConsume checks code against the account's stored hashes. On a
// match the hash is removed and the shortened list is committed before true
// is returned. A failed commit is a StorageFailure, never true or false.
func (v *Vault) VerifyAndConsume(ctx context.Context, account *domain.User, code string) (bool, error) {
	code = Normalize(code)
	if code == "" || len(account.RecoveryCodeHashes) == 0 {
		return false, nil
	}
	stored := account.RecoveryCodeHashes
	for i, h := range stored {
		if !v.hasher.Verify(code, h) {
			continue
		}
		next := make([]string, 0, len(stored)-1)
		next = append(next, stored[:i]...)
		next = append(next, stored[i+1:]...)
		if err := v.store.UpdateRecoveryCodes(ctx, account.UserID, stored, next); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				err = fmt.Errorf("recovery codes changed concurrently: %w", err)
			}
			return false, domain.WithCause(domain.ErrStorageFailure, err)
		}
		account.RecoveryCodeHashes = next
		return true, nil
	}
	return false, nil
}

// Normalize uppercases a submitted code and strips separators users commonly
// type, so "abcd-efgh 23" matches "ABCDEFGH23".
func Normalize(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, strings.TrimSpace(code))
}

func randomCode(length int) (string, error) {
	n := big.NewInt(int64(len(Alphabet)))
	b := make([]byte, length)
	for i := range b {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("generate recovery code: %w", err)
		}
		b[i] = Alphabet[idx.Int64()]
	}
	return string(b), nil
}
