package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-establishment-auth/internal/domain"
	jwtinfra "github.com/go-establishment-auth/internal/infrastructure/jwt"
	"github.com/go-establishment-auth/internal/pkg/id"
	pkgtoken "github.com/go-establishment-auth/internal/pkg/token"
)

// RefreshTokenStore persists refresh token records keyed by token hash.
type RefreshTokenStore interface {
	Issue(ctx context.Context, t *domain.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	FindActiveByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	Revoke(ctx context.Context, t *domain.RefreshToken) error
	RevokeAll(ctx context.Context, accountID string) (int, error)
	Rotate(ctx context.Context, old, next *domain.RefreshToken) error
}

type UserStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
}

type TokenIssuer interface {
	SignAccess(accountID, displayName string) (string, error)
	SignRefresh(accountID, jti string) (string, error)
	VerifyRefresh(token string) (*jwtinfra.Claims, error)
	RefreshTTL() time.Duration
}

type ServiceDeps struct {
	RefreshTokens RefreshTokenStore
	Users         UserStore
	Tokens        TokenIssuer
	Now           func() time.Time
}

// Service issues, rotates and revokes refresh-token backed sessions.
type Service interface {
	IssuePair(ctx context.Context, u *domain.User, rc domain.RequestContext) (*domain.TokenPair, error)
	Rotate(ctx context.Context, refreshToken string, rc domain.RequestContext) (*domain.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) error
	RevokeAll(ctx context.Context, accountID string) (int, error)
}

type service struct {
	refreshTokens RefreshTokenStore
	users         UserStore
	tokens        TokenIssuer
	now           func() time.Time
}

func NewService(deps ServiceDeps) Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		refreshTokens: deps.RefreshTokens,
		users:         deps.Users,
		tokens:        deps.Tokens,
		now:           now,
	}
}

// IssuePair mints an access and refresh token and stores the refresh record.
func (s *service) IssuePair(ctx context.Context, u *domain.User, rc domain.RequestContext) (*domain.TokenPair, error) {
	pair, rec, err := s.mint(u, rc)
	if err != nil {
		return nil, err
	}
	if err := s.refreshTokens.Issue(ctx, rec); err != nil {
		return nil, domain.WithCause(domain.ErrStorageFailure, fmt.Errorf("issue refresh token: %w", err))
	}
	return pair, nil
}

// Rotate exchanges a refresh token for a new pair. Presenting a token that
// was already rotated or revoked revokes every session of the account.
func (s *service) Rotate(ctx context.Context, refreshToken string, rc domain.RequestContext) (*domain.TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, domain.ErrInvalidRefreshToken
	}

	rec, err := s.refreshTokens.GetByHash(ctx, pkgtoken.Hash(refreshToken))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidRefreshToken
		}
		return nil, domain.WithCause(domain.ErrStorageFailure, err)
	}
	if rec.AccountID != claims.AccountID() {
		return nil, domain.ErrInvalidRefreshToken
	}

	if rec.IsRevoked {
		s.revokeFamily(ctx, rec.AccountID)
		return nil, domain.ErrInvalidRefreshToken
	}

	if rec.IsExpired(s.now()) {
		if err := s.refreshTokens.Revoke(ctx, rec); err != nil {
			slog.Warn("failed to revoke expired refresh token", "account_id", rec.AccountID, "err", err)
		}
		return nil, domain.ErrInvalidRefreshToken
	}

	u, err := s.users.Get(ctx, rec.AccountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidRefreshToken
		}
		return nil, domain.WithCause(domain.ErrStorageFailure, err)
	}
	if !u.IsActive() {
		return nil, domain.ErrInvalidRefreshToken
	}

	pair, next, err := s.mint(u, rc)
	if err != nil {
		return nil, err
	}
	if err := s.refreshTokens.Rotate(ctx, rec, next); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Another request revoked the record between our read and write.
			s.revokeFamily(ctx, rec.AccountID)
			return nil, domain.ErrInvalidRefreshToken
		}
		return nil, domain.WithCause(domain.ErrStorageFailure, fmt.Errorf("rotate refresh token: %w", err))
	}
	return pair, nil
}

// Revoke marks the token's record revoked if it is still active. Unknown or
// already revoked tokens are not an error.
func (s *service) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	rec, err := s.refreshTokens.FindActiveByHash(ctx, pkgtoken.Hash(refreshToken))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	return s.refreshTokens.Revoke(ctx, rec)
}

func (s *service) RevokeAll(ctx context.Context, accountID string) (int, error) {
	return s.refreshTokens.RevokeAll(ctx, accountID)
}

func (s *service) revokeFamily(ctx context.Context, accountID string) {
	n, err := s.refreshTokens.RevokeAll(ctx, accountID)
	if err != nil {
		slog.Error("refresh token reuse detected; revoking sessions failed", "account_id", accountID, "revoked", n, "err", err)
		return
	}
	slog.Warn("refresh token reuse detected; all sessions revoked", "account_id", accountID, "revoked", n)
}

func (s *service) mint(u *domain.User, rc domain.RequestContext) (*domain.TokenPair, *domain.RefreshToken, error) {
	access, err := s.tokens.SignAccess(u.UserID, u.DisplayName())
	if err != nil {
		return nil, nil, fmt.Errorf("sign access token: %w", err)
	}
	jti, err := pkgtoken.NewJTI()
	if err != nil {
		return nil, nil, err
	}
	refresh, err := s.tokens.SignRefresh(u.UserID, jti)
	if err != nil {
		return nil, nil, fmt.Errorf("sign refresh token: %w", err)
	}
	now := s.now().UTC()
	rec := &domain.RefreshToken{
		TokenHash: pkgtoken.Hash(refresh),
		ID:        id.New(),
		AccountID: u.UserID,
		UserAgent: rc.UserAgent,
		IPAddress: rc.IPAddress,
		ExpiresAt: now.Add(s.tokens.RefreshTTL()),
		CreatedAt: now,
	}
	return &domain.TokenPair{AccessToken: access, RefreshToken: refresh}, rec, nil
}
