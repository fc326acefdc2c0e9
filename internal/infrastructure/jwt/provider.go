package jwtinfra

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-establishment-auth/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

// Token purposes. A token minted for one purpose never verifies as another.
const (
	PurposeAccess  = "access"
	PurposePre2FA  = "pre-2fa"
	PurposeRefresh = "refresh"
)

// ErrInvalidToken is returned for every verification failure: bad signature,
// expiry, wrong purpose or missing claims.
var ErrInvalidToken = errors.New("invalid token")

// Claims holds the JWT payload fields. Subject carries the account id and ID
// carries the refresh jti.
type Claims struct {
	Name    string `json:"name,omitempty"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// AccountID returns the subject claim.
func (c *Claims) AccountID() string { return c.Subject }

// Provider signs and verifies RS256 JWTs.
type Provider struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	accessTTL  time.Duration
	pre2faTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewProvider(cfg *config.Config) (*Provider, error) {
	privBytes, err := os.ReadFile(cfg.JWTPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	privKey, err := jwt.ParseRSAPrivateKeyFromPEM(privBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	pubBytes, err := os.ReadFile(cfg.JWTPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	if !privKey.PublicKey.Equal(pubKey) {
		return nil, errors.New("public key does not match private key")
	}
	return NewProviderFromKey(privKey, cfg), nil
}

// NewProviderFromKey builds a Provider around an already parsed key pair.
func NewProviderFromKey(key *rsa.PrivateKey, cfg *config.Config) *Provider {
	return &Provider{
		privateKey: key,
		publicKey:  &key.PublicKey,
		accessTTL:  cfg.AccessTokenTTL,
		pre2faTTL:  cfg.Pre2FATokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		now:        time.Now,
	}
}

// RefreshTTL is the lifetime given to refresh tokens; the session service
// stores the matching expiry on the record.
func (p *Provider) RefreshTTL() time.Duration { return p.refreshTTL }

// SignAccess mints a short-lived access token carrying the display name.
func (p *Provider) SignAccess(accountID, displayName string) (string, error) {
	return p.sign(Claims{Name: displayName, Purpose: PurposeAccess}, accountID, "", p.accessTTL)
}

// SignPre2FA mints the token that authorises the second-factor step only.
func (p *Provider) SignPre2FA(accountID string) (string, error) {
	return p.sign(Claims{Purpose: PurposePre2FA}, accountID, "", p.pre2faTTL)
}

// SignRefresh mints a refresh token. jti must be non-empty so that two tokens
// issued in the same second still hash differently.
func (p *Provider) SignRefresh(accountID, jti string) (string, error) {
	if jti == "" {
		return "", errors.New("refresh token requires a jti")
	}
	return p.sign(Claims{Purpose: PurposeRefresh}, accountID, jti, p.refreshTTL)
}

func (p *Provider) sign(c Claims, subject, jti string, ttl time.Duration) (string, error) {
	now := p.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	return token.SignedString(p.privateKey)
}

func (p *Provider) VerifyAccess(tokenStr string) (*Claims, error) {
	return p.verify(tokenStr, PurposeAccess)
}

func (p *Provider) VerifyPre2FA(tokenStr string) (*Claims, error) {
	return p.verify(tokenStr, PurposePre2FA)
}

// VerifyRefresh additionally requires the jti claim.
func (p *Provider) VerifyRefresh(tokenStr string) (*Claims, error) {
	c, err := p.verify(tokenStr, PurposeRefresh)
	if err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, ErrInvalidToken
	}
	return c, nil
}

func (p *Provider) verify(tokenStr, purpose string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return p.publicKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Purpose != purpose || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
