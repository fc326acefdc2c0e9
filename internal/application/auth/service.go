package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-establishment-auth/internal/domain"
	jwtinfra "github.com/go-establishment-auth/internal/infrastructure/jwt"
	redisinfra "github.com/go-establishment-auth/internal/infrastructure/redis"
	"golang.org/x/crypto/bcrypt"
)

// --- collaborators ---

type UserStore interface {
	Get(ctx context.Context, userID string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
}

type TwoFactor interface {
	AvailableMethods(u *domain.User) []domain.TwoFactorMethod
	SendCode(ctx context.Context, u *domain.User, method domain.TwoFactorMethod) error
	Verify(ctx context.Context, u *domain.User, code string) error
}

type Sessions interface {
	IssuePair(ctx context.Context, u *domain.User, rc domain.RequestContext) (*domain.TokenPair, error)
	Rotate(ctx context.Context, refreshToken string, rc domain.RequestContext) (*domain.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) error
}

type TokenIssuer interface {
	SignPre2FA(accountID string) (string, error)
	VerifyPre2FA(token string) (*jwtinfra.Claims, error)
}

type TOTP interface {
	GenerateSecret() (string, error)
	ProvisioningURI(secret, accountLabel, issuerLabel string) (string, error)
	QRCode(uri string) (string, error)
	Verify(secret, code string) bool
}

type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

type RecoveryCodes interface {
	Generate(ctx context.Context, accountID string) ([]string, error)
}

// AttemptLimiter throttles second-factor verifications per account. Acquire
// reserves one attempt atomically; Reset clears the count after a success.
type AttemptLimiter interface {
	Acquire(ctx context.Context, accountID string) error
	Reset(ctx context.Context, accountID string) error
}

// ServiceDeps holds the collaborators of the auth service. Limiter may be nil.
type ServiceDeps struct {
	Users      UserStore
	TwoFactor  TwoFactor
	Sessions   Sessions
	Tokens     TokenIssuer
	TOTP       TOTP
	Cipher     Encrypter
	Recovery   RecoveryCodes
	Limiter    AttemptLimiter
	TOTPIssuer string
}

// --- results ---

// Challenge is returned by a successful password check.
type Challenge struct {
	Methods     []domain.TwoFactorMethod `json:"methods"`
	Pre2FAToken string                   `json:"pre_2fa_token"`
}

// TotpSetup carries an authenticator secret that is not persisted yet.
type TotpSetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
}

type Service interface {
	Login(ctx context.Context, identifier, password string, rc domain.RequestContext) (*Challenge, error)
	SendTwoFactorCode(ctx context.Context, pre2faToken string, method domain.TwoFactorMethod) error
	VerifyTwoFactorCode(ctx context.Context, pre2faToken, code string, rc domain.RequestContext) (*domain.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string, rc domain.RequestContext) (*domain.TokenPair, error)
	Logout(ctx context.Context, refreshToken string)
	RequestTotpSetup(ctx context.Context, accountID string) (*TotpSetup, error)
	EnableTotp(ctx context.Context, accountID, password, secret, code string) ([]string, error)
	DisableTotp(ctx context.Context, accountID, password string) error
	RegenerateRecoveryCodes(ctx context.Context, accountID, password string) ([]string, error)
}

type service struct {
	users      UserStore
	twoFactor  TwoFactor
	sessions   Sessions
	tokens     TokenIssuer
	totp       TOTP
	cipher     Encrypter
	recovery   RecoveryCodes
	limiter    AttemptLimiter
	totpIssuer string
}

func NewService(deps ServiceDeps) Service {
	return &service{
		users:      deps.Users,
		twoFactor:  deps.TwoFactor,
		sessions:   deps.Sessions,
		tokens:     deps.Tokens,
		totp:       deps.TOTP,
		cipher:     deps.Cipher,
		recovery:   deps.Recovery,
		limiter:    deps.Limiter,
		totpIssuer: deps.TOTPIssuer,
	}
}

// --- login flow ---

func (s *service) Login(ctx context.Context, identifier, password string, _ domain.RequestContext) (*Challenge, error) {
	u, err := s.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Burn comparable time so unknown identities are not distinguishable.
			_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
			return nil, domain.ErrInvalidCredentials
		}
		return nil, domain.WithCause(domain.ErrStorageFailure, err)
	}
	if !checkPassword(u, password) {
		return nil, domain.ErrInvalidCredentials
	}
	if !u.IsActive() {
		return nil, domain.ErrAccountInactive
	}

	methods := s.twoFactor.AvailableMethods(u)
	if len(methods) == 0 {
		slog.Warn("login blocked: no verified two-factor method", "user_id", u.UserID)
		return nil, domain.ErrMethodUnavailable
	}
	tok, err := s.tokens.SignPre2FA(u.UserID)
	if err != nil {
		return nil, fmt.Errorf("sign pre-2fa token: %w", err)
	}
	return &Challenge{Methods: methods, Pre2FAToken: tok}, nil
}

func (s *service) SendTwoFactorCode(ctx context.Context, pre2faToken string, method domain.TwoFactorMethod) error {
	u, err := s.challengedAccount(ctx, pre2faToken)
	if err != nil {
		return err
	}
	return s.twoFactor.SendCode(ctx, u, method)
}

func (s *service) VerifyTwoFactorCode(ctx context.Context, pre2faToken, code string, rc domain.RequestContext) (*domain.TokenPair, error) {
	u, err := s.challengedAccount(ctx, pre2faToken)
	if err != nil {
		return nil, err
	}
	if err := s.acquireAttempt(ctx, u.UserID); err != nil {
		return nil, err
	}

	if err := s.twoFactor.Verify(ctx, u, code); err != nil {
		return nil, err
	}
	s.resetAttempts(ctx, u.UserID)
	return s.sessions.IssuePair(ctx, u, rc)
}

func (s *service) Refresh(ctx context.Context, refreshToken string, rc domain.RequestContext) (*domain.TokenPair, error) {
	return s.sessions.Rotate(ctx, refreshToken, rc)
}

// Logout never fails from the caller's point of view.
func (s *service) Logout(ctx context.Context, refreshToken string) {
	if err := s.sessions.Revoke(ctx, refreshToken); err != nil {
		slog.Warn("logout: could not revoke refresh token", "err", err)
	}
}

// --- TOTP management ---

func (s *service) RequestTotpSetup(ctx context.Context, accountID string) (*TotpSetup, error) {
	u, err := s.users.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	label := u.Email
	if label == "" {
		label = u.Username
	}
	uri, err := s.totp.ProvisioningURI(secret, label, s.totpIssuer)
	if err != nil {
		return nil, err
	}
	qr, err := s.totp.QRCode(uri)
	if err != nil {
		return nil, err
	}
	return &TotpSetup{Secret: secret, ProvisioningURI: uri, QRCode: qr}, nil
}

// EnableTotp persists secret once the caller proves possession of it, then
// issues a fresh set of recovery codes.
func (s *service) EnableTotp(ctx context.Context, accountID, password, secret, code string) ([]string, error) {
	u, err := s.users.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !checkPassword(u, password) {
		return nil, domain.ErrInvalidCredentials
	}
	if !s.totp.Verify(secret, code) {
		return nil, domain.ErrInvalidTOTPCode
	}
	envelope, err := s.cipher.Encrypt(secret)
	if err != nil {
		return nil, domain.WithCause(domain.ErrEncryptionFailure, err)
	}
	if err := s.users.Update(ctx, accountID, map[string]interface{}{
		domain.FieldTOTPSecretEncrypted: envelope,
		domain.FieldOTPMethod:           string(domain.MethodTOTP),
		domain.FieldOTPCodeHash:         nil,
		domain.FieldOTPExpiresAt:        nil,
	}); err != nil {
		return nil, domain.WithCause(domain.ErrStorageFailure, fmt.Errorf("store totp secret: %w", err))
	}

	codes, err := s.recovery.Generate(ctx, accountID)
	if err != nil {
		slog.Error("totp enabled but recovery codes were not generated", "user_id", accountID, "err", err)
		return nil, err
	}
	return codes, nil
}

// DisableTotp removes the secret. Email and phone confirmation flags are left as they are.
func (s *service) DisableTotp(ctx context.Context, accountID, password string) error {
	u, err := s.users.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if !checkPassword(u, password) {
		return domain.ErrInvalidCredentials
	}
	updates := map[string]interface{}{domain.FieldTOTPSecretEncrypted: nil}
	if u.OTPMethod != nil && domain.TwoFactorMethod(*u.OTPMethod) == domain.MethodTOTP {
		updates[domain.FieldOTPMethod] = nil
	}
	if err := s.users.Update(ctx, accountID, updates); err != nil {
		return domain.WithCause(domain.ErrStorageFailure, fmt.Errorf("clear totp secret: %w", err))
	}
	return nil
}

// RegenerateRecoveryCodes replaces all recovery codes of an account that has TOTP enabled.
func (s *service) RegenerateRecoveryCodes(ctx context.Context, accountID, password string) ([]string, error) {
	u, err := s.users.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !checkPassword(u, password) {
		return nil, domain.ErrInvalidCredentials
	}
	if !u.HasTOTP() {
		return nil, domain.WithMessage(domain.ErrMethodUnavailable, "recovery codes require TOTP to be enabled")
	}
	return s.recovery.Generate(ctx, accountID)
}

// --- helpers ---

// lookup resolves identifier as a username first, then as an email.
func (s *service) lookup(ctx context.Context, identifier string) (*domain.User, error) {
	if identifier == "" {
		return nil, domain.ErrNotFound
	}
	u, err := s.users.GetByUsername(ctx, identifier)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return s.users.GetByEmail(ctx, identifier)
}

// challengedAccount resolves the account behind a pre-2FA token.
func (s *service) challengedAccount(ctx context.Context, pre2faToken string) (*domain.User, error) {
	claims, err := s.tokens.VerifyPre2FA(pre2faToken)
	if err != nil {
		return nil, domain.ErrInvalidPre2FAToken
	}
	u, err := s.users.Get(ctx, claims.AccountID())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrInvalidPre2FAToken
		}
		return nil, domain.WithCause(domain.ErrStorageFailure, err)
	}
	if !u.IsActive() {
		return nil, domain.ErrAccountInactive
	}
	return u, nil
}

// acquireAttempt fails open when the limiter backend is unreachable.
func (s *service) acquireAttempt(ctx context.Context, accountID string) error {
	if s.limiter == nil {
		return nil
	}
	err := s.limiter.Acquire(ctx, accountID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redisinfra.ErrLocked):
		return domain.ErrTooManyAttempts
	default:
		slog.Warn("attempt limiter unavailable", "user_id", accountID, "err", err)
		return nil
	}
}

func (s *service) resetAttempts(ctx context.Context, accountID string) {
	if s.limiter == nil {
		return
	}
	if err := s.limiter.Reset(ctx, accountID); err != nil {
		slog.Warn("could not reset two-factor attempts", "user_id", accountID, "err", err)
	}
}

func checkPassword(u *domain.User, password string) bool {
	if u.PasswordHash == "" || password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

var (
	dummyOnce sync.Once
	dummy     []byte
)

func dummyHash() []byte {
	dummyOnce.Do(func() {
		dummy, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	})
	return dummy
}
