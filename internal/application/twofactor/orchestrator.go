package twofactor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-establishment-auth/internal/domain"
	"github.com/go-establishment-auth/internal/pkg/otpcode"
)

// AccountStore is the subset of the user repository the orchestrator writes through.
type AccountStore interface {
	Update(ctx context.Context, userID string, updates map[string]interface{}) error
}

type Notifier interface {
	SendCode(ctx context.Context, method domain.TwoFactorMethod, destination, code string) error
}

type Decrypter interface {
	Decrypt(envelope string) (string, error)
}

type TOTPVerifier interface {
	Verify(secret, code string) bool
}

type OTPEngine interface {
	Generate(length int) (string, error)
	Hash(code string) (string, error)
	Verify(code, hash string) bool
}

type RecoveryVault interface {
	VerifyAndConsume(ctx context.Context, account *domain.User, code string) (bool, error)
}

type OrchestratorDeps struct {
	Store         AccountStore
	Notifier      Notifier
	Cipher        Decrypter
	TOTP          TOTPVerifier
	OTP           OTPEngine
	Recovery      RecoveryVault
	OTPLength     int
	OTPTTL        time.Duration
	NotifyTimeout time.Duration
	Now           func() time.Time
}

// Orchestrator decides which second factors an account can use and verifies
// submitted codes against them.
type Orchestrator struct {
	store         AccountStore
	notifier      Notifier
	cipher        Decrypter
	totp          TOTPVerifier
	otp           OTPEngine
	recovery      RecoveryVault
	otpLength     int
	otpTTL        time.Duration
	notifyTimeout time.Duration
	now           func() time.Time
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	o := &Orchestrator{
		store:         deps.Store,
		notifier:      deps.Notifier,
		cipher:        deps.Cipher,
		totp:          deps.TOTP,
		otp:           deps.OTP,
		recovery:      deps.Recovery,
		otpLength:     deps.OTPLength,
		otpTTL:        deps.OTPTTL,
		notifyTimeout: deps.NotifyTimeout,
		now:           deps.Now,
	}
	if o.otpLength <= 0 {
		o.otpLength = otpcode.DefaultLength
	}
	if o.otpTTL <= 0 {
		o.otpTTL = 10 * time.Minute
	}
	if o.notifyTimeout <= 0 {
		o.notifyTimeout = 5 * time.Second
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// AvailableMethods lists the usable methods in a fixed order: email, sms, totp.
func (o *Orchestrator) AvailableMethods(u *domain.User) []domain.TwoFactorMethod {
	var methods []domain.TwoFactorMethod
	if u.EmailConfirmed && u.Email != "" {
		methods = append(methods, domain.MethodEmail)
	}
	if u.PhoneConfirmed && u.Phone != nil && *u.Phone != "" {
		methods = append(methods, domain.MethodSMS)
	}
	if u.HasTOTP() {
		methods = append(methods, domain.MethodTOTP)
	}
	return methods
}

func (o *Orchestrator) usable(u *domain.User, m domain.TwoFactorMethod) bool {
	for _, am := range o.AvailableMethods(u) {
		if am == m {
			return true
		}
	}
	return false
}

// SendCode stores a fresh one-time code for an out-of-band method and
// dispatches it. Delivery failures are logged and not returned: the stored
// code is authoritative and the client can ask again.
func (o *Orchestrator) SendCode(ctx context.Context, u *domain.User, method domain.TwoFactorMethod) error {
	if !method.OutOfBand() || !o.usable(u, method) {
		return domain.WithMessage(domain.ErrMethodUnavailable, fmt.Sprintf("method %q is not available", method))
	}

	code, err := o.otp.Generate(o.otpLength)
	if err != nil {
		return err
	}
	hash, err := o.otp.Hash(code)
	if err != nil {
		return err
	}
	expiresAt := o.now().UTC().Add(o.otpTTL)
	m := string(method)
	if err := o.store.Update(ctx, u.UserID, map[string]interface{}{
		domain.FieldOTPMethod:    m,
		domain.FieldOTPCodeHash:  hash,
		domain.FieldOTPExpiresAt: expiresAt,
	}); err != nil {
		return domain.WithCause(domain.ErrStorageFailure, fmt.Errorf("store otp: %w", err))
	}
	u.OTPMethod, u.OTPCodeHash, u.OTPExpiresAt = &m, &hash, &expiresAt

	destination := u.Email
	if method == domain.MethodSMS {
		destination = *u.Phone
	}
	sendCtx, cancel := context.WithTimeout(ctx, o.notifyTimeout)
	defer cancel()
	if err := o.notifier.SendCode(sendCtx, method, destination, code); err != nil {
		slog.Warn("failed to deliver two-factor code", "user_id", u.UserID, "method", method, "err", err)
	}
	return nil
}

// Verify tries TOTP, then the pending one-time code, then recovery codes, and
// stops at the first success. Pending one-time code state is cleared after
// every attempt whatever the outcome.
func (o *Orchestrator) Verify(ctx context.Context, u *domain.User, code string) error {
	code = strings.TrimSpace(code)

	ok := code != "" && (o.verifyTOTP(u, code) || o.verifyOTP(u, code))
	var recoveryErr error
	if !ok && code != "" {
		ok, recoveryErr = o.recovery.VerifyAndConsume(ctx, u, code)
	}

	if err := o.clearPendingOTP(ctx, u); err != nil {
		return err
	}
	if recoveryErr != nil {
		return recoveryErr
	}
	if !ok {
		return domain.ErrInvalidTwoFactorCode
	}
	return nil
}

func (o *Orchestrator) verifyTOTP(u *domain.User, code string) bool {
	if !u.HasTOTP() {
		return false
	}
	secret, err := o.cipher.Decrypt(*u.TOTPSecretEncrypted)
	if err != nil {
		// An undecryptable secret makes TOTP unavailable for this attempt.
		slog.Warn("stored TOTP secret could not be decrypted", "user_id", u.UserID, "err", err)
		return false
	}
	return o.totp.Verify(secret, code)
}

func (o *Orchestrator) verifyOTP(u *domain.User, code string) bool {
	if !u.HasPendingOTP() {
		return false
	}
	if !otpcode.Valid(*u.OTPExpiresAt, o.now()) {
		return false
	}
	return o.otp.Verify(code, *u.OTPCodeHash)
}

// clearPendingOTP removes the one-time code fields. A stored "totp" method
// marker is left alone since it does not describe a pending code.
func (o *Orchestrator) clearPendingOTP(ctx context.Context, u *domain.User) error {
	outOfBandMarker := u.OTPMethod != nil && domain.TwoFactorMethod(*u.OTPMethod).OutOfBand()
	if u.OTPCodeHash == nil && u.OTPExpiresAt == nil && !outOfBandMarker {
		return nil
	}
	updates := map[string]interface{}{
		domain.FieldOTPCodeHash:  nil,
		domain.FieldOTPExpiresAt: nil,
	}
	// A pending email or sms code temporarily replaces the totp marker.
	var restored *string
	if outOfBandMarker {
		if u.HasTOTP() {
			m := string(domain.MethodTOTP)
			restored = &m
			updates[domain.FieldOTPMethod] = m
		} else {
			updates[domain.FieldOTPMethod] = nil
		}
	}
	if err := o.store.Update(ctx, u.UserID, updates); err != nil {
		return domain.WithCause(domain.ErrStorageFailure, fmt.Errorf("clear otp: %w", err))
	}
	u.OTPCodeHash, u.OTPExpiresAt = nil, nil
	if outOfBandMarker {
		u.OTPMethod = restored
	}
	return nil
}
