package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for store-level error discrimination.
// Repositories wrap these so services can react without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// ErrorKind is the closed set of failures the auth core reports to callers.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidCredentials
	KindAccountInactive
	KindMethodUnavailable
	KindInvalidPre2FAToken
	KindInvalidTwoFactorCode
	KindInvalidTOTPCode
	KindInvalidRefreshToken
	KindEncryptionFailure
	KindStorageFailure
	KindTooManyAttempts
)

var kindNames = map[ErrorKind]string{
	KindUnknown:              "unknown",
	KindInvalidCredentials:   "invalid_credentials",
	KindAccountInactive:      "account_inactive",
	KindMethodUnavailable:    "method_unavailable",
	KindInvalidPre2FAToken:   "invalid_pre2fa_token",
	KindInvalidTwoFactorCode: "invalid_two_factor_code",
	KindInvalidTOTPCode:      "invalid_totp_code",
	KindInvalidRefreshToken:  "invalid_refresh_token",
	KindEncryptionFailure:    "encryption_failure",
	KindStorageFailure:       "storage_failure",
	KindTooManyAttempts:      "too_many_attempts",
}

func (k ErrorKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return kindNames[KindUnknown]
}

// Error is an auth failure of a given kind. Msg is safe to show to clients;
// Err is the internal cause and is only logged.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrInvalidCredentials)
// works regardless of message or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Kind sentinels. Use WithCause to attach an internal cause.
var (
	ErrInvalidCredentials   = &Error{Kind: KindInvalidCredentials, Msg: "invalid credentials"}
	ErrAccountInactive      = &Error{Kind: KindAccountInactive, Msg: "account is inactive"}
	ErrMethodUnavailable    = &Error{Kind: KindMethodUnavailable, Msg: "no verified 2FA method available"}
	ErrInvalidPre2FAToken   = &Error{Kind: KindInvalidPre2FAToken, Msg: "invalid or expired 2FA session"}
	ErrInvalidTwoFactorCode = &Error{Kind: KindInvalidTwoFactorCode, Msg: "invalid two-factor code"}
	ErrInvalidTOTPCode      = &Error{Kind: KindInvalidTOTPCode, Msg: "invalid TOTP code"}
	ErrInvalidRefreshToken  = &Error{Kind: KindInvalidRefreshToken, Msg: "invalid refresh token"}
	ErrEncryptionFailure    = &Error{Kind: KindEncryptionFailure, Msg: "could not protect secret"}
	ErrStorageFailure       = &Error{Kind: KindStorageFailure, Msg: "storage failure"}
	ErrTooManyAttempts      = &Error{Kind: KindTooManyAttempts, Msg: "too many attempts, try again later"}
)

// WithCause returns a copy of sentinel carrying cause.
func WithCause(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Msg: sentinel.Msg, Err: cause}
}

// WithMessage returns a copy of sentinel with a more specific client message.
func WithMessage(sentinel *Error, msg string) *Error {
	return &Error{Kind: sentinel.Kind, Msg: msg}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
