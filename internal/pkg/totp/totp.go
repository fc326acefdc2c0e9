package totp

import (
	"bytes"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	pqtotp "github.com/pquerna/otp/totp"
)

const (
	secretBytes = 20
	period      = 30
	skew        = 1
	qrSize      = 256
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

var validateOpts = pqtotp.ValidateOpts{
	Period:    period,
	Skew:      skew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// Engine wraps RFC 6238 TOTP: 30 second steps, six digits, SHA-1, one step of
// clock skew either side.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an Engine using the wall clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// GenerateSecret returns a fresh base32 (unpadded) secret.
func (e *Engine) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return secretEncoding.EncodeToString(raw), nil
}

// ProvisioningURI returns the otpauth:// URI authenticator apps consume.
func (e *Engine) ProvisioningURI(secret, accountLabel, issuerLabel string) (string, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	key, err := pqtotp.Generate(pqtotp.GenerateOpts{
		Issuer:      issuerLabel,
		AccountName: accountLabel,
		Period:      period,
		Secret:      raw,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("build provisioning uri: %w", err)
	}
	return key.URL(), nil
}

// QRCode renders uri as a PNG data URI for onboarding screens.
func (e *Engine) QRCode(uri string) (string, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return "", fmt.Errorf("parse provisioning uri: %w", err)
	}
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Verify checks code against secret at the current time.
func (e *Engine) Verify(secret, code string) bool {
	return e.VerifyAt(secret, code, e.now())
}

// VerifyAt checks code against secret at t, allowing one step of skew.
// A malformed secret or code never verifies.
func (e *Engine) VerifyAt(secret, code string, t time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != int(otp.DigitsSix) {
		return false
	}
	ok, err := pqtotp.ValidateCustom(code, secret, t.UTC(), validateOpts)
	return err == nil && ok
}

// CodeAt returns the code for secret at t. Used by enrollment tooling and tests.
func (e *Engine) CodeAt(secret string, t time.Time) (string, error) {
	return pqtotp.GenerateCodeCustom(secret, t.UTC(), validateOpts)
}

func decodeSecret(secret string) ([]byte, error) {
	raw, err := secretEncoding.DecodeString(strings.ToUpper(strings.TrimRight(secret, "=")))
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("invalid totp secret")
	}
	return raw, nil
}
