package domain

import "time"

// User is the account record owned by the account store. The auth core reads it
// and patches the two-factor fields through explicit updates.
type User struct {
	UserID         string     `json:"id" dynamodbav:"user_id"`
	Username       string     `json:"username" dynamodbav:"username"`
	Email          string     `json:"email" dynamodbav:"email"`
	Phone          *string    `json:"phone" dynamodbav:"phone"`
	PasswordHash   string     `json:"-" dynamodbav:"password_hash"`
	FirstName      string     `json:"first_name" dynamodbav:"first_name"`
	LastName       string     `json:"last_name" dynamodbav:"last_name"`
	EmailConfirmed bool       `json:"email_confirmed" dynamodbav:"email_confirmed"`
	PhoneConfirmed bool       `json:"phone_confirmed" dynamodbav:"phone_confirmed"`
	Enable         int        `json:"enable" dynamodbav:"enable"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty" dynamodbav:"deleted_at"`
	CreatedAt      time.Time  `json:"created" dynamodbav:"created_at"`
	UpdatedAt      time.Time  `json:"updated" dynamodbav:"updated_at"`

	TwoFactorConfig
}

// TwoFactorConfig holds the second-factor state embedded in the account item.
// OTPCodeHash and OTPExpiresAt are always written and removed together.
type TwoFactorConfig struct {
	TOTPSecretEncrypted *string    `json:"-" dynamodbav:"totp_secret_encrypted,omitempty"`
	OTPMethod           *string    `json:"-" dynamodbav:"otp_method,omitempty"`
	OTPCodeHash         *string    `json:"-" dynamodbav:"otp_code_hash,omitempty"`
	OTPExpiresAt        *time.Time `json:"-" dynamodbav:"otp_expires_at,omitempty"`
	RecoveryCodeHashes  []string   `json:"-" dynamodbav:"recovery_code_hashes,omitempty"`
}

// IsActive reports whether the account may authenticate.
func (u *User) IsActive() bool {
	return u.Enable == 1 && u.DeletedAt == nil
}

// HasTOTP reports whether an (encrypted) TOTP secret is stored.
func (u *User) HasTOTP() bool {
	return u.TOTPSecretEncrypted != nil && *u.TOTPSecretEncrypted != ""
}

// HasPendingOTP reports whether an out-of-band code is awaiting verification.
func (u *User) HasPendingOTP() bool {
	return u.OTPCodeHash != nil && u.OTPExpiresAt != nil
}

// DisplayName is the name embedded in access tokens.
func (u *User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}

// Attribute names of the two-factor fields, used as keys of account updates.
// A nil value in an update removes the attribute.
const (
	FieldTOTPSecretEncrypted = "totp_secret_encrypted"
	FieldOTPMethod           = "otp_method"
	FieldOTPCodeHash         = "otp_code_hash"
	FieldOTPExpiresAt        = "otp_expires_at"
	FieldRecoveryCodeHashes  = "recovery_code_hashes"
)
