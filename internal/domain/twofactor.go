package domain

// TwoFactorMethod names a second-factor channel.
type TwoFactorMethod string

const (
	MethodEmail TwoFactorMethod = "email"
	MethodSMS   TwoFactorMethod = "sms"
	MethodTOTP  TwoFactorMethod = "totp"
)

// Valid reports whether m is a known method.
func (m TwoFactorMethod) Valid() bool {
	switch m {
	case MethodEmail, MethodSMS, MethodTOTP:
		return true
	}
	return false
}

// OutOfBand reports whether codes for m are delivered by the platform.
func (m TwoFactorMethod) OutOfBand() bool {
	return m == MethodEmail || m == MethodSMS
}
